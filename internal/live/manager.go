package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/broadcast"
	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
)

var (
	ErrRecordingActive    = errors.New("project already has an active recording")
	ErrRecordingNotFound  = errors.New("recording not found")
	ErrRecordingNotActive = errors.New("recording is not active")
	ErrInvalidEvent       = errors.New("invalid replay event")
	ErrInvalidDelay       = errors.New("delay is not one of the allowed values")
	ErrFlushFailed        = errors.New("recording flush failed, retry stop or abandon")
)

type State string

const (
	StateActive    State = "active"
	StateStopping  State = "stopping"
	StateFinalized State = "finalized"
)

// RecordingSink persists a finished recording.
type RecordingSink interface {
	SaveRecording(ctx context.Context, rec models.RecordingArchive) error
}

type Info struct {
	RecordingID  string               `json:"recording_id"`
	ProjectID    string               `json:"project_id"`
	StartTime    int64                `json:"start_time"`
	State        State                `json:"state"`
	IsActive     bool                 `json:"is_active"`
	Events       int                  `json:"events"`
	Viewers      int                  `json:"viewers"`
	Participants []models.Participant `json:"participants"`
}

type recording struct {
	id        string
	projectID string
	startTime time.Time

	mu           sync.RWMutex
	state        State
	log          []models.LogEntry
	participants map[string]*models.Participant
	lastActivity time.Time
	finalizedAt  time.Time

	// serializes flush attempts
	flushMu sync.Mutex
}

// snapshot returns the log as it is now. The slice is capacity-clipped so
// later appends never show through.
func (r *recording) snapshot() ([]models.LogEntry, State) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.log[:len(r.log):len(r.log)], r.state
}

// Manager owns every live recording and its master log. Appends to one
// recording are serialized by that recording's lock.
type Manager struct {
	mu         sync.RWMutex
	recordings map[string]*recording
	active     map[string]string // project id -> recording id

	hub  *broadcast.Hub
	sink RecordingSink
	cfg  config.LiveConfig

	now func() time.Time
}

func NewManager(hub *broadcast.Hub, sink RecordingSink, cfg config.LiveConfig) *Manager {
	if hub == nil {
		hub = broadcast.NewHub()
	}
	return &Manager{
		recordings: make(map[string]*recording),
		active:     make(map[string]string),
		hub:        hub,
		sink:       sink,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Start creates an empty recording for projectID.
func (m *Manager) Start(projectID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.active[projectID]; ok {
		return "", fmt.Errorf("%w: %s", ErrRecordingActive, id)
	}

	now := m.now()
	r := &recording{
		id:           uuid.New().String(),
		projectID:    projectID,
		startTime:    now,
		state:        StateActive,
		participants: make(map[string]*models.Participant),
		lastActivity: now,
	}
	m.recordings[r.id] = r
	m.active[projectID] = r.id
	metrics.LiveRecordingsActive.Inc()

	log.Info().Str("project_id", projectID).Str("recording_id", r.id).Msg("Live recording started")
	return r.id, nil
}

// Append adds ev to the master log in arrival order and returns its Seq.
func (m *Manager) Append(recordingID string, ev models.ReplayEvent, sourceUserID string, metadata map[string]string) (uint64, error) {
	if ev.Timestamp <= 0 || !ev.Kind.Valid() {
		metrics.LiveAppendsRejected.WithLabelValues("invalid").Inc()
		return 0, ErrInvalidEvent
	}
	r, err := m.get(recordingID)
	if err != nil {
		metrics.LiveAppendsRejected.WithLabelValues("not_found").Inc()
		return 0, err
	}

	now := m.now()
	r.mu.Lock()
	if r.state != StateActive {
		r.mu.Unlock()
		metrics.LiveAppendsRejected.WithLabelValues("not_active").Inc()
		return 0, ErrRecordingNotActive
	}
	seq := uint64(len(r.log)) + 1
	r.log = append(r.log, models.LogEntry{
		Seq:          seq,
		SourceUserID: sourceUserID,
		Event:        ev,
		ReceivedAt:   now.UnixMilli(),
	})

	p, ok := r.participants[sourceUserID]
	if !ok {
		p = &models.Participant{UserID: sourceUserID, FirstSeen: now.UnixMilli()}
		r.participants[sourceUserID] = p
	}
	if len(metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			p.Metadata[k] = v
		}
	}
	p.LastSeen = now.UnixMilli()
	p.Events++
	r.lastActivity = now
	r.mu.Unlock()

	metrics.LiveAppends.Inc()
	m.hub.Publish(recordingID, seq)
	return seq, nil
}

// Stop finalizes a recording: appends are rejected from the first call on,
// and the whole log is flushed to the sink exactly once. A failed flush
// keeps the log and returns ErrFlushFailed; calling Stop again retries.
func (m *Manager) Stop(ctx context.Context, recordingID string) error {
	r, err := m.get(recordingID)
	if err != nil {
		return err
	}

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	state := r.state
	if state == StateFinalized {
		r.mu.Unlock()
		return ErrRecordingNotActive
	}
	r.state = StateStopping
	archive := r.archiveLocked(m.now())
	r.mu.Unlock()

	if state == StateActive {
		m.clearActive(r)
		metrics.LiveRecordingsActive.Dec()
	}

	if m.sink != nil {
		err := m.sink.SaveRecording(ctx, archive)
		metrics.RecordFlush(err)
		if err != nil {
			log.Error().Err(err).
				Str("recording_id", recordingID).
				Int("events", len(archive.Entries)).
				Msg("Failed to flush live recording")
			return fmt.Errorf("%w: %w", ErrFlushFailed, err)
		}
	} else {
		log.Warn().Str("recording_id", recordingID).Msg("No recording sink configured, recording not persisted")
	}

	m.finalize(r)
	log.Info().
		Str("project_id", r.projectID).
		Str("recording_id", recordingID).
		Int("events", len(archive.Entries)).
		Int("participants", len(archive.Participants)).
		Msg("Live recording finalized")
	return nil
}

// Abandon drops a recording without persisting it.
func (m *Manager) Abandon(recordingID string) error {
	r, err := m.get(recordingID)
	if err != nil {
		return err
	}

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	state := r.state
	events := len(r.log)
	r.mu.Unlock()

	if state == StateFinalized {
		return ErrRecordingNotActive
	}
	if state == StateActive {
		metrics.LiveRecordingsActive.Dec()
	}
	m.finalize(r)

	log.Warn().Str("recording_id", recordingID).Int("events", events).Msg("Live recording abandoned")
	return nil
}

func (m *Manager) Info(recordingID string) (Info, error) {
	r, err := m.get(recordingID)
	if err != nil {
		return Info{}, err
	}

	r.mu.RLock()
	info := Info{
		RecordingID:  r.id,
		ProjectID:    r.projectID,
		StartTime:    r.startTime.UnixMilli(),
		State:        r.state,
		IsActive:     r.state == StateActive,
		Events:       len(r.log),
		Participants: r.participantsLocked(),
	}
	r.mu.RUnlock()

	info.Viewers = m.hub.Count(recordingID)
	return info, nil
}

// Log returns an immutable snapshot of a recording's master log.
func (m *Manager) Log(recordingID string) ([]models.LogEntry, State, error) {
	r, err := m.get(recordingID)
	if err != nil {
		return nil, "", err
	}
	entries, state := r.snapshot()
	return entries, state, nil
}

// LatestSnapshot finds the newest full snapshot of pageURL in the project's
// retained recordings, with the page size from the meta event before it.
func (m *Manager) LatestSnapshot(projectID, pageURL string) (models.SnapshotRef, bool) {
	m.mu.RLock()
	var candidates []*recording
	for _, r := range m.recordings {
		if r.projectID == projectID {
			candidates = append(candidates, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].startTime.After(candidates[j].startTime)
	})

	for _, r := range candidates {
		entries, _ := r.snapshot()
		if ref, ok := latestSnapshotIn(entries, pageURL); ok {
			ref.RecordingID = r.id
			return ref, true
		}
	}
	return models.SnapshotRef{}, false
}

func latestSnapshotIn(entries []models.LogEntry, pageURL string) (models.SnapshotRef, bool) {
	var best *models.SnapshotRef
	for i, e := range entries {
		if e.Event.Kind != models.KindFull {
			continue
		}
		meta, href := metaBefore(entries[:i], e.SourceUserID)
		page := e.Event.PageURL
		if page == "" {
			page = href
		}
		if pageURL != "" && page != pageURL {
			continue
		}
		if best == nil || e.Event.Timestamp >= best.Snapshot.Timestamp {
			best = &models.SnapshotRef{Snapshot: e.Event, Meta: meta}
		}
	}
	if best == nil {
		return models.SnapshotRef{}, false
	}
	return *best, true
}

func metaBefore(entries []models.LogEntry, sourceUserID string) (models.MetaData, string) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.SourceUserID != sourceUserID || e.Event.Kind != models.KindMeta {
			continue
		}
		meta, _ := models.DecodeMeta(e.Event)
		return meta, meta.Href
	}
	return models.MetaData{}, ""
}

// Serve finalizes recordings that saw no producer activity for the idle
// timeout, retries failed flushes and forgets old finalized recordings.
// When ctx ends, every open recording gets one last flush attempt.
func (m *Manager) Serve(ctx context.Context) error {
	interval := m.cfg.ReapInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Dur("idle_timeout", m.cfg.IdleTimeout).
		Dur("interval", interval).
		Msg("Live recording reaper started")

	for {
		select {
		case <-ctx.Done():
			m.flushOpen()
			return ctx.Err()
		case <-ticker.C:
			m.reap(ctx)
		}
	}
}

func (m *Manager) reap(ctx context.Context) {
	now := m.now()
	var idle, retry, forget []string

	m.mu.RLock()
	for id, r := range m.recordings {
		r.mu.RLock()
		switch r.state {
		case StateActive:
			if m.cfg.IdleTimeout > 0 && now.Sub(r.lastActivity) >= m.cfg.IdleTimeout {
				idle = append(idle, id)
			}
		case StateStopping:
			retry = append(retry, id)
		case StateFinalized:
			if now.Sub(r.finalizedAt) >= m.cfg.IdleTimeout {
				forget = append(forget, id)
			}
		}
		r.mu.RUnlock()
	}
	m.mu.RUnlock()

	sort.Strings(idle)
	sort.Strings(retry)
	for _, id := range append(idle, retry...) {
		if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrRecordingNotActive) {
			log.Warn().Err(err).Str("recording_id", id).Msg("Auto-finalize failed, will retry")
		}
	}
	if len(idle) > 0 {
		log.Info().Int("count", len(idle)).Msg("Auto-finalized idle recordings")
	}

	if len(forget) > 0 {
		m.mu.Lock()
		for _, id := range forget {
			delete(m.recordings, id)
		}
		m.mu.Unlock()
	}
}

// flushOpen stops every active or stopping recording within the shutdown
// flush timeout. Recordings that still fail are logged and lost.
func (m *Manager) flushOpen() {
	timeout := m.cfg.ShutdownFlushTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var open []string
	m.mu.RLock()
	for id, r := range m.recordings {
		r.mu.RLock()
		if r.state != StateFinalized {
			open = append(open, id)
		}
		r.mu.RUnlock()
	}
	m.mu.RUnlock()
	sort.Strings(open)

	failed := 0
	for _, id := range open {
		if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrRecordingNotActive) {
			failed++
			log.Error().Err(err).Str("recording_id", id).Msg("Failed to flush recording on shutdown")
		}
	}
	if len(open) > 0 {
		log.Info().Int("recordings", len(open)).Int("failed", failed).Msg("Flushed open recordings on shutdown")
	}
}

func (m *Manager) get(recordingID string) (*recording, error) {
	m.mu.RLock()
	r, ok := m.recordings[recordingID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordingNotFound, recordingID)
	}
	return r, nil
}

func (m *Manager) clearActive(r *recording) {
	m.mu.Lock()
	if m.active[r.projectID] == r.id {
		delete(m.active, r.projectID)
	}
	m.mu.Unlock()
}

// finalize releases the log and disconnects viewers.
func (m *Manager) finalize(r *recording) {
	r.mu.Lock()
	r.state = StateFinalized
	r.log = nil
	r.finalizedAt = m.now()
	r.mu.Unlock()

	m.clearActive(r)
	m.hub.CloseTopic(r.id)
}

func (r *recording) archiveLocked(end time.Time) models.RecordingArchive {
	return models.RecordingArchive{
		RecordingID:  r.id,
		ProjectID:    r.projectID,
		StartTime:    r.startTime.UnixMilli(),
		EndTime:      end.UnixMilli(),
		Participants: r.participantsLocked(),
		Entries:      r.log[:len(r.log):len(r.log)],
	}
}

func (r *recording) participantsLocked() []models.Participant {
	out := make([]models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		cp := *p
		if p.Metadata != nil {
			cp.Metadata = make(map[string]string, len(p.Metadata))
			for k, v := range p.Metadata {
				cp.Metadata[k] = v
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
