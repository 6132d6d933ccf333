package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/broadcast"
	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// Update is what a viewer receives. A Reset carries the whole replay and
// replaces whatever the viewer had; otherwise Entries extend it.
type Update struct {
	RecordingID string            `json:"recording_id"`
	View        View              `json:"view"`
	Reset       bool              `json:"reset"`
	Waiting     bool              `json:"waiting"`
	Entries     []models.LogEntry `json:"entries"`
	Stats       Stats             `json:"stats"`
	Final       bool              `json:"final,omitempty"`
}

// Subscription is one viewer's projection of a recording. It runs its own
// goroutine that recomputes on debounced append notices, when hidden
// entries come out of the delay window, and when the view changes.
type Subscription struct {
	m   *Manager
	rec *recording
	sub *broadcast.Subscriber

	views   chan View
	updates chan Update
	done    chan struct{}
	once    sync.Once

	// owned by run
	view      View
	sent      map[uint64]struct{}
	startSeq  uint64
	lastTs    int64
	lastSeq   uint64
	waiting   bool
	primed    bool
	needReset bool
}

// Subscribe attaches a viewer to an active recording. The first update is
// a backfill of everything visible so far.
func (m *Manager) Subscribe(ctx context.Context, recordingID string, view View) (*Subscription, error) {
	if !m.cfg.DelayAllowed(view.DelayMs) {
		return nil, ErrInvalidDelay
	}
	r, err := m.get(recordingID)
	if err != nil {
		return nil, err
	}

	// Join the topic before checking the state: finalize marks the recording
	// and then closes the topic, so a subscriber that sees Active here is
	// always closed by it.
	sub := m.hub.Subscribe(recordingID)
	if _, state := r.snapshot(); state != StateActive {
		m.hub.Unsubscribe(sub)
		return nil, ErrRecordingNotActive
	}

	buf := m.cfg.SubscriberBuffer
	if buf <= 0 {
		buf = 16
	}
	s := &Subscription{
		m:       m,
		rec:     r,
		sub:     sub,
		views:   make(chan View),
		updates: make(chan Update, buf),
		done:    make(chan struct{}),
		view:    view,
	}
	metrics.LiveViewers.Inc()
	log.Debug().
		Str("recording_id", recordingID).
		Uint64("subscriber_id", s.sub.ID()).
		Int64("delay_ms", view.DelayMs).
		Str("source_user", view.SourceUser).
		Msg("Viewer subscribed")

	go s.run(ctx)
	return s, nil
}

// Updates is closed when the subscription ends.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// SetView switches the projection; the next update is a full Reset.
func (s *Subscription) SetView(v View) error {
	if !s.m.cfg.DelayAllowed(v.DelayMs) {
		return ErrInvalidDelay
	}
	select {
	case s.views <- v:
		return nil
	case <-s.done:
		return ErrSubscriptionClosed
	}
}

// Close stops this subscription only. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) run(ctx context.Context) {
	var (
		debounce  *time.Timer
		debounceC <-chan time.Time
		visible   *time.Timer
		visibleC  <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		if visible != nil {
			visible.Stop()
		}
		s.m.hub.Unsubscribe(s.sub)
		s.Close()
		close(s.updates)
		metrics.LiveViewers.Dec()
		log.Debug().Str("recording_id", s.rec.id).Uint64("subscriber_id", s.sub.ID()).Msg("Viewer unsubscribed")
	}()

	schedule := func(trigger string) {
		next, ok := s.recompute(trigger)
		if visible != nil {
			visible.Stop()
			visible, visibleC = nil, nil
		}
		if ok {
			visible = time.NewTimer(time.Until(next))
			visibleC = visible.C
		}
		if s.needReset && debounceC == nil {
			debounce = time.NewTimer(s.m.cfg.Debounce)
			debounceC = debounce.C
		}
	}

	schedule("backfill")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return

		case v := <-s.views:
			s.view = v
			s.needReset = true
			schedule("view")

		case _, ok := <-s.sub.C():
			if !ok {
				s.send(Update{RecordingID: s.rec.id, View: s.view, Final: true})
				return
			}
			if debounceC == nil {
				debounce = time.NewTimer(s.m.cfg.Debounce)
				debounceC = debounce.C
			}

		case <-debounceC:
			debounce, debounceC = nil, nil
			schedule("append")

		case <-visibleC:
			visible, visibleC = nil, nil
			schedule("delay")
		}
	}
}

// recompute rebuilds the projection from the whole log and sends what the
// viewer has not seen. It returns when the next hidden entry becomes
// visible, if any.
func (s *Subscription) recompute(trigger string) (time.Time, bool) {
	metrics.ProjectionRecomputes.WithLabelValues(trigger).Inc()

	entries, _ := s.rec.snapshot()
	now := s.m.now()
	visible := Project(entries, now, s.view)
	replay := Reconstruct(entries, visible, s.view)
	next, hasNext := nextVisible(entries, now, s.view)

	u := Update{
		RecordingID: s.rec.id,
		View:        s.view,
		Waiting:     replay.Waiting,
		Stats:       ComputeStats(visible),
	}

	switch {
	case !s.primed || s.needReset || replay.Waiting != s.waiting:
		u.Reset = true
	case replay.Waiting:
		return next, hasNext
	case replay.Entries[0].Seq != s.startSeq:
		u.Reset = true
	}

	if u.Reset {
		u.Entries = replay.Entries
	} else {
		for _, e := range replay.Entries {
			if _, ok := s.sent[e.Seq]; ok {
				continue
			}
			if e.Event.Timestamp < s.lastTs || (e.Event.Timestamp == s.lastTs && e.Seq < s.lastSeq) {
				// Arrived behind what the viewer already rendered.
				u.Reset = true
				u.Entries = replay.Entries
				break
			}
			u.Entries = append(u.Entries, e)
		}
		if len(u.Entries) == 0 {
			return next, hasNext
		}
	}

	if !s.send(u) {
		s.needReset = true
		return next, hasNext
	}

	if u.Reset {
		s.sent = make(map[uint64]struct{}, len(replay.Entries))
	}
	for _, e := range u.Entries {
		s.sent[e.Seq] = struct{}{}
	}
	s.primed = true
	s.needReset = false
	s.waiting = replay.Waiting
	if n := len(replay.Entries); n > 0 {
		s.startSeq = replay.Entries[0].Seq
		s.lastTs = replay.Entries[n-1].Event.Timestamp
		s.lastSeq = replay.Entries[n-1].Seq
	}
	return next, hasNext
}

func (s *Subscription) send(u Update) bool {
	select {
	case s.updates <- u:
		return true
	default:
		metrics.ViewerUpdatesDropped.Inc()
		return false
	}
}
