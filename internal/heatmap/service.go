package heatmap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
)

var (
	ErrMissingPage      = errors.New("heatmap needs a page url")
	ErrUnsupportedType  = errors.New("heatmap type must be click or scroll")
	ErrUnknownMode      = errors.New("heatmap mode must be fast or full")
	ErrStoreUnavailable = errors.New("event store unavailable")
)

type Mode string

const (
	ModeFast Mode = "fast"
	ModeFull Mode = "full"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeFast:
		return ModeFast, nil
	case ModeFull:
		return ModeFull, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

type EventStore interface {
	FetchEvents(ctx context.Context, projectID string, tr models.TimeRange, f models.Filters) ([]models.InteractionEvent, error)
}

// SnapshotSource supplies the newest reconstructed page for full-fidelity
// overlays.
type SnapshotSource interface {
	LatestSnapshot(projectID, pageURL string) (models.SnapshotRef, bool)
}

type Query struct {
	ProjectID string
	PageURL   string
	EventType models.EventType
	Device    string
	Range     models.TimeRange
	Mode      Mode
}

type Metadata struct {
	PageURL   string           `json:"page_url"`
	EventType models.EventType `json:"event_type"`
	Device    string           `json:"device,omitempty"`
	Mode      Mode             `json:"mode"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	CellSize  int              `json:"cell_size"`
	Max       float64          `json:"max"`
	Total     int              `json:"total"`
	Skipped   int              `json:"skipped"`
	Samples   int              `json:"samples"`
	Truncated bool             `json:"truncated"`
	NoData    bool             `json:"no_data"`

	// Set in full mode when no snapshot was available and fast mode was used.
	FellBack    bool                `json:"fell_back,omitempty"`
	RecordingID string              `json:"recording_id,omitempty"`
	Snapshot    *models.ReplayEvent `json:"snapshot,omitempty"`
}

type Result struct {
	Points   []Point  `json:"points"`
	Metadata Metadata `json:"metadata"`
}

type Service struct {
	store      EventStore
	snapshots  SnapshotSource
	agg        *Aggregator
	maxSamples int
}

func NewService(store EventStore, snapshots SnapshotSource, cfg config.HeatmapConfig, mcfg config.MetricsConfig) *Service {
	return &Service{
		store:      store,
		snapshots:  snapshots,
		agg:        NewAggregator(cfg),
		maxSamples: mcfg.MaxSamples,
	}
}

func (s *Service) GetHeatmap(ctx context.Context, q Query) (Result, error) {
	if q.PageURL == "" {
		return Result{}, ErrMissingPage
	}
	if q.EventType == "" {
		q.EventType = models.EventClick
	}
	if q.EventType != models.EventClick && q.EventType != models.EventScroll {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedType, q.EventType)
	}
	if q.Mode == "" {
		q.Mode = ModeFast
	}
	start := time.Now()

	f := models.Filters{PageURL: q.PageURL, EventType: q.EventType, DeviceType: q.Device}
	if s.maxSamples > 0 {
		f.Limit = s.maxSamples + 1
	}
	events, err := s.store.FetchEvents(ctx, q.ProjectID, q.Range, f)
	metrics.RecordQuery("heatmap", time.Since(start), err)
	if err != nil {
		log.Error().Err(err).Str("project_id", q.ProjectID).Str("page_url", q.PageURL).Msg("Failed to fetch heatmap events")
		return Result{}, fmt.Errorf("%w: fetch events: %w", ErrStoreUnavailable, err)
	}
	events, truncated := models.KeepMostRecent(events, s.maxSamples, func(e models.InteractionEvent) int64 { return e.Timestamp })
	if truncated {
		metrics.RecordTruncation("heatmap")
	}

	points := make([]RawPoint, 0, len(events))
	for _, e := range events {
		if e.Position == nil {
			continue
		}
		p := RawPoint{X: e.Position.X, Y: e.Position.Y}
		if e.Viewport != nil {
			p.ViewportWidth, p.ViewportHeight = e.Viewport.Width, e.Viewport.Height
		}
		points = append(points, p)
	}
	metrics.RecordDropped("missing_position", len(events)-len(points))

	meta := Metadata{
		PageURL:   q.PageURL,
		EventType: q.EventType,
		Device:    q.Device,
		Mode:      q.Mode,
		Samples:   len(events),
		Truncated: truncated,
	}

	agg := s.agg
	if q.Mode == ModeFull {
		ref, ok := s.latestSnapshot(q.ProjectID, q.PageURL)
		if ok && !agg.Fits(ref.Meta.Width, ref.Meta.Height) {
			log.Warn().
				Str("recording_id", ref.RecordingID).
				Int("width", ref.Meta.Width).
				Int("height", ref.Meta.Height).
				Msg("Snapshot page size out of bounds, using fast mode")
			ok = false
		}
		if ok {
			agg = agg.WithTarget(ref.Meta.Width, ref.Meta.Height)
			meta.RecordingID = ref.RecordingID
			snap := ref.Snapshot
			meta.Snapshot = &snap
		} else {
			meta.Mode = ModeFast
			meta.FellBack = true
		}
	}

	field := agg.Aggregate(points)
	if field.Skipped > 0 {
		metrics.HeatmapPointsSkipped.Add(float64(field.Skipped))
	}

	meta.Width, meta.Height, meta.CellSize = field.Width, field.Height, field.CellSize
	meta.Max, meta.Total, meta.Skipped = field.Max, field.Total, field.Skipped
	meta.NoData = field.Total == 0

	pts := field.Points
	if pts == nil {
		pts = []Point{}
	}
	return Result{Points: pts, Metadata: meta}, nil
}

func (s *Service) latestSnapshot(projectID, pageURL string) (models.SnapshotRef, bool) {
	if s.snapshots == nil {
		return models.SnapshotRef{}, false
	}
	return s.snapshots.LatestSnapshot(projectID, pageURL)
}
