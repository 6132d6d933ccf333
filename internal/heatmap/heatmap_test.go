package heatmap

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/models"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func testConfig() config.HeatmapConfig {
	cfg := &config.Config{}
	cfg.SetDefaults()
	return cfg.Heatmap
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		target [2]int
		point  RawPoint
		wantX  float64
		wantY  float64
	}{
		{"downscale", [2]int{500, 500}, RawPoint{X: 100, Y: 100, ViewportWidth: 1000, ViewportHeight: 1000}, 50, 50},
		{"upscale", [2]int{1280, 768}, RawPoint{X: 320, Y: 192, ViewportWidth: 640, ViewportHeight: 384}, 640, 384},
		{"unknown viewport uses default", [2]int{640, 384}, RawPoint{X: 1280, Y: 768}, 640, 384},
		{"half known viewport uses default", [2]int{640, 384}, RawPoint{X: 100, Y: 100, ViewportWidth: 500}, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(testConfig()).WithTarget(tt.target[0], tt.target[1])
			x, y := a.Normalize(tt.point)
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("Normalize() = (%v, %v), want (%v, %v)", x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestAggregate_AdditiveAndNormalized(t *testing.T) {
	a := NewAggregator(testConfig()).WithTarget(500, 500)
	field := a.Aggregate([]RawPoint{
		{X: 100, Y: 100, ViewportWidth: 1000, ViewportHeight: 1000},
		{X: 100, Y: 100, ViewportWidth: 1000, ViewportHeight: 1000},
		{X: 800, Y: 800, ViewportWidth: 1000, ViewportHeight: 1000},
	})

	if field.Total != 3 || field.Skipped != 0 {
		t.Fatalf("total=%d skipped=%d", field.Total, field.Skipped)
	}
	if field.Max < 2 {
		t.Errorf("overlapping points should intensify, max = %v", field.Max)
	}

	var hot, cool float64
	for _, p := range field.Points {
		if p.Value < 0 || p.Value > 1 {
			t.Fatalf("value %v outside [0,1]", p.Value)
		}
		if p.X == 52 && p.Y == 52 {
			hot = p.Value
		}
		if p.X == 404 && p.Y == 404 {
			cool = p.Value
		}
	}
	if hot != 1 {
		t.Errorf("cell holding (50,50) = %v, want 1", hot)
	}
	if math.Abs(cool-0.5) > 1e-9 {
		t.Errorf("cell holding (400,400) = %v, want 0.5", cool)
	}
}

func TestAggregate_SkipsOutOfBounds(t *testing.T) {
	a := NewAggregator(testConfig())
	field := a.Aggregate([]RawPoint{
		{X: -5, Y: 10, ViewportWidth: 1280, ViewportHeight: 768},
		{X: 2000, Y: 10, ViewportWidth: 1280, ViewportHeight: 768},
		{X: math.NaN(), Y: 10},
	})
	if field.Skipped != 3 || field.Total != 0 || len(field.Points) != 0 || field.Max != 0 {
		t.Errorf("field = %+v", field)
	}
}

func TestAggregate_LinearFalloff(t *testing.T) {
	cfg := testConfig()
	cfg.Falloff = string(FalloffLinear)
	a := NewAggregator(cfg)
	field := a.Aggregate([]RawPoint{{X: 100, Y: 100, ViewportWidth: 1280, ViewportHeight: 768}})

	if field.Max != 1 {
		t.Errorf("max = %v", field.Max)
	}
	for _, p := range field.Points {
		if d := math.Hypot(p.X-100, p.Y-100); d > cfg.Radius+float64(cfg.CellSize) {
			t.Errorf("cell at distance %v outside radius", d)
		}
	}
}

type fakeStore struct {
	events []models.InteractionEvent
	err    error
	last   models.Filters
}

func (f *fakeStore) FetchEvents(_ context.Context, _ string, _ models.TimeRange, flt models.Filters) ([]models.InteractionEvent, error) {
	f.last = flt
	return f.events, f.err
}

type fakeSnapshots struct {
	ref models.SnapshotRef
	ok  bool
}

func (f fakeSnapshots) LatestSnapshot(string, string) (models.SnapshotRef, bool) {
	return f.ref, f.ok
}

func TestService_GetHeatmap(t *testing.T) {
	store := &fakeStore{events: []models.InteractionEvent{
		{EventType: models.EventClick, Timestamp: 1, Position: &models.Point{X: 100, Y: 100}, Viewport: &models.Viewport{Width: 1000, Height: 1000}},
		{EventType: models.EventClick, Timestamp: 2},
	}}
	svc := NewService(store, nil, testConfig(), config.MetricsConfig{MaxSamples: 50})

	res, err := svc.GetHeatmap(context.Background(), Query{ProjectID: "p1", PageURL: "/", Device: "mobile"})
	if err != nil {
		t.Fatalf("GetHeatmap: %v", err)
	}
	if store.last.Limit != 51 || store.last.DeviceType != "mobile" || store.last.EventType != models.EventClick {
		t.Errorf("filters = %+v", store.last)
	}
	if res.Metadata.Total != 1 || res.Metadata.Samples != 2 || res.Metadata.Mode != ModeFast || len(res.Points) == 0 {
		t.Errorf("metadata = %+v", res.Metadata)
	}
}

func TestService_FullModeUsesSnapshotDimensions(t *testing.T) {
	store := &fakeStore{events: []models.InteractionEvent{
		{EventType: models.EventClick, Timestamp: 1, Position: &models.Point{X: 100, Y: 100}, Viewport: &models.Viewport{Width: 1000, Height: 1000}},
	}}
	snaps := fakeSnapshots{ok: true, ref: models.SnapshotRef{
		RecordingID: "rec-1",
		Snapshot:    models.ReplayEvent{Kind: models.KindFull, Timestamp: 5},
		Meta:        models.MetaData{Width: 500, Height: 500},
	}}
	svc := NewService(store, snaps, testConfig(), config.MetricsConfig{})

	res, err := svc.GetHeatmap(context.Background(), Query{PageURL: "/", Mode: ModeFull})
	if err != nil {
		t.Fatalf("GetHeatmap: %v", err)
	}
	m := res.Metadata
	if m.Mode != ModeFull || m.Width != 500 || m.Height != 500 || m.RecordingID != "rec-1" || m.Snapshot == nil {
		t.Errorf("metadata = %+v", m)
	}

	svc = NewService(store, fakeSnapshots{}, testConfig(), config.MetricsConfig{})
	res, err = svc.GetHeatmap(context.Background(), Query{PageURL: "/", Mode: ModeFull})
	if err != nil || !res.Metadata.FellBack || res.Metadata.Mode != ModeFast || res.Metadata.Width != 1280 {
		t.Errorf("fallback metadata = %+v, %v", res.Metadata, err)
	}
}

func TestAggregator_WithTargetBounds(t *testing.T) {
	a := NewAggregator(config.HeatmapConfig{})

	tests := []struct {
		name     string
		w, h     int
		wantW    int
		wantH    int
		wantFits bool
	}{
		{"within bounds", 1920, 5000, 1920, 5000, true},
		{"at bounds", 3840, 16384, 3840, 16384, true},
		{"huge page", 1 << 20, 1 << 20, 1280, 768, false},
		{"too wide", 3841, 768, 1280, 768, false},
		{"zero", 0, 768, 1280, 768, false},
		{"negative", -5, -5, 1280, 768, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Fits(tt.w, tt.h); got != tt.wantFits {
				t.Errorf("Fits() = %v, want %v", got, tt.wantFits)
			}
			c := a.WithTarget(tt.w, tt.h)
			if c.TargetWidth != tt.wantW || c.TargetHeight != tt.wantH {
				t.Errorf("target = %dx%d, want %dx%d", c.TargetWidth, c.TargetHeight, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestService_FullModeOversizedSnapshotFallsBack(t *testing.T) {
	store := &fakeStore{events: []models.InteractionEvent{
		{EventType: models.EventClick, Timestamp: 1, Position: &models.Point{X: 100, Y: 100}, Viewport: &models.Viewport{Width: 1000, Height: 1000}},
	}}
	snaps := fakeSnapshots{ok: true, ref: models.SnapshotRef{
		RecordingID: "rec-1",
		Snapshot:    models.ReplayEvent{Kind: models.KindFull, Timestamp: 5},
		Meta:        models.MetaData{Width: 1 << 20, Height: 1 << 20},
	}}
	svc := NewService(store, snaps, testConfig(), config.MetricsConfig{})

	res, err := svc.GetHeatmap(context.Background(), Query{PageURL: "/", Mode: ModeFull})
	if err != nil {
		t.Fatalf("GetHeatmap: %v", err)
	}
	m := res.Metadata
	if !m.FellBack || m.Mode != ModeFast || m.Width != 1280 || m.Height != 768 || m.Snapshot != nil || m.RecordingID != "" {
		t.Errorf("metadata = %+v", m)
	}
	if m.Total != 1 {
		t.Errorf("total = %d", m.Total)
	}
}

func TestService_Errors(t *testing.T) {
	svc := NewService(&fakeStore{err: errors.New("down")}, nil, testConfig(), config.MetricsConfig{})
	ctx := context.Background()

	if _, err := svc.GetHeatmap(ctx, Query{}); !errors.Is(err, ErrMissingPage) {
		t.Errorf("missing page err = %v", err)
	}
	if _, err := svc.GetHeatmap(ctx, Query{PageURL: "/", EventType: models.EventInput}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("input type err = %v", err)
	}
	if _, err := svc.GetHeatmap(ctx, Query{PageURL: "/"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("store err = %v", err)
	}
	if _, err := ParseMode("turbo"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("ParseMode err = %v", err)
	}
}

func TestService_EmptyIsNoData(t *testing.T) {
	svc := NewService(&fakeStore{}, nil, testConfig(), config.MetricsConfig{})
	res, err := svc.GetHeatmap(context.Background(), Query{PageURL: "/", EventType: models.EventScroll})
	if err != nil || !res.Metadata.NoData || res.Points == nil || len(res.Points) != 0 {
		t.Errorf("got %+v, %v", res, err)
	}
}
