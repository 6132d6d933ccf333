package storage

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestEventsQuery(t *testing.T) {
	tr := models.TimeRange{From: 1_000, To: 2_000}
	f := models.Filters{PageURL: "/checkout", EventType: models.EventClick, DeviceType: "mobile", Limit: 2001}

	query, args := eventsQuery("p1", tr, f)

	for _, want := range []string{
		"FROM events WHERE project_id = ?",
		"timestamp >= ?",
		"timestamp <= ?",
		"page_url = ?",
		"event_type = ?",
		"device_type = ?",
		"ORDER BY timestamp DESC LIMIT 2001",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if len(args) != 6 {
		t.Fatalf("got %d args, want 6", len(args))
	}
	if args[0] != "p1" {
		t.Errorf("args[0] = %v", args[0])
	}
	if ts, ok := args[1].(time.Time); !ok || ts.UnixMilli() != 1_000 {
		t.Errorf("args[1] = %v", args[1])
	}
	if args[3] != "/checkout" || args[4] != "click" || args[5] != "mobile" {
		t.Errorf("filter args = %v", args[3:])
	}
}

func TestEventsQuery_OpenRangeNoLimit(t *testing.T) {
	query, args := eventsQuery("p1", models.TimeRange{From: 5}, models.Filters{})
	if strings.Contains(query, "LIMIT") {
		t.Errorf("unexpected LIMIT in %q", query)
	}
	if strings.Contains(query, "timestamp <= ?") {
		t.Errorf("open range should have no upper bound: %q", query)
	}
	if len(args) != 2 {
		t.Errorf("got %d args, want 2", len(args))
	}
}

func TestErrorsQuery_IgnoresDevice(t *testing.T) {
	query, args := errorsQuery("p1", models.TimeRange{}, models.Filters{DeviceType: "mobile", Limit: 10})
	if strings.Contains(query, "device_type") {
		t.Errorf("errors query filters on device: %q", query)
	}
	if len(args) != 1 {
		t.Errorf("got %d args, want 1", len(args))
	}
}

func TestEventFromRow(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123)

	t.Run("click with payload", func(t *testing.T) {
		ev, ok := eventFromRow(EventRow{
			SessionID:      "s1",
			ProjectID:      "p1",
			EventType:      "click",
			Timestamp:      ts,
			PageURL:        "/home",
			ViewportWidth:  1440,
			ViewportHeight: 900,
			Payload:        `{"x":10,"y":20,"target_id":"buy"}`,
		})
		if !ok {
			t.Fatal("row rejected")
		}
		if ev.Timestamp != 1_700_000_000_123 {
			t.Errorf("timestamp = %d", ev.Timestamp)
		}
		if ev.ElementKey != "#buy" {
			t.Errorf("element key = %q", ev.ElementKey)
		}
		if ev.Viewport == nil || ev.Viewport.Width != 1440 {
			t.Errorf("viewport = %+v", ev.Viewport)
		}
		if ev.Position == nil || ev.Position.X != 10 || ev.Position.Y != 20 {
			t.Errorf("position = %+v", ev.Position)
		}
	})

	t.Run("proto enum spelling", func(t *testing.T) {
		ev, ok := eventFromRow(EventRow{EventType: "EVENT_TYPE_PAGE_VIEW", Timestamp: ts})
		if !ok || ev.EventType != models.EventPageView {
			t.Errorf("got %+v, %v", ev, ok)
		}
	})

	t.Run("unknown type dropped", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("unknown_event_type"))
		if _, ok := eventFromRow(EventRow{EventType: "heartbeat", Timestamp: ts}); ok {
			t.Error("unknown event type accepted")
		}
		after := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("unknown_event_type"))
		if after-before != 1 {
			t.Errorf("dropped counter moved by %v", after-before)
		}
	})

	t.Run("bad payload keeps event", func(t *testing.T) {
		ev, ok := eventFromRow(EventRow{EventType: "click", Timestamp: ts, Payload: "{broken"})
		if !ok {
			t.Fatal("row rejected")
		}
		if ev.ElementKey != "unknown" || ev.Position != nil {
			t.Errorf("got %+v", ev)
		}
	})
}

func TestSampleFromError(t *testing.T) {
	s, ok := sampleFromError(ErrorRow{
		SessionID: "s1",
		PageURL:   "/a",
		Timestamp: time.UnixMilli(42),
		ErrorType: "TypeError",
		Message:   "x is undefined",
	})
	if !ok {
		t.Fatal("error row rejected")
	}
	if len(s.JSErrors) != 1 || s.JSErrors[0].Name != "TypeError" || s.Timestamp != 42 {
		t.Errorf("got %+v", s)
	}
	if s.LCP != nil {
		t.Error("error sample should carry no vitals")
	}

	if _, ok := sampleFromError(ErrorRow{Timestamp: time.UnixMilli(42)}); ok {
		t.Error("empty error row accepted")
	}
}

func TestSessionEntry_SkipsEmptyMetadata(t *testing.T) {
	e := sessionEntry(SessionRow{SessionID: "s1", StartedAt: time.UnixMilli(0), Browser: "Firefox"})
	if e.Metadata["browser"] != "Firefox" {
		t.Errorf("metadata = %v", e.Metadata)
	}
	if _, ok := e.Metadata["country"]; ok {
		t.Error("empty country should be omitted")
	}
	if e.Metadata["started_at"] != "1970-01-01T00:00:00Z" {
		t.Errorf("started_at = %q", e.Metadata["started_at"])
	}
}

func TestRecordingRows(t *testing.T) {
	rec := models.RecordingArchive{
		RecordingID: "r1",
		ProjectID:   "p1",
		StartTime:   1_000,
		EndTime:     9_000,
		Participants: []models.Participant{
			{UserID: "u1", Metadata: map[string]string{"browser": "Chrome"}, Events: 2},
		},
		Entries: []models.LogEntry{
			{Seq: 1, SourceUserID: "u1", ReceivedAt: 1_100, Event: models.ReplayEvent{Kind: models.KindMeta, Timestamp: 1_050, Data: json.RawMessage(`{"width":800,"height":600}`)}},
			{Seq: 2, SourceUserID: "u1", ReceivedAt: 1_200, Event: models.ReplayEvent{Kind: models.KindFull, Timestamp: 1_060}},
		},
	}

	row, events, err := recordingRows(rec)
	if err != nil {
		t.Fatalf("recordingRows: %v", err)
	}
	if row.EventsCount != 2 || row.EndedAt.UnixMilli() != 9_000 {
		t.Errorf("recording row = %+v", row)
	}

	var participants []models.Participant
	if err := json.Unmarshal([]byte(row.Participants), &participants); err != nil {
		t.Fatalf("participants column is not JSON: %v", err)
	}
	if len(participants) != 1 || participants[0].UserID != "u1" {
		t.Errorf("participants = %+v", participants)
	}

	if len(events) != 2 {
		t.Fatalf("got %d event rows", len(events))
	}
	if events[0].Kind != "meta" || events[0].Data != `{"width":800,"height":600}` {
		t.Errorf("meta row = %+v", events[0])
	}
	if events[1].Seq != 2 || events[1].Timestamp.UnixMilli() != 1_060 || events[1].RecordingID != "r1" {
		t.Errorf("full row = %+v", events[1])
	}
}
