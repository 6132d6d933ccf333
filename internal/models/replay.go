package models

import (
	"github.com/goccy/go-json"
)

// ReplayKind tags a recorded DOM event. The payload itself is opaque here.
type ReplayKind string

const (
	KindFull        ReplayKind = "full"
	KindIncremental ReplayKind = "incremental"
	KindMeta        ReplayKind = "meta"
)

func (k ReplayKind) Valid() bool {
	switch k {
	case KindFull, KindIncremental, KindMeta:
		return true
	}
	return false
}

// ReplayEvent is one snapshot or delta of a recording. Source names the
// interaction behind an incremental event (click, scroll, input, mutation).
type ReplayEvent struct {
	Kind      ReplayKind      `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
	PageURL   string          `json:"page_url,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MetaData is the part of a meta event the engine reads: the recorded page size.
type MetaData struct {
	Href   string `json:"href"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DecodeMeta reads the page dimensions out of a meta event.
func DecodeMeta(ev ReplayEvent) (MetaData, bool) {
	if ev.Kind != KindMeta || len(ev.Data) == 0 {
		return MetaData{}, false
	}
	var m MetaData
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		return MetaData{}, false
	}
	return m, m.Width > 0 && m.Height > 0
}

// SnapshotRef points at the newest full snapshot of a live recording,
// with the page dimensions from the meta event that precedes it.
type SnapshotRef struct {
	RecordingID string      `json:"recording_id"`
	Snapshot    ReplayEvent `json:"snapshot"`
	Meta        MetaData    `json:"meta"`
}
