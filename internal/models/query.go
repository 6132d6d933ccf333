package models

import "sort"

// TimeRange is a closed interval of unix milliseconds. A zero To means "now".
type TimeRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Contains reports whether ts falls inside the range.
func (r TimeRange) Contains(ts int64) bool {
	if ts < r.From {
		return false
	}
	return r.To == 0 || ts <= r.To
}

// Filters narrow an EventStore query. Empty fields match everything.
type Filters struct {
	PageURL    string
	EventType  EventType
	DeviceType string

	// Limit caps the number of records returned, most recent first. 0 = no cap.
	Limit int
}

type SessionIndexEntry struct {
	SessionID string            `json:"session_id"`
	Metadata  map[string]string `json:"metadata"`
}

// KeepMostRecent truncates items to the max most recent by ts. Ties keep
// input order. It reports whether anything was dropped.
func KeepMostRecent[T any](items []T, max int, ts func(T) int64) ([]T, bool) {
	if max <= 0 || len(items) <= max {
		return items, false
	}
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return ts(sorted[i]) > ts(sorted[j]) })
	return sorted[:max], true
}
