package live

import (
	"sort"
	"time"

	"github.com/gosight/gosight/signals/internal/models"
)

// View is a viewer's window onto a recording: how far behind live it runs
// and which producer it follows. An empty SourceUser follows everyone.
type View struct {
	DelayMs    int64  `json:"delay_ms"`
	SourceUser string `json:"source_user,omitempty"`
}

func (v View) matches(e models.LogEntry) bool {
	return v.SourceUser == "" || e.SourceUserID == v.SourceUser
}

// Project returns the entries visible to v at now, in replay order:
// timestamp ascending with arrival order breaking ties. It never modifies
// log and always yields the same result for the same inputs.
func Project(log []models.LogEntry, now time.Time, v View) []models.LogEntry {
	cutoff := now.UnixMilli() - v.DelayMs
	visible := make([]models.LogEntry, 0, len(log))
	for _, e := range log {
		if e.Event.Timestamp <= cutoff && v.matches(e) {
			visible = append(visible, e)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].Event.Timestamp < visible[j].Event.Timestamp
	})
	return visible
}

// nextVisible reports when the earliest entry still hidden from v becomes
// visible.
func nextVisible(log []models.LogEntry, now time.Time, v View) (time.Time, bool) {
	cutoff := now.UnixMilli() - v.DelayMs
	var next int64
	found := false
	for _, e := range log {
		ts := e.Event.Timestamp
		if ts > cutoff && v.matches(e) && (!found || ts < next) {
			next, found = ts, true
		}
	}
	if !found {
		return time.Time{}, false
	}
	return time.UnixMilli(next + v.DelayMs), true
}

// Stats counts the interactions in a projection.
type Stats struct {
	Events  int `json:"events"`
	Clicks  int `json:"clicks"`
	Scrolls int `json:"scrolls"`
	Inputs  int `json:"inputs"`
}

func ComputeStats(visible []models.LogEntry) Stats {
	st := Stats{Events: len(visible)}
	for _, e := range visible {
		switch e.Event.Source {
		case "click":
			st.Clicks++
		case "scroll":
			st.Scrolls++
		case "input":
			st.Inputs++
		}
	}
	return st
}

// Replay is a renderable sequence: it always starts with a full snapshot,
// or is Waiting when none exists yet.
type Replay struct {
	Entries []models.LogEntry `json:"entries"`
	Waiting bool              `json:"waiting"`
}

// Reconstruct makes visible renderable. The newest full snapshot in log at
// or before the first visible entry is put in front. Without one the replay
// starts at the first full snapshot inside visible, and without any
// snapshot at all it is Waiting. Only snapshots that v matches are
// candidates, so a filtered view never renders another source's page.
func Reconstruct(log, visible []models.LogEntry, v View) Replay {
	if len(visible) == 0 {
		return Replay{Waiting: true}
	}

	first := visible[0]
	if first.Event.Kind == models.KindFull {
		return Replay{Entries: visible}
	}

	var base *models.LogEntry
	for i := range log {
		e := &log[i]
		if e.Event.Kind != models.KindFull || e.Event.Timestamp > first.Event.Timestamp || !v.matches(*e) {
			continue
		}
		if base == nil || e.Event.Timestamp >= base.Event.Timestamp {
			base = e
		}
	}
	if base != nil {
		entries := make([]models.LogEntry, 0, len(visible)+1)
		entries = append(entries, *base)
		for _, e := range visible {
			if e.Seq != base.Seq {
				entries = append(entries, e)
			}
		}
		return Replay{Entries: entries}
	}

	for i, e := range visible {
		if e.Event.Kind == models.KindFull {
			return Replay{Entries: visible[i:]}
		}
	}
	return Replay{Waiting: true}
}
