package insights

import (
	"sort"

	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
)

// ClickOutcome pairs a click with whether anything happened after it.
type ClickOutcome struct {
	Click     models.InteractionEvent
	Responded bool
}

// DeriveOutcomes resolves the follow-up signal of every click. A follow-up
// flag recorded by the SDK wins; otherwise a pageview in the same session
// within followUpMs after the click counts as a response.
func DeriveOutcomes(events []models.InteractionEvent, followUpMs int64) []ClickOutcome {
	views := make(map[string][]int64)
	for _, e := range events {
		if e.EventType == models.EventPageView && e.Timestamp > 0 {
			views[e.SessionID] = append(views[e.SessionID], e.Timestamp)
		}
	}
	for _, ts := range views {
		sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	}

	var out []ClickOutcome
	for _, e := range events {
		if e.EventType != models.EventClick {
			continue
		}
		if e.FollowUp != nil {
			out = append(out, ClickOutcome{Click: e, Responded: *e.FollowUp})
			continue
		}
		ts := views[e.SessionID]
		i := sort.Search(len(ts), func(i int) bool { return ts[i] > e.Timestamp })
		responded := i < len(ts) && ts[i]-e.Timestamp <= followUpMs
		out = append(out, ClickOutcome{Click: e, Responded: responded})
	}
	return out
}

// DeadClickDetector groups unanswered clicks with the same run skeleton as
// rage clicks.
type DeadClickDetector struct {
	windowMs  int64
	minClicks int
}

func NewDeadClickDetector(cfg config.DeadClickConfig) *DeadClickDetector {
	d := &DeadClickDetector{windowMs: cfg.TimeWindowMs, minClicks: cfg.MinClicks}
	if d.windowMs <= 0 {
		d.windowMs = 3000
	}
	if d.minClicks <= 0 {
		d.minClicks = 1
	}
	return d
}

func (d *DeadClickDetector) Detect(outcomes []ClickOutcome) []DeadClickGroup {
	dead := make([]models.InteractionEvent, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.Responded {
			dead = append(dead, o.Click)
		}
	}
	sorted, skipped := sortClicks(dead)
	metrics.RecordDropped("missing_timestamp", skipped)

	byGroup := make(map[groupKey]*DeadClickGroup)
	sessions := make(map[groupKey]map[string]struct{})

	scanRuns(sorted, d.windowMs, d.minClicks, func(run []models.InteractionEvent) {
		k := keyOf(run[0])
		gk := groupKey{pageURL: k.pageURL, elementKey: k.elementKey}

		g, ok := byGroup[gk]
		if !ok {
			g = &DeadClickGroup{PageURL: gk.pageURL, ElementKey: gk.elementKey, FirstSeen: run[0].Timestamp}
			byGroup[gk] = g
			sessions[gk] = make(map[string]struct{})
		}
		g.Incidents++
		g.DeadClicks += len(run)
		sessions[gk][k.sessionID] = struct{}{}
		if run[0].Timestamp < g.FirstSeen {
			g.FirstSeen = run[0].Timestamp
		}
		if last := run[len(run)-1].Timestamp; last > g.LastSeen {
			g.LastSeen = last
		}
	})

	out := make([]DeadClickGroup, 0, len(byGroup))
	for gk, g := range byGroup {
		g.Sessions = sortedSet(sessions[gk])
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeadClicks != out[j].DeadClicks {
			return out[i].DeadClicks > out[j].DeadClicks
		}
		if out[i].PageURL != out[j].PageURL {
			return out[i].PageURL < out[j].PageURL
		}
		return out[i].ElementKey < out[j].ElementKey
	})
	return out
}
