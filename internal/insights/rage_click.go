package insights

import (
	"sort"

	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
)

// RageClickDetector finds bursts of repeated clicks on the same element.
type RageClickDetector struct {
	windowMs  int64
	minClicks int
}

func NewRageClickDetector(cfg config.RageClickConfig) *RageClickDetector {
	d := &RageClickDetector{windowMs: cfg.TimeWindowMs, minClicks: cfg.MinClicks}
	if d.windowMs <= 0 {
		d.windowMs = 3000
	}
	if d.minClicks <= 0 {
		d.minClicks = 3
	}
	return d
}

// Detect returns one RageIncident per (page, element) that saw at least one
// qualifying burst, most incidents first.
func (d *RageClickDetector) Detect(events []models.InteractionEvent) []RageIncident {
	sorted, skipped := sortClicks(events)
	metrics.RecordDropped("missing_timestamp", skipped)

	byGroup := make(map[groupKey]*RageIncident)
	sessions := make(map[groupKey]map[string]struct{})

	scanRuns(sorted, d.windowMs, d.minClicks, func(run []models.InteractionEvent) {
		k := keyOf(run[0])
		gk := groupKey{pageURL: k.pageURL, elementKey: k.elementKey}

		inc, ok := byGroup[gk]
		if !ok {
			inc = &RageIncident{
				PageURL:    gk.pageURL,
				ElementKey: gk.elementKey,
				FirstSeen:  run[0].Timestamp,
			}
			byGroup[gk] = inc
			sessions[gk] = make(map[string]struct{})
		}
		inc.Incidents++
		inc.TotalClicksInIncidents += len(run)
		sessions[gk][k.sessionID] = struct{}{}
		if first := run[0].Timestamp; first < inc.FirstSeen {
			inc.FirstSeen = first
		}
		if last := run[len(run)-1].Timestamp; last > inc.LastSeen {
			inc.LastSeen = last
		}
	})

	out := make([]RageIncident, 0, len(byGroup))
	for gk, inc := range byGroup {
		inc.Sessions = sortedSet(sessions[gk])
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Incidents != out[j].Incidents {
			return out[i].Incidents > out[j].Incidents
		}
		if out[i].PageURL != out[j].PageURL {
			return out[i].PageURL < out[j].PageURL
		}
		return out[i].ElementKey < out[j].ElementKey
	})
	return out
}

// RageSessions lists the sessions that appear in any incident.
func RageSessions(incidents []RageIncident) []string {
	set := make(map[string]struct{})
	for _, inc := range incidents {
		for _, s := range inc.Sessions {
			set[s] = struct{}{}
		}
	}
	return sortedSet(set)
}
