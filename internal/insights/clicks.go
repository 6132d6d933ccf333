package insights

import (
	"sort"

	"github.com/gosight/gosight/signals/internal/models"
)

type clickKey struct {
	sessionID  string
	pageURL    string
	elementKey string
}

func keyOf(e models.InteractionEvent) clickKey {
	el := e.ElementKey
	if el == "" {
		el = models.ElementKey("", nil, "", "")
	}
	return clickKey{sessionID: e.SessionID, pageURL: e.PageURL, elementKey: el}
}

// sortClicks keeps valid clicks and orders them by (session, page, element)
// then timestamp. Clicks without a timestamp are dropped and counted.
func sortClicks(events []models.InteractionEvent) ([]models.InteractionEvent, int) {
	clicks := make([]models.InteractionEvent, 0, len(events))
	skipped := 0
	for _, e := range events {
		if e.EventType != models.EventClick {
			continue
		}
		if e.Timestamp <= 0 {
			skipped++
			continue
		}
		clicks = append(clicks, e)
	}

	sort.SliceStable(clicks, func(i, j int) bool {
		a, b := keyOf(clicks[i]), keyOf(clicks[j])
		if a.sessionID != b.sessionID {
			return a.sessionID < b.sessionID
		}
		if a.pageURL != b.pageURL {
			return a.pageURL < b.pageURL
		}
		if a.elementKey != b.elementKey {
			return a.elementKey < b.elementKey
		}
		return clicks[i].Timestamp < clicks[j].Timestamp
	})
	return clicks, skipped
}

// scanRuns walks sorted clicks in runs anchored at the first click of each
// run: a run extends while the group is unchanged and the click lies within
// windowMs of the anchor. Runs of at least minClicks are passed to fn.
// Scanning resumes at the end of every run, qualifying or not, so a run is
// never re-examined with a later anchor.
func scanRuns(sorted []models.InteractionEvent, windowMs int64, minClicks int, fn func(run []models.InteractionEvent)) {
	i := 0
	for i < len(sorted) {
		base := sorted[i]
		key := keyOf(base)
		j := i + 1
		for j < len(sorted) && keyOf(sorted[j]) == key && sorted[j].Timestamp-base.Timestamp <= windowMs {
			j++
		}
		if j-i >= minClicks {
			fn(sorted[i:j])
		}
		i = j
	}
}

// groupKey identifies an aggregated insight row: one element on one page.
type groupKey struct {
	pageURL    string
	elementKey string
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
