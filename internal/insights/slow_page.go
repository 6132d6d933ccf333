package insights

import (
	"sort"

	"github.com/gosight/gosight/signals/internal/models"
)

// SlowPages reports every page whose p-th percentile LCP exceeds
// thresholdMs, slowest first.
func SlowPages(samples []models.PerformanceSample, p float64, thresholdMs int64) []SlowPage {
	byPage := make(map[string][]float64)
	for _, s := range samples {
		if s.Timestamp <= 0 || s.LCP == nil || s.PageURL == "" {
			continue
		}
		byPage[s.PageURL] = append(byPage[s.PageURL], *s.LCP)
	}

	var out []SlowPage
	for page, values := range byPage {
		lcp := Percentile(values, p)
		if lcp <= float64(thresholdMs) {
			continue
		}
		out = append(out, SlowPage{PageURL: page, Percentile: p, LCP: lcp, Samples: len(values)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LCP != out[j].LCP {
			return out[i].LCP > out[j].LCP
		}
		return out[i].PageURL < out[j].PageURL
	})
	return out
}
