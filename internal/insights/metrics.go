package insights

import (
	"math"
	"sort"
	"strings"

	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
)

// Metric names a web-vitals measurement carried by a PerformanceSample.
type Metric string

const (
	MetricLCP Metric = "LCP"
	MetricCLS Metric = "CLS"
	MetricINP Metric = "INP"
)

func ParseMetric(s string) (Metric, bool) {
	switch Metric(strings.ToUpper(strings.TrimSpace(s))) {
	case MetricLCP:
		return MetricLCP, true
	case MetricCLS:
		return MetricCLS, true
	case MetricINP:
		return MetricINP, true
	}
	return "", false
}

// Rate counts the events at or after windowStart. Events without a
// timestamp never count.
func Rate(events []models.InteractionEvent, windowStart int64) int {
	n, missing := 0, 0
	for _, e := range events {
		if e.Timestamp <= 0 {
			missing++
			continue
		}
		if e.Timestamp >= windowStart {
			n++
		}
	}
	metrics.RecordDropped("missing_timestamp", missing)
	return n
}

// Percentile returns the nearest-rank p-th percentile of values: the element
// at sorted index ceil(p/100*n)-1, clamped to the slice. NaN and infinite
// values are ignored and an empty input yields 0.
func Percentile(values []float64, p float64) float64 {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		clean = append(clean, v)
	}
	n := len(clean)
	if n == 0 {
		return 0
	}
	sort.Float64s(clean)

	// p*n/100 keeps integer inputs exact, p/100*n does not.
	idx := 0
	if !math.IsNaN(p) {
		idx = int(math.Ceil(p*float64(n)/100)) - 1
	}
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return clean[idx]
}

// MetricValues extracts one metric from samples, skipping samples where it
// is missing or the sample has no timestamp.
func MetricValues(samples []models.PerformanceSample, metric Metric) []float64 {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp <= 0 {
			continue
		}
		if v := metricOf(s, metric); v != nil {
			values = append(values, *v)
		}
	}
	return values
}

func metricOf(s models.PerformanceSample, metric Metric) *float64 {
	switch metric {
	case MetricLCP:
		return s.LCP
	case MetricCLS:
		return s.CLS
	case MetricINP:
		return s.INP
	}
	return nil
}
