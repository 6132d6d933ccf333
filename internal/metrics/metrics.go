// Package metrics holds the Prometheus instrumentation of the signal engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Windowed metric queries
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_events_dropped_total",
			Help: "Malformed or partial records skipped by the engine",
		},
		[]string{"reason"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signals_query_duration_seconds",
			Help:    "Duration of request-scoped metric queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_query_errors_total",
			Help: "Metric queries that failed on the event store",
		},
		[]string{"query"},
	)

	QueryTruncations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_query_truncations_total",
			Help: "Queries whose slice exceeded the sample cap and was truncated",
		},
		[]string{"query"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_result_cache_lookups_total",
			Help: "Result cache lookups by outcome",
		},
		[]string{"result"}, // "hit", "miss"
	)

	HeatmapPointsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signals_heatmap_points_skipped_total",
			Help: "Heatmap points without coordinates or outside the canonical space",
		},
	)

	// Live recordings
	LiveRecordingsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signals_live_recordings_active",
			Help: "Live recordings currently accepting events",
		},
	)

	LiveAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signals_live_appends_total",
			Help: "Events appended to master event logs",
		},
	)

	LiveAppendsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_live_appends_rejected_total",
			Help: "Events rejected by the live ingest path",
		},
		[]string{"reason"},
	)

	LiveViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signals_live_viewers",
			Help: "Viewer subscriptions currently attached to live recordings",
		},
	)

	ProjectionRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_projection_recomputes_total",
			Help: "Viewer projection recomputations by trigger",
		},
		[]string{"trigger"}, // "backfill", "append", "view"
	)

	ViewerUpdatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signals_viewer_updates_dropped_total",
			Help: "Viewer updates dropped because the viewer was not reading",
		},
	)

	RecordingFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_recording_flushes_total",
			Help: "Finalize flushes of master event logs by result",
		},
		[]string{"result"}, // "ok", "failed"
	)

	BroadcastSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signals_broadcast_subscribers",
			Help: "Subscribers registered on the broadcast hub",
		},
	)
)

// RecordDropped counts n skipped input records.
func RecordDropped(reason string, n int) {
	if n <= 0 {
		return
	}
	EventsDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordQuery records the duration and outcome of a metric query.
func RecordQuery(query string, duration time.Duration, err error) {
	QueryDuration.WithLabelValues(query).Observe(duration.Seconds())
	if err != nil {
		QueryErrors.WithLabelValues(query).Inc()
	}
}

func RecordTruncation(query string) {
	QueryTruncations.WithLabelValues(query).Inc()
}

func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

func RecordFlush(err error) {
	if err != nil {
		RecordingFlushes.WithLabelValues("failed").Inc()
		return
	}
	RecordingFlushes.WithLabelValues("ok").Inc()
}
