package insights

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
)

var (
	ErrUnknownMetric     = errors.New("unknown metric")
	ErrInvalidPercentile = errors.New("percentile must be in (0, 100]")
	ErrInvalidWindow     = errors.New("window must be positive")
	ErrInvalidRange      = errors.New("time range start is after its end")
	ErrStoreUnavailable  = errors.New("event store unavailable")
)

// EventStore is the read side of the persisted event store.
type EventStore interface {
	FetchEvents(ctx context.Context, projectID string, tr models.TimeRange, f models.Filters) ([]models.InteractionEvent, error)
	FetchPerformanceSamples(ctx context.Context, projectID string, tr models.TimeRange, f models.Filters) ([]models.PerformanceSample, error)
}

// Cache stores computed results for closed time ranges.
type Cache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, v interface{}) error
}

// Service answers metric queries by fetching a capped slice from the store
// and running the detectors over it. It holds no state between requests.
type Service struct {
	store      EventStore
	cache      Cache
	rageClick  *RageClickDetector
	deadClick  *DeadClickDetector
	followUpMs int64
	slowPage   config.SlowPageConfig
	maxSamples int

	now func() time.Time
}

func NewService(store EventStore, cache Cache, cfg config.InsightsConfig, mcfg config.MetricsConfig) *Service {
	return &Service{
		store:      store,
		cache:      cache,
		rageClick:  NewRageClickDetector(cfg.RageClick),
		deadClick:  NewDeadClickDetector(cfg.DeadClick),
		followUpMs: cfg.DeadClick.FollowUpMs,
		slowPage:   cfg.SlowPage,
		maxSamples: mcfg.MaxSamples,
		now:        time.Now,
	}
}

func (s *Service) GetRate(ctx context.Context, projectID string, window time.Duration) (RateResult, error) {
	if window <= 0 {
		return RateResult{}, ErrInvalidWindow
	}
	start := time.Now()

	windowStart := s.now().Add(-window).UnixMilli()
	events, info, err := s.fetchEvents(ctx, "rate", projectID, models.TimeRange{From: windowStart}, models.Filters{})
	metrics.RecordQuery("rate", time.Since(start), err)
	if err != nil {
		return RateResult{}, err
	}

	count := Rate(events, windowStart)
	return RateResult{
		WindowStart: windowStart,
		WindowMs:    window.Milliseconds(),
		Count:       count,
		PerMinute:   float64(count) / window.Minutes(),
		QueryInfo:   info,
	}, nil
}

func (s *Service) GetPercentile(ctx context.Context, projectID string, metric Metric, p float64, window time.Duration) (PercentileResult, error) {
	if _, ok := ParseMetric(string(metric)); !ok {
		return PercentileResult{}, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	if math.IsNaN(p) || p <= 0 || p > 100 {
		return PercentileResult{}, ErrInvalidPercentile
	}
	if window <= 0 {
		return PercentileResult{}, ErrInvalidWindow
	}
	start := time.Now()

	tr := models.TimeRange{From: s.now().Add(-window).UnixMilli()}
	samples, info, err := s.fetchSamples(ctx, "percentile", projectID, tr, models.Filters{})
	metrics.RecordQuery("percentile", time.Since(start), err)
	if err != nil {
		return PercentileResult{}, err
	}

	values := MetricValues(samples, metric)
	metrics.RecordDropped("missing_metric", len(samples)-len(values))
	info.NoData = len(values) == 0
	return PercentileResult{Metric: metric, P: p, Value: Percentile(values, p), QueryInfo: info}, nil
}

func (s *Service) GetRageIncidents(ctx context.Context, projectID string, tr models.TimeRange, pageFilter string) (RageResult, error) {
	return cached(ctx, s, cacheKey("rage", projectID, tr, pageFilter), tr, func() (RageResult, error) {
		start := time.Now()
		events, info, err := s.fetchEvents(ctx, "rage_clicks", projectID, tr, models.Filters{
			PageURL:   pageFilter,
			EventType: models.EventClick,
		})
		metrics.RecordQuery("rage_clicks", time.Since(start), err)
		if err != nil {
			return RageResult{}, err
		}
		return RageResult{Incidents: s.rageClick.Detect(events), QueryInfo: info}, nil
	})
}

func (s *Service) GetDeadClicks(ctx context.Context, projectID string, tr models.TimeRange, pageFilter string) (DeadClickResult, error) {
	return cached(ctx, s, cacheKey("dead", projectID, tr, pageFilter), tr, func() (DeadClickResult, error) {
		start := time.Now()
		clicks, info, err := s.fetchEvents(ctx, "dead_clicks", projectID, tr, models.Filters{
			PageURL:   pageFilter,
			EventType: models.EventClick,
		})
		if err == nil && needsFollowUp(clicks) {
			// Navigation lands on another page, so page views are not page-filtered.
			var views []models.InteractionEvent
			var viewInfo QueryInfo
			views, viewInfo, err = s.fetchEvents(ctx, "dead_clicks", projectID, tr, models.Filters{EventType: models.EventPageView})
			clicks = append(clicks, views...)
			info.Truncated = info.Truncated || viewInfo.Truncated
		}
		metrics.RecordQuery("dead_clicks", time.Since(start), err)
		if err != nil {
			return DeadClickResult{}, err
		}
		outcomes := DeriveOutcomes(clicks, s.followUpMs)
		return DeadClickResult{Groups: s.deadClick.Detect(outcomes), QueryInfo: info}, nil
	})
}

func (s *Service) GetErrorGroups(ctx context.Context, projectID string, tr models.TimeRange, pageFilter string) (ErrorGroupResult, error) {
	return cached(ctx, s, cacheKey("errors", projectID, tr, pageFilter), tr, func() (ErrorGroupResult, error) {
		start := time.Now()
		samples, info, err := s.fetchSamples(ctx, "error_groups", projectID, tr, models.Filters{PageURL: pageFilter})
		metrics.RecordQuery("error_groups", time.Since(start), err)
		if err != nil {
			return ErrorGroupResult{}, err
		}
		return ErrorGroupResult{Groups: GroupErrors(samples), QueryInfo: info}, nil
	})
}

func (s *Service) GetCoOccurrence(ctx context.Context, projectID string, tr models.TimeRange) (CoOccurrenceResult, error) {
	return cached(ctx, s, cacheKey("cooccurrence", projectID, tr, ""), tr, func() (CoOccurrenceResult, error) {
		start := time.Now()
		clicks, clickInfo, err := s.fetchEvents(ctx, "co_occurrence", projectID, tr, models.Filters{EventType: models.EventClick})
		var samples []models.PerformanceSample
		var sampleInfo QueryInfo
		if err == nil {
			samples, sampleInfo, err = s.fetchSamples(ctx, "co_occurrence", projectID, tr, models.Filters{})
		}
		metrics.RecordQuery("co_occurrence", time.Since(start), err)
		if err != nil {
			return CoOccurrenceResult{}, err
		}

		rage := RageSessions(s.rageClick.Detect(clicks))
		errs := ErrorSessions(GroupErrors(samples))
		return CoOccurrenceResult{
			Sessions:      CoOccurrence(rage, errs),
			RageSessions:  len(rage),
			ErrorSessions: len(errs),
			QueryInfo: QueryInfo{
				Samples:   clickInfo.Samples + sampleInfo.Samples,
				Truncated: clickInfo.Truncated || sampleInfo.Truncated,
				NoData:    clickInfo.NoData && sampleInfo.NoData,
			},
		}, nil
	})
}

func (s *Service) GetSlowPages(ctx context.Context, projectID string, tr models.TimeRange) (SlowPageResult, error) {
	return cached(ctx, s, cacheKey("slow_pages", projectID, tr, ""), tr, func() (SlowPageResult, error) {
		start := time.Now()
		samples, info, err := s.fetchSamples(ctx, "slow_pages", projectID, tr, models.Filters{})
		metrics.RecordQuery("slow_pages", time.Since(start), err)
		if err != nil {
			return SlowPageResult{}, err
		}
		pages := SlowPages(samples, s.slowPage.Percentile, s.slowPage.LCPThresholdMs)
		return SlowPageResult{Pages: pages, QueryInfo: info}, nil
	})
}

func (s *Service) fetchEvents(ctx context.Context, query, projectID string, tr models.TimeRange, f models.Filters) ([]models.InteractionEvent, QueryInfo, error) {
	if tr.To != 0 && tr.From > tr.To {
		return nil, QueryInfo{}, ErrInvalidRange
	}
	if s.maxSamples > 0 {
		f.Limit = s.maxSamples + 1
	}
	events, err := s.store.FetchEvents(ctx, projectID, tr, f)
	if err != nil {
		log.Error().Err(err).Str("project_id", projectID).Str("query", query).Msg("Failed to fetch events")
		return nil, QueryInfo{}, fmt.Errorf("%w: fetch events: %w", ErrStoreUnavailable, err)
	}
	events, truncated := models.KeepMostRecent(events, s.maxSamples, func(e models.InteractionEvent) int64 { return e.Timestamp })
	if truncated {
		metrics.RecordTruncation(query)
	}
	return events, QueryInfo{Samples: len(events), Truncated: truncated, NoData: len(events) == 0}, nil
}

func (s *Service) fetchSamples(ctx context.Context, query, projectID string, tr models.TimeRange, f models.Filters) ([]models.PerformanceSample, QueryInfo, error) {
	if tr.To != 0 && tr.From > tr.To {
		return nil, QueryInfo{}, ErrInvalidRange
	}
	if s.maxSamples > 0 {
		f.Limit = s.maxSamples + 1
	}
	samples, err := s.store.FetchPerformanceSamples(ctx, projectID, tr, f)
	if err != nil {
		log.Error().Err(err).Str("project_id", projectID).Str("query", query).Msg("Failed to fetch performance samples")
		return nil, QueryInfo{}, fmt.Errorf("%w: fetch performance samples: %w", ErrStoreUnavailable, err)
	}
	samples, truncated := models.KeepMostRecent(samples, s.maxSamples, func(p models.PerformanceSample) int64 { return p.Timestamp })
	if truncated {
		metrics.RecordTruncation(query)
	}
	return samples, QueryInfo{Samples: len(samples), Truncated: truncated, NoData: len(samples) == 0}, nil
}

func needsFollowUp(clicks []models.InteractionEvent) bool {
	for _, c := range clicks {
		if c.FollowUp == nil {
			return true
		}
	}
	return false
}

func cacheKey(query, projectID string, tr models.TimeRange, page string) string {
	return fmt.Sprintf("signals:%s:%s:%d:%d:%s", query, projectID, tr.From, tr.To, page)
}

// cached serves closed ranges from the result cache. Open ranges still grow
// and are always recomputed. Cache failures fall through to compute.
func cached[T any](ctx context.Context, s *Service, key string, tr models.TimeRange, compute func() (T, error)) (T, error) {
	closed := s.cache != nil && tr.To != 0 && tr.To <= s.now().UnixMilli()
	if closed {
		var hit T
		ok, err := s.cache.Get(ctx, key, &hit)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Result cache lookup failed")
		}
		metrics.RecordCacheLookup(ok)
		if ok {
			return hit, nil
		}
	}

	result, err := compute()
	if err != nil || !closed {
		return result, err
	}
	if err := s.cache.Set(ctx, key, result); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache result")
	}
	return result, nil
}
