package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
	"github.com/gosight/gosight/signals/internal/transformer"
)

// ClickHouse is the event store: it reads bounded slices of stored events and
// persists finished live recordings.
type ClickHouse struct {
	conn driver.Conn
}

// EventRow represents a row read from the events table
type EventRow struct {
	SessionID      string
	ProjectID      string
	EventType      string
	Timestamp      time.Time
	PageURL        string
	DeviceType     string
	ViewportWidth  uint16
	ViewportHeight uint16
	Payload        string
}

// WebVitalsRow represents a row read from the web_vitals table
type WebVitalsRow struct {
	ProjectID string
	SessionID string
	PageURL   string
	Timestamp time.Time
	LCP       *float64
	CLS       *float64
	INP       *float64
}

// ErrorRow represents a row read from the errors table
type ErrorRow struct {
	ProjectID string
	SessionID string
	PageURL   string
	Timestamp time.Time
	ErrorType string
	Message   string
	Stack     string
}

// SessionRow is the part of the sessions table exposed by the session index
type SessionRow struct {
	SessionID  string
	StartedAt  time.Time
	Browser    string
	OS         string
	DeviceType string
	Country    string
	City       string
	EntryPage  string
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

func (c *ClickHouse) FetchEvents(ctx context.Context, projectID string, tr models.TimeRange, f models.Filters) ([]models.InteractionEvent, error) {
	query, args := eventsQuery(projectID, tr, f)
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.InteractionEvent
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(
			&r.SessionID, &r.ProjectID, &r.EventType, &r.Timestamp,
			&r.PageURL, &r.DeviceType, &r.ViewportWidth, &r.ViewportHeight, &r.Payload,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev, ok := eventFromRow(r); ok {
			events = append(events, ev)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// FetchPerformanceSamples returns one sample per web_vitals row plus one per
// captured JavaScript error.
func (c *ClickHouse) FetchPerformanceSamples(ctx context.Context, projectID string, tr models.TimeRange, f models.Filters) ([]models.PerformanceSample, error) {
	samples, err := c.fetchWebVitals(ctx, projectID, tr, f)
	if err != nil {
		return nil, err
	}
	errSamples, err := c.fetchErrors(ctx, projectID, tr, f)
	if err != nil {
		return nil, err
	}
	return append(samples, errSamples...), nil
}

func (c *ClickHouse) fetchWebVitals(ctx context.Context, projectID string, tr models.TimeRange, f models.Filters) ([]models.PerformanceSample, error) {
	query, args := webVitalsQuery(projectID, tr, f)
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query web vitals: %w", err)
	}
	defer rows.Close()

	var samples []models.PerformanceSample
	for rows.Next() {
		var r WebVitalsRow
		if err := rows.Scan(&r.ProjectID, &r.SessionID, &r.PageURL, &r.Timestamp, &r.LCP, &r.CLS, &r.INP); err != nil {
			return nil, fmt.Errorf("scan web vitals: %w", err)
		}
		samples = append(samples, sampleFromVitals(r))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read web vitals: %w", err)
	}
	return samples, nil
}

func (c *ClickHouse) fetchErrors(ctx context.Context, projectID string, tr models.TimeRange, f models.Filters) ([]models.PerformanceSample, error) {
	query, args := errorsQuery(projectID, tr, f)
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()

	var samples []models.PerformanceSample
	for rows.Next() {
		var r ErrorRow
		if err := rows.Scan(&r.ProjectID, &r.SessionID, &r.PageURL, &r.Timestamp, &r.ErrorType, &r.Message, &r.Stack); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		if s, ok := sampleFromError(r); ok {
			samples = append(samples, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read errors: %w", err)
	}
	return samples, nil
}

// FetchSessionIndex lists the sessions started inside tr with their metadata.
func (c *ClickHouse) FetchSessionIndex(ctx context.Context, projectID string, tr models.TimeRange, f models.Filters) ([]models.SessionIndexEntry, error) {
	query, args := sessionsQuery(projectID, tr, f)
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	entries := make([]models.SessionIndexEntry, 0)
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.SessionID, &r.StartedAt, &r.Browser, &r.OS, &r.DeviceType, &r.Country, &r.City, &r.EntryPage); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		entries = append(entries, sessionEntry(r))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	return entries, nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

func eventFromRow(r EventRow) (models.InteractionEvent, bool) {
	eventType, ok := models.ParseEventType(r.EventType)
	if !ok {
		metrics.RecordDropped("unknown_event_type", 1)
		return models.InteractionEvent{}, false
	}

	ev := models.InteractionEvent{
		SessionID:  r.SessionID,
		ProjectID:  r.ProjectID,
		PageURL:    r.PageURL,
		EventType:  eventType,
		Timestamp:  r.Timestamp.UnixMilli(),
		DeviceType: r.DeviceType,
	}
	if r.ViewportWidth > 0 && r.ViewportHeight > 0 {
		ev.Viewport = &models.Viewport{Width: int(r.ViewportWidth), Height: int(r.ViewportHeight)}
	}

	payload, err := transformer.DecodePayload(r.Payload)
	if err != nil {
		log.Debug().Err(err).Str("session_id", r.SessionID).Msg("Failed to decode event payload")
		metrics.RecordDropped("bad_payload", 1)
		payload = nil
	}
	transformer.ApplyPayload(&ev, payload)
	return ev, true
}

func sampleFromVitals(r WebVitalsRow) models.PerformanceSample {
	return models.PerformanceSample{
		SessionID: r.SessionID,
		ProjectID: r.ProjectID,
		PageURL:   r.PageURL,
		Timestamp: r.Timestamp.UnixMilli(),
		LCP:       r.LCP,
		CLS:       r.CLS,
		INP:       r.INP,
	}
}

func sampleFromError(r ErrorRow) (models.PerformanceSample, bool) {
	if r.ErrorType == "" && r.Message == "" {
		metrics.RecordDropped("empty_error", 1)
		return models.PerformanceSample{}, false
	}
	return models.PerformanceSample{
		SessionID: r.SessionID,
		ProjectID: r.ProjectID,
		PageURL:   r.PageURL,
		Timestamp: r.Timestamp.UnixMilli(),
		JSErrors:  []models.ErrorRef{{Name: r.ErrorType, Message: r.Message, Stack: r.Stack}},
	}, true
}

func sessionEntry(r SessionRow) models.SessionIndexEntry {
	meta := map[string]string{
		"started_at": r.StartedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range map[string]string{
		"browser":     r.Browser,
		"os":          r.OS,
		"device_type": r.DeviceType,
		"country":     r.Country,
		"city":        r.City,
		"entry_page":  r.EntryPage,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	return models.SessionIndexEntry{SessionID: r.SessionID, Metadata: meta}
}
