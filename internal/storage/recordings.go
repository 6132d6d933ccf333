package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/gosight/gosight/signals/internal/models"
)

// RecordingRow represents a row in the live_recordings table
type RecordingRow struct {
	RecordingID  string
	ProjectID    string
	StartedAt    time.Time
	EndedAt      time.Time
	EventsCount  uint32
	Participants string
}

// RecordingEventRow represents a row in the live_recording_events table
type RecordingEventRow struct {
	RecordingID  string
	Seq          uint64
	SourceUserID string
	Kind         string
	Timestamp    time.Time
	Source       string
	PageURL      string
	Data         string
	ReceivedAt   time.Time
}

// SaveRecording persists a finished live recording: its events first, then
// the recording row that marks it complete.
func (c *ClickHouse) SaveRecording(ctx context.Context, rec models.RecordingArchive) error {
	recRow, eventRows, err := recordingRows(rec)
	if err != nil {
		return err
	}
	if err := c.insertRecordingEvents(ctx, eventRows); err != nil {
		return fmt.Errorf("insert recording events: %w", err)
	}
	if err := c.insertRecording(ctx, recRow); err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func (c *ClickHouse) insertRecordingEvents(ctx context.Context, rows []RecordingEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO live_recording_events (
			recording_id, seq, source_user_id, kind, timestamp,
			source, page_url, data, received_at
		)
	`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		err := batch.Append(
			r.RecordingID, r.Seq, r.SourceUserID, r.Kind, r.Timestamp,
			r.Source, r.PageURL, r.Data, r.ReceivedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) insertRecording(ctx context.Context, r RecordingRow) error {
	return c.conn.Exec(ctx, `
		INSERT INTO live_recordings (
			recording_id, project_id, started_at, ended_at,
			events_count, participants
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		r.RecordingID, r.ProjectID, r.StartedAt, r.EndedAt,
		r.EventsCount, r.Participants,
	)
}

func recordingRows(rec models.RecordingArchive) (RecordingRow, []RecordingEventRow, error) {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return RecordingRow{}, nil, fmt.Errorf("encode participants: %w", err)
	}

	events := make([]RecordingEventRow, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		events = append(events, RecordingEventRow{
			RecordingID:  rec.RecordingID,
			Seq:          e.Seq,
			SourceUserID: e.SourceUserID,
			Kind:         string(e.Event.Kind),
			Timestamp:    time.UnixMilli(e.Event.Timestamp),
			Source:       e.Event.Source,
			PageURL:      e.Event.PageURL,
			Data:         string(e.Event.Data),
			ReceivedAt:   time.UnixMilli(e.ReceivedAt),
		})
	}

	return RecordingRow{
		RecordingID:  rec.RecordingID,
		ProjectID:    rec.ProjectID,
		StartedAt:    time.UnixMilli(rec.StartTime),
		EndedAt:      time.UnixMilli(rec.EndTime),
		EventsCount:  uint32(len(rec.Entries)),
		Participants: string(participants),
	}, events, nil
}
