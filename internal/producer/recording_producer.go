package producer

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/models"
)

// RecordingSink persists a finished recording
type RecordingSink interface {
	SaveRecording(ctx context.Context, rec models.RecordingArchive) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RecordingFinalized is published once a recording has been persisted
type RecordingFinalized struct {
	RecordingID  string   `json:"recording_id"`
	ProjectID    string   `json:"project_id"`
	StartTime    int64    `json:"start_time"`
	EndTime      int64    `json:"end_time"`
	Events       int      `json:"events"`
	Participants []string `json:"participants"`
}

// NotifyingSink persists through next and then announces the recording on
// Kafka. Only a failed save fails the call; a failed announcement is logged.
type NotifyingSink struct {
	next   RecordingSink
	writer messageWriter
}

func NewNotifyingSink(next RecordingSink, cfg config.KafkaConfig) *NotifyingSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics["recordings"],
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: time.Millisecond * 100,
	}
	return &NotifyingSink{next: next, writer: writer}
}

func (s *NotifyingSink) SaveRecording(ctx context.Context, rec models.RecordingArchive) error {
	if err := s.next.SaveRecording(ctx, rec); err != nil {
		return err
	}

	data, err := json.Marshal(finalizedMessage(rec))
	if err != nil {
		log.Error().Err(err).Str("recording_id", rec.RecordingID).Msg("Failed to encode recording notice")
		return nil
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.ProjectID),
		Value: data,
	})
	if err != nil {
		log.Error().Err(err).Str("recording_id", rec.RecordingID).Msg("Failed to publish recording notice")
	}
	return nil
}

func (s *NotifyingSink) Close() error {
	return s.writer.Close()
}

func finalizedMessage(rec models.RecordingArchive) RecordingFinalized {
	users := make([]string, 0, len(rec.Participants))
	for _, p := range rec.Participants {
		users = append(users, p.UserID)
	}
	return RecordingFinalized{
		RecordingID:  rec.RecordingID,
		ProjectID:    rec.ProjectID,
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		Events:       len(rec.Entries),
		Participants: users,
	}
}
