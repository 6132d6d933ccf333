package consumer

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/thejerf/suture/v4"

	"github.com/gosight/gosight/signals/internal/config"
)

const defaultLiveTopic = "gosight.live.events"

// MessageProcessor interface for processing messages
type MessageProcessor interface {
	Process(ctx context.Context, value []byte) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer consumes the live ingest topic
type KafkaConsumer struct {
	reader    messageReader
	topic     string
	group     string
	processor MessageProcessor
}

// NewKafkaConsumer creates a new Kafka consumer
func NewKafkaConsumer(cfg config.KafkaConfig, processor MessageProcessor) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	topic := cfg.Topics["live"]
	if topic == "" {
		topic = defaultLiveTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,    // live path, do not wait to fill a batch
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.LastOffset,
	})

	return newKafkaConsumer(reader, topic, cfg.ConsumerGroup, processor), nil
}

func newKafkaConsumer(reader messageReader, topic, group string, processor MessageProcessor) *KafkaConsumer {
	return &KafkaConsumer{
		reader:    reader,
		topic:     topic,
		group:     group,
		processor: processor,
	}
}

// Serve consumes until ctx is cancelled. A closed reader stops the service
// for good; other fetch errors are handed to the supervisor for a restart.
func (c *KafkaConsumer) Serve(ctx context.Context) error {
	log.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Kafka consumer stopped")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return suture.ErrDoNotRestart
			}
			log.Error().Err(err).Msg("Failed to fetch message")
			return err
		}

		if err := c.processor.Process(ctx, msg.Value); err != nil {
			log.Error().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Failed to process live message")
		}

		// Commit either way; a failed live append is never retried
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Failed to commit message")
		}
	}
}

func (c *KafkaConsumer) String() string {
	return "kafka-consumer"
}

// Close closes the consumer
func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	return c.reader.Close()
}
