package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/metrics"
	"github.com/gosight/gosight/signals/internal/models"
	"github.com/gosight/gosight/signals/internal/transformer"
)

// ErrMalformedMessage marks input that can never be processed. The consumer
// commits past it instead of retrying.
var ErrMalformedMessage = errors.New("malformed live message")

// Appender is the write side of the live recording manager
type Appender interface {
	Append(recordingID string, ev models.ReplayEvent, sourceUserID string, metadata map[string]string) (uint64, error)
}

// MetadataEnricher derives participant metadata from raw producer fields
type MetadataEnricher interface {
	Enrich(meta map[string]string, userAgent, clientIP string) map[string]string
}

// LiveProcessor feeds live ingest messages into the recording manager
type LiveProcessor struct {
	appender Appender
	enricher MetadataEnricher
}

func NewLiveProcessor(appender Appender, enricher MetadataEnricher) *LiveProcessor {
	return &LiveProcessor{
		appender: appender,
		enricher: enricher,
	}
}

// Process decodes one live message and appends its event.
func (p *LiveProcessor) Process(ctx context.Context, value []byte) error {
	msg, err := transformer.DecodeLiveMessage(value)
	if err != nil {
		metrics.RecordDropped("malformed_message", 1)
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	ev, err := transformer.Unpack(msg.Event)
	if err != nil {
		metrics.RecordDropped("unpack_failed", 1)
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	meta := msg.Metadata
	if p.enricher != nil {
		meta = p.enricher.Enrich(meta, "", "")
	}

	seq, err := p.appender.Append(msg.RecordingID, ev, msg.SourceUserID, meta)
	if err != nil {
		return fmt.Errorf("append to %s: %w", msg.RecordingID, err)
	}

	log.Debug().
		Str("recording_id", msg.RecordingID).
		Str("source_user_id", msg.SourceUserID).
		Uint64("seq", seq).
		Msg("Live event appended")
	return nil
}
