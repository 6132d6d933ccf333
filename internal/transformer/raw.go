package transformer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/gosight/gosight/signals/internal/models"
)

var (
	ErrEmptyEvent       = errors.New("empty event")
	ErrMissingTimestamp = errors.New("event has no timestamp")
	ErrUnknownKind      = errors.New("unknown replay event kind")
	ErrCorruptPayload   = errors.New("corrupt packed event")
)

// maxUnpackedSize bounds the decompressed size of a single packed event.
const maxUnpackedSize = 16 << 20

// RawEvent is an event as a producer sent it: either packed bytes (JSON text,
// gzip, or base64-encoded gzip) or an already structured ReplayEvent.
type RawEvent struct {
	packed     []byte
	structured *models.ReplayEvent
}

func Packed(b []byte) RawEvent {
	return RawEvent{packed: b}
}

func Structured(e models.ReplayEvent) RawEvent {
	return RawEvent{structured: &e}
}

func (r RawEvent) IsPacked() bool {
	return r.structured == nil
}

// UnmarshalJSON never rejects an item: a JSON string becomes its packed
// content, anything else is kept verbatim and decoded lazily by Unpack.
func (r *RawEvent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Packed([]byte(s))
		return nil
	}
	*r = Packed(append([]byte(nil), data...))
	return nil
}

func (r RawEvent) MarshalJSON() ([]byte, error) {
	if r.structured != nil {
		return json.Marshal(r.structured)
	}
	if json.Valid(r.packed) {
		return r.packed, nil
	}
	return json.Marshal(string(r.packed))
}

// Unpack turns a RawEvent into a validated ReplayEvent.
func Unpack(r RawEvent) (models.ReplayEvent, error) {
	var ev models.ReplayEvent
	if r.structured != nil {
		ev = *r.structured
	} else {
		decoded, err := unpackBytes(r.packed, true)
		if err != nil {
			return models.ReplayEvent{}, err
		}
		ev = decoded
	}

	if !ev.Kind.Valid() {
		return models.ReplayEvent{}, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	if ev.Timestamp <= 0 {
		return models.ReplayEvent{}, ErrMissingTimestamp
	}
	return ev, nil
}

// UnpackBatch unpacks every item independently. Failures are returned by
// index and never abort the rest of the batch.
func UnpackBatch(raws []RawEvent) ([]models.ReplayEvent, map[int]error) {
	events := make([]models.ReplayEvent, 0, len(raws))
	var failed map[int]error
	for i, raw := range raws {
		ev, err := Unpack(raw)
		if err != nil {
			if failed == nil {
				failed = make(map[int]error)
			}
			failed[i] = err
			continue
		}
		events = append(events, ev)
	}
	return events, failed
}

func unpackBytes(b []byte, allowBase64 bool) (models.ReplayEvent, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return models.ReplayEvent{}, ErrEmptyEvent
	}

	switch {
	case b[0] == '{':
		var ev models.ReplayEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			return models.ReplayEvent{}, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		return ev, nil

	case len(b) > 1 && b[0] == 0x1f && b[1] == 0x8b:
		plain, err := gunzip(b)
		if err != nil {
			return models.ReplayEvent{}, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		return unpackBytes(plain, false)

	case allowBase64:
		decoded, err := base64.StdEncoding.DecodeString(string(b))
		if err != nil {
			return models.ReplayEvent{}, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		return unpackBytes(decoded, false)
	}

	return models.ReplayEvent{}, ErrCorruptPayload
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	plain, err := io.ReadAll(io.LimitReader(zr, maxUnpackedSize+1))
	if err != nil {
		return nil, err
	}
	if len(plain) > maxUnpackedSize {
		return nil, errors.New("unpacked event exceeds size limit")
	}
	return plain, nil
}

// LiveMessage is the envelope producers publish on the live ingest topic.
type LiveMessage struct {
	RecordingID  string            `json:"recording_id"`
	SourceUserID string            `json:"source_user_id"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Event        RawEvent          `json:"event"`
}

// DecodeLiveMessage parses a live ingest envelope. The embedded event is
// left packed; callers unpack it separately.
func DecodeLiveMessage(data []byte) (LiveMessage, error) {
	var msg LiveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return LiveMessage{}, err
	}
	if msg.RecordingID == "" {
		return LiveMessage{}, errors.New("live message has no recording_id")
	}
	return msg, nil
}
