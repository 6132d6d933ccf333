package broadcast

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/metrics"
)

// Notice tells a subscriber that its recording's log has grown to Seq.
// Subscribers recompute from the log itself, so notices coalesce: a slow
// subscriber only ever holds the newest one.
type Notice struct {
	RecordingID string
	Seq         uint64
}

var subscriberIDCounter atomic.Uint64

type Subscriber struct {
	id          uint64
	recordingID string
	ch          chan Notice
	closed      bool
}

func (s *Subscriber) ID() uint64 {
	return s.id
}

func (s *Subscriber) RecordingID() string {
	return s.recordingID
}

// C is closed when the subscriber is removed or its topic is closed.
func (s *Subscriber) C() <-chan Notice {
	return s.ch
}

// Hub fans append notices out to every subscriber of a recording.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[uint64]*Subscriber
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[uint64]*Subscriber)}
}

func (h *Hub) Subscribe(recordingID string) *Subscriber {
	s := &Subscriber{
		id:          subscriberIDCounter.Add(1),
		recordingID: recordingID,
		ch:          make(chan Notice, 1),
	}

	h.mu.Lock()
	topic, ok := h.topics[recordingID]
	if !ok {
		topic = make(map[uint64]*Subscriber)
		h.topics[recordingID] = topic
	}
	topic[s.id] = s
	h.mu.Unlock()

	metrics.BroadcastSubscribers.Inc()
	log.Debug().Str("recording_id", recordingID).Uint64("subscriber_id", s.id).Msg("Subscriber added")
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if topic, ok := h.topics[s.recordingID]; ok {
		delete(topic, s.id)
		if len(topic) == 0 {
			delete(h.topics, s.recordingID)
		}
	}
	h.closeLocked(s)
}

// Publish notifies every subscriber of recordingID without blocking, in
// subscriber id order.
func (h *Hub) Publish(recordingID string, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := Notice{RecordingID: recordingID, Seq: seq}
	for _, s := range h.sortedLocked(recordingID) {
		select {
		case s.ch <- n:
			continue
		default:
		}
		// Replace the pending notice with the newer one.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- n:
		default:
		}
	}
}

// CloseTopic closes every subscriber of recordingID.
func (h *Hub) CloseTopic(recordingID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.sortedLocked(recordingID)
	for _, s := range subs {
		h.closeLocked(s)
	}
	delete(h.topics, recordingID)

	if len(subs) > 0 {
		log.Debug().Str("recording_id", recordingID).Int("subscribers", len(subs)).Msg("Topic closed")
	}
}

func (h *Hub) Count(recordingID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[recordingID])
}

// Serve closes every topic when ctx is done. It runs as a supervised
// service so viewers are released on shutdown.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	ids := make([]string, 0, len(h.topics))
	for id := range h.topics {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		h.CloseTopic(id)
	}
	log.Info().Int("topics_closed", len(ids)).Msg("Broadcast hub stopped")
	return ctx.Err()
}

func (h *Hub) sortedLocked(recordingID string) []*Subscriber {
	topic := h.topics[recordingID]
	subs := make([]*Subscriber, 0, len(topic))
	for _, s := range topic {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

func (h *Hub) closeLocked(s *Subscriber) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	metrics.BroadcastSubscribers.Dec()
}
