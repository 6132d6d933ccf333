package consumer

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/thejerf/suture/v4"

	"github.com/gosight/gosight/signals/internal/config"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// fakeReader hands out queued messages, then blocks until ctx is done or
// returns the configured terminal error.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	terminal  error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	terminal := r.terminal
	r.mu.Unlock()

	if terminal != nil {
		return kafka.Message{}, terminal
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type recordingProcessor struct {
	mu     sync.Mutex
	values []string
	fail   map[string]bool
}

func (p *recordingProcessor) Process(_ context.Context, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, string(value))
	if p.fail[string(value)] {
		return errors.New("boom")
	}
	return nil
}

func (p *recordingProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.values...)
}

func TestServe_ProcessesAndCommitsInOrder(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte("a")},
		{Offset: 2, Value: []byte("bad")},
		{Offset: 3, Value: []byte("c")},
	}}
	proc := &recordingProcessor{fail: map[string]bool{"bad": true}}
	c := newKafkaConsumer(reader, "live", "group", proc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(reader.commits()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("commits = %v", reader.commits())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v", err)
	}
	if got := proc.seen(); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("processed %v", got)
	}
	if got := reader.commits(); got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("committed %v", got)
	}
}

func TestServe_ClosedReaderStopsForGood(t *testing.T) {
	c := newKafkaConsumer(&fakeReader{terminal: io.EOF}, "live", "group", &recordingProcessor{})
	if err := c.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("Serve returned %v", err)
	}
}

func TestServe_FetchErrorIsReturned(t *testing.T) {
	fetchErr := errors.New("broker unreachable")
	c := newKafkaConsumer(&fakeReader{terminal: fetchErr}, "live", "group", &recordingProcessor{})
	if err := c.Serve(context.Background()); !errors.Is(err, fetchErr) {
		t.Errorf("Serve returned %v", err)
	}
}

func TestNewKafkaConsumer_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaConsumer(config.KafkaConfig{}, &recordingProcessor{}); err == nil {
		t.Error("expected error without brokers")
	}
}
