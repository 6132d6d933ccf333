package broadcast

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestHub_PublishReachesOnlyTopic(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("rec-a")
	b := h.Subscribe("rec-a")
	other := h.Subscribe("rec-b")

	h.Publish("rec-a", 1)

	for _, s := range []*Subscriber{a, b} {
		select {
		case n := <-s.C():
			if n.RecordingID != "rec-a" || n.Seq != 1 {
				t.Errorf("subscriber %d got %+v", s.ID(), n)
			}
		default:
			t.Errorf("subscriber %d got nothing", s.ID())
		}
	}
	select {
	case n := <-other.C():
		t.Errorf("other topic got %+v", n)
	default:
	}
}

func TestHub_NoticesCoalesce(t *testing.T) {
	h := NewHub()
	s := h.Subscribe("rec")

	for seq := uint64(1); seq <= 5; seq++ {
		h.Publish("rec", seq)
	}

	n := <-s.C()
	if n.Seq != 5 {
		t.Errorf("got seq %d, want newest 5", n.Seq)
	}
	select {
	case extra := <-s.C():
		t.Errorf("unexpected extra notice %+v", extra)
	default:
	}
}

func TestHub_UnsubscribeLeavesOthers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("rec")
	b := h.Subscribe("rec")

	h.Unsubscribe(a)
	h.Unsubscribe(a)

	if _, ok := <-a.C(); ok {
		t.Error("unsubscribed channel should be closed")
	}
	if h.Count("rec") != 1 {
		t.Errorf("count = %d", h.Count("rec"))
	}

	h.Publish("rec", 7)
	if n := <-b.C(); n.Seq != 7 {
		t.Errorf("remaining subscriber got %+v", n)
	}
}

func TestHub_CloseTopic(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("rec")
	b := h.Subscribe("rec")

	h.CloseTopic("rec")
	h.Unsubscribe(a)

	for _, s := range []*Subscriber{a, b} {
		if _, ok := <-s.C(); ok {
			t.Errorf("subscriber %d still open", s.ID())
		}
	}
	if h.Count("rec") != 0 {
		t.Errorf("count = %d", h.Count("rec"))
	}
	h.Publish("rec", 1)
}

func TestHub_IDsIncrease(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("rec")
	b := h.Subscribe("rec")
	if b.ID() <= a.ID() {
		t.Errorf("ids %d then %d", a.ID(), b.ID())
	}
}

func TestHub_ConcurrentPublish(t *testing.T) {
	h := NewHub()
	s := h.Subscribe("rec")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Publish("rec", uint64(i*100+j))
			}
		}(i)
	}
	wg.Wait()

	select {
	case <-s.C():
	default:
		t.Error("expected a pending notice")
	}
}

func TestHub_ServeClosesOnShutdown(t *testing.T) {
	h := NewHub()
	s := h.Subscribe("rec")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	if _, ok := <-s.C(); ok {
		t.Error("subscriber should be closed after shutdown")
	}
}
