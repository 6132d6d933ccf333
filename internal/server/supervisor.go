package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
)

// NewSupervisor builds the root supervisor. Service failures and restarts
// are reported through the global logger.
func NewSupervisor(name string, shutdownTimeout time.Duration) *suture.Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return suture.New(name, suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

func logEvent(e suture.Event) {
	ev := log.Warn()
	switch e.Type() {
	case suture.EventTypeServicePanic:
		ev = log.Error()
	case suture.EventTypeResume:
		ev = log.Info()
	}
	ev.Fields(e.Map()).Msg(e.String())
}

// ServiceFunc adapts a plain function to a supervised service.
type ServiceFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (s ServiceFunc) Serve(ctx context.Context) error {
	return s.Fn(ctx)
}

func (s ServiceFunc) String() string {
	return s.Name
}
