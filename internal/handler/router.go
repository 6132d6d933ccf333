package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *HTTPHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/projects/{projectID}", func(r chi.Router) {
		r.Get("/rate", h.HandleRate)
		r.Get("/percentile", h.HandlePercentile)
		r.Get("/rage-clicks", h.HandleRageClicks)
		r.Get("/dead-clicks", h.HandleDeadClicks)
		r.Get("/errors", h.HandleErrors)
		r.Get("/co-occurrence", h.HandleCoOccurrence)
		r.Get("/slow-pages", h.HandleSlowPages)
		r.Get("/heatmap", h.HandleHeatmap)
		r.Get("/sessions", h.HandleSessions)
		r.Post("/recordings", h.HandleStartRecording)
	})

	r.Route("/v1/recordings/{recordingID}", func(r chi.Router) {
		r.Get("/", h.HandleRecordingInfo)
		r.Delete("/", h.HandleStopRecording)
		r.Post("/events", h.HandleAppendEvents)
		r.Get("/live", h.HandleLiveStream)
	})

	return r
}
