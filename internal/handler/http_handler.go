package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/enricher"
	"github.com/gosight/gosight/signals/internal/heatmap"
	"github.com/gosight/gosight/signals/internal/insights"
	"github.com/gosight/gosight/signals/internal/live"
	"github.com/gosight/gosight/signals/internal/models"
)

const (
	defaultRateWindow       = time.Minute
	defaultPercentileWindow = time.Hour
	defaultPercentile       = 75
)

// SessionIndex lists stored sessions with their metadata
type SessionIndex interface {
	FetchSessionIndex(ctx context.Context, projectID string, tr models.TimeRange, f models.Filters) ([]models.SessionIndexEntry, error)
}

type HTTPHandler struct {
	insights *insights.Service
	heatmaps *heatmap.Service
	live     *live.Manager
	sessions SessionIndex
	enricher *enricher.Enricher

	defaultDelayMs int64
}

func NewHTTPHandler(ins *insights.Service, hm *heatmap.Service, lm *live.Manager, sessions SessionIndex, e *enricher.Enricher, liveCfg config.LiveConfig) *HTTPHandler {
	return &HTTPHandler{
		insights:       ins,
		heatmaps:       hm,
		live:           lm,
		sessions:       sessions,
		enricher:       e,
		defaultDelayMs: liveCfg.DefaultDelayMs,
	}
}

func (h *HTTPHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	window, err := durationParam(r, "window", defaultRateWindow)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.insights.GetRate(r.Context(), chi.URLParam(r, "projectID"), window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) HandlePercentile(w http.ResponseWriter, r *http.Request) {
	metric, ok := insights.ParseMetric(r.URL.Query().Get("metric"))
	if !ok {
		writeError(w, r, insights.ErrUnknownMetric)
		return
	}
	p, err := floatParam(r, "p", defaultPercentile)
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := durationParam(r, "window", defaultPercentileWindow)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.insights.GetPercentile(r.Context(), chi.URLParam(r, "projectID"), metric, p, window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) HandleRageClicks(w http.ResponseWriter, r *http.Request) {
	tr, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.insights.GetRageIncidents(r.Context(), chi.URLParam(r, "projectID"), tr, r.URL.Query().Get("page"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) HandleDeadClicks(w http.ResponseWriter, r *http.Request) {
	tr, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.insights.GetDeadClicks(r.Context(), chi.URLParam(r, "projectID"), tr, r.URL.Query().Get("page"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) HandleErrors(w http.ResponseWriter, r *http.Request) {
	tr, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.insights.GetErrorGroups(r.Context(), chi.URLParam(r, "projectID"), tr, r.URL.Query().Get("page"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) HandleCoOccurrence(w http.ResponseWriter, r *http.Request) {
	tr, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.insights.GetCoOccurrence(r.Context(), chi.URLParam(r, "projectID"), tr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) HandleSlowPages(w http.ResponseWriter, r *http.Request) {
	tr, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.insights.GetSlowPages(r.Context(), chi.URLParam(r, "projectID"), tr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) HandleHeatmap(w http.ResponseWriter, r *http.Request) {
	tr, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := heatmap.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	res, err := h.heatmaps.GetHeatmap(r.Context(), heatmap.Query{
		ProjectID: chi.URLParam(r, "projectID"),
		PageURL:   q.Get("page"),
		EventType: models.EventType(q.Get("type")),
		Device:    q.Get("device"),
		Range:     tr,
		Mode:      mode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type SessionsResponse struct {
	Sessions []models.SessionIndexEntry `json:"sessions"`
}

func (h *HTTPHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	tr, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	entries, err := h.sessions.FetchSessionIndex(r.Context(), chi.URLParam(r, "projectID"), tr, models.Filters{
		PageURL:    q.Get("page"),
		DeviceType: q.Get("device"),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", insights.ErrStoreUnavailable, err))
		return
	}
	if entries == nil {
		entries = []models.SessionIndexEntry{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: entries})
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Project-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
