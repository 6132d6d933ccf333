package handler

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/heatmap"
	"github.com/gosight/gosight/signals/internal/insights"
	"github.com/gosight/gosight/signals/internal/live"
)

var errBadRequest = errors.New("bad request")

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, live.ErrRecordingNotFound):
		return http.StatusNotFound
	case errors.Is(err, live.ErrRecordingNotActive),
		errors.Is(err, live.ErrRecordingActive):
		return http.StatusConflict
	case errors.Is(err, live.ErrFlushFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, insights.ErrStoreUnavailable),
		errors.Is(err, heatmap.ErrStoreUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, errBadRequest),
		errors.Is(err, live.ErrInvalidDelay),
		errors.Is(err, live.ErrInvalidEvent),
		errors.Is(err, insights.ErrUnknownMetric),
		errors.Is(err, insights.ErrInvalidPercentile),
		errors.Is(err, insights.ErrInvalidWindow),
		errors.Is(err, insights.ErrInvalidRange),
		errors.Is(err, heatmap.ErrMissingPage),
		errors.Is(err, heatmap.ErrUnsupportedType),
		errors.Is(err, heatmap.ErrUnknownMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, ErrorResponse{
		Success:   false,
		Error:     err.Error(),
		Retryable: status == http.StatusServiceUnavailable || status == http.StatusBadGateway,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
