package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/live"
	"github.com/gosight/gosight/signals/internal/models"
	"github.com/gosight/gosight/signals/internal/transformer"
)

const maxBatchBody = 8 << 20

type StartRecordingResponse struct {
	RecordingID string `json:"recording_id"`
}

func (h *HTTPHandler) HandleStartRecording(w http.ResponseWriter, r *http.Request) {
	id, err := h.live.Start(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartRecordingResponse{RecordingID: id})
}

func (h *HTTPHandler) HandleRecordingInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.live.Info(chi.URLParam(r, "recordingID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type EventBatchRequest struct {
	SourceUserID string                  `json:"source_user_id"`
	Metadata     map[string]string       `json:"metadata,omitempty"`
	Events       []transformer.RawEvent `json:"events"`
}

type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type EventResponse struct {
	Success       bool        `json:"success"`
	AcceptedCount int         `json:"accepted_count"`
	RejectedCount int         `json:"rejected_count"`
	LastSeq       uint64      `json:"last_seq,omitempty"`
	Errors        []ItemError `json:"errors,omitempty"`

	// Set when the recording refused the rest of the batch.
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type eventAppender interface {
	Append(recordingID string, ev models.ReplayEvent, sourceUserID string, metadata map[string]string) (uint64, error)
}

// HandleAppendEvents appends a batch to a live recording. Items that fail to
// decode are reported by index and the rest of the batch still goes in.
func (h *HTTPHandler) HandleAppendEvents(w http.ResponseWriter, r *http.Request) {
	recordingID := chi.URLParam(r, "recordingID")

	// Read body
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBody))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: failed to read body", errBadRequest))
		return
	}
	defer r.Body.Close()

	// Parse request
	var req EventBatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON", errBadRequest))
		return
	}

	meta := h.enricher.Enrich(req.Metadata, r.Header.Get("User-Agent"), clientIP(r))

	resp, err := appendBatch(h.live, recordingID, req, meta)
	if err != nil {
		// Items before the failure are committed; report them with the error
		status := statusFor(err)
		resp.Error = err.Error()
		resp.Retryable = status == http.StatusServiceUnavailable || status == http.StatusBadGateway
		if resp.AcceptedCount > 0 {
			log.Warn().Err(err).
				Str("recording_id", recordingID).
				Int("accepted", resp.AcceptedCount).
				Msg("Recording refused the rest of a batch")
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// appendBatch appends req.Events in order. Per-item defects are recorded in
// the response; an error from the recording itself stops the batch and is
// returned along with what was accepted before it.
func appendBatch(a eventAppender, recordingID string, req EventBatchRequest, meta map[string]string) (EventResponse, error) {
	resp := EventResponse{}
	for i, raw := range req.Events {
		ev, err := transformer.Unpack(raw)
		if err != nil {
			resp.RejectedCount++
			resp.Errors = append(resp.Errors, ItemError{Index: i, Error: err.Error()})
			continue
		}

		seq, err := a.Append(recordingID, ev, req.SourceUserID, meta)
		if err != nil {
			if errors.Is(err, live.ErrInvalidEvent) {
				resp.RejectedCount++
				resp.Errors = append(resp.Errors, ItemError{Index: i, Error: err.Error()})
				continue
			}
			// The recording itself refuses events; nothing later can succeed
			resp.RejectedCount += len(req.Events) - i
			return resp, err
		}
		resp.AcceptedCount++
		resp.LastSeq = seq
	}

	resp.Success = resp.RejectedCount == 0
	return resp, nil
}

// HandleStopRecording finalizes a recording. With ?abandon=true the log is
// dropped without being persisted.
func (h *HTTPHandler) HandleStopRecording(w http.ResponseWriter, r *http.Request) {
	recordingID := chi.URLParam(r, "recordingID")

	abandon, _ := strconv.ParseBool(r.URL.Query().Get("abandon"))
	var err error
	if abandon {
		err = h.live.Abandon(recordingID)
	} else {
		err = h.live.Stop(r.Context(), recordingID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.Info().Str("recording_id", recordingID).Bool("abandoned", abandon).Msg("Recording stopped via API")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"recording_id": recordingID,
	})
}
