package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/geolens/geolens/internal/data"
	"github.com/geolens/geolens/internal/domain/model"
	"github.com/geolens/geolens/internal/service"
)

// DeadLetterHandlers provides HTTP handlers for dead-letter triage.
type DeadLetterHandlers struct {
	Svc *service.DeadLetterService
}

const (
	defaultDeadLetterLimit = 100
	maxDeadLetterLimit     = 500
)

// List handles HTTP requests to list dead-letter entries, highest
// priority first.
func (h *DeadLetterHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultDeadLetterLimit, maxDeadLetterLimit)
	filter := model.DeadLetterFilter{
		Status:      model.DeadLetterStatus(r.URL.Query().Get("status")),
		TaskType:    r.URL.Query().Get("task_type"),
		ExecutionID: r.URL.Query().Get("execution_id"),
		Limit:       limit,
		Offset:      offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_status", Err: errors.New("unknown dead letter status")})
		return
	}

	entries, err := h.Svc.List(r.Context(), filter)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	if entries == nil {
		entries = []*model.DeadLetterEntry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}

// Get handles HTTP requests for a single dead-letter entry.
func (h *DeadLetterHandlers) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeTriageError(w, "get_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// closeDeadLetterRequest carries operator input for resolve/ignore.
type closeDeadLetterRequest struct {
	HandledBy string `json:"handled_by"`
	Notes     string `json:"notes,omitempty"`
}

// Resolve handles HTTP requests to mark an entry as handled.
func (h *DeadLetterHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	var req closeDeadLetterRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	entry, err := h.Svc.Resolve(r.Context(), r.PathValue("id"), req.HandledBy, req.Notes)
	if err != nil {
		h.writeTriageError(w, "resolve_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// Ignore handles HTTP requests to dismiss an entry without action.
func (h *DeadLetterHandlers) Ignore(w http.ResponseWriter, r *http.Request) {
	var req closeDeadLetterRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	entry, err := h.Svc.Ignore(r.Context(), r.PathValue("id"), req.HandledBy, req.Notes)
	if err != nil {
		h.writeTriageError(w, "ignore_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// Retry handles HTTP requests to move a pending entry to processing so a
// supervisor can re-attempt the parked task.
func (h *DeadLetterHandlers) Retry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Svc.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeTriageError(w, "retry_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// cleanupRequest optionally overrides the retention window in days.
type cleanupRequest struct {
	Days int `json:"days"`
}

// Cleanup handles HTTP requests to sweep closed entries. The body may
// carry {"days": N} to override the configured retention; an empty body
// keeps the default.
func (h *DeadLetterHandlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return
	}
	if req.Days < 0 {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_days", Err: errors.New("days must not be negative")})
		return
	}

	deleted, err := h.Svc.Cleanup(r.Context(), time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "cleanup_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// Statistics handles HTTP requests for queue-level counts.
func (h *DeadLetterHandlers) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Statistics(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (h *DeadLetterHandlers) writeTriageError(w http.ResponseWriter, code string, err error) {
	switch {
	case errors.Is(err, data.ErrDeadLetterNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
	case errors.Is(err, data.ErrDeadLetterNotOpen):
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "not_open", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: code, Err: err})
	}
}
