// Package httpx provides HTTP handlers and utilities for the geolens diagnosis API.
package httpx

import (
	"errors"
	"net/http"

	"github.com/geolens/geolens/internal/data"
	"github.com/geolens/geolens/internal/domain/model"
	"github.com/geolens/geolens/internal/service"
)

// DiagnosisHandlers provides HTTP handlers for diagnosis operations.
type DiagnosisHandlers struct {
	Svc *service.DiagnosisService
}

// Create handles HTTP requests to submit a new diagnosis. The job runs in
// the background; the response carries the execution id to poll with.
func (h *DiagnosisHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateDiagnosisRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Submit(r.Context(), req)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "submit_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// Status handles HTTP requests for the poller snapshot of a diagnosis.
func (h *DiagnosisHandlers) Status(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")
	if executionID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("execution id is required")})
		return
	}

	status, err := h.Svc.Status(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, data.ErrDiagnosisNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "status_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// diagnosisResultsResponse pairs the job with the results gathered so far.
type diagnosisResultsResponse struct {
	Job     *model.DiagnosisJob   `json:"job"`
	Results []*model.ResultRecord `json:"results"`
}

// Results handles HTTP requests for the result rows of a diagnosis.
// Partial and failed jobs return whatever was persisted before the end.
func (h *DiagnosisHandlers) Results(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")
	if executionID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("execution id is required")})
		return
	}

	job, results, err := h.Svc.Results(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, data.ErrDiagnosisNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "results_failed", Err: err})
		return
	}

	if results == nil {
		results = []*model.ResultRecord{}
	}
	WriteJSON(w, http.StatusOK, diagnosisResultsResponse{Job: job, Results: results})
}
