// Package model defines the core data types and structures used throughout the geolens diagnosis system.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// DiagnosisState represents the lifecycle state of a diagnosis job.
type DiagnosisState string

const (
	// StateInitializing indicates the job was accepted but no provider call has started.
	StateInitializing DiagnosisState = "INITIALIZING"
	// StateAIFetching indicates cells of the execution matrix are running.
	StateAIFetching DiagnosisState = "AI_FETCHING"
	// StateAnalyzing indicates all cells returned and results are being finalized.
	StateAnalyzing DiagnosisState = "ANALYZING"
	// StateCompleted indicates every cell produced a successful result.
	StateCompleted DiagnosisState = "COMPLETED"
	// StatePartialSuccess indicates the job ended with some failed or missing cells.
	StatePartialSuccess DiagnosisState = "PARTIAL_SUCCESS"
	// StateFailed indicates the job produced no usable results.
	StateFailed DiagnosisState = "FAILED"
	// StateTimeout indicates the job-level timer fired before completion.
	StateTimeout DiagnosisState = "TIMEOUT"
)

// Valid returns true if the DiagnosisState is valid.
func (s DiagnosisState) Valid() bool {
	switch s {
	case StateInitializing, StateAIFetching, StateAnalyzing,
		StateCompleted, StatePartialSuccess, StateFailed, StateTimeout:
		return true
	}
	return false
}

// Terminal reports whether the state accepts no further cell writes.
// A poller must stop once it observes a terminal state.
func (s DiagnosisState) Terminal() bool {
	switch s {
	case StateCompleted, StatePartialSuccess, StateFailed, StateTimeout:
		return true
	}
	return false
}

// DiagnosisJob tracks one N×M visibility test run. ExecutionID is the
// idempotency scope for all persistence belonging to the job.
type DiagnosisJob struct {
	ExecutionID      string         `json:"execution_id"            db:"execution_id"`
	MainBrand        string         `json:"main_brand"              db:"main_brand"`
	CompetitorBrands []string       `json:"competitor_brands"       db:"competitor_brands"`
	Questions        []string       `json:"questions"               db:"questions"`
	Providers        []string       `json:"providers"               db:"providers"`
	State            DiagnosisState `json:"state"                   db:"state"`
	Progress         int            `json:"progress"                db:"progress"`
	ExpectedTotal    int            `json:"expected_total"          db:"expected_total"`
	ActualCount      int            `json:"actual_count"            db:"actual_count"`
	SuccessCount     int            `json:"success_count"           db:"success_count"`
	ErrorMessage     *string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time      `json:"created_at"              db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"              db:"updated_at"`
}

// Brands returns the ordered brand set under test: the main brand first,
// then competitors.
func (j *DiagnosisJob) Brands() []string {
	brands := make([]string, 0, 1+len(j.CompetitorBrands))
	brands = append(brands, j.MainBrand)
	brands = append(brands, j.CompetitorBrands...)
	return brands
}

// CreateDiagnosisRequest represents a request to start a new diagnosis.
type CreateDiagnosisRequest struct {
	MainBrand        string   `json:"main_brand"`
	CompetitorBrands []string `json:"competitor_brands,omitempty"`
	Questions        []string `json:"questions"`
	Providers        []string `json:"providers"`
}

const (
	maxQuestions   = 50
	maxCompetitors = 20
)

// Validate validates the CreateDiagnosisRequest fields.
func (r *CreateDiagnosisRequest) Validate() error {
	if r.MainBrand == "" {
		return errors.New("main brand is required")
	}
	if len(r.Questions) == 0 {
		return errors.New("at least one question is required")
	}
	if len(r.Questions) > maxQuestions {
		return fmt.Errorf("too many questions (max %d)", maxQuestions)
	}
	if len(r.CompetitorBrands) > maxCompetitors {
		return fmt.Errorf("too many competitor brands (max %d)", maxCompetitors)
	}
	if len(r.Providers) == 0 {
		return errors.New("at least one provider is required")
	}
	for _, q := range r.Questions {
		if q == "" {
			return errors.New("question must not be empty")
		}
	}
	for _, p := range r.Providers {
		if p == "" {
			return errors.New("provider name must not be empty")
		}
	}
	return nil
}

// ExpectedTotal computes |questions| × |brands| × |providers| for the request.
func (r *CreateDiagnosisRequest) ExpectedTotal() int {
	return len(r.Questions) * (1 + len(r.CompetitorBrands)) * len(r.Providers)
}

// DiagnosisStatus is the snapshot returned to pollers. It is always
// well-formed, including for jobs that ended in a failure state.
type DiagnosisStatus struct {
	ExecutionID       string         `json:"execution_id"`
	State             DiagnosisState `json:"state"`
	Progress          int            `json:"progress"`
	ShouldStopPolling bool           `json:"should_stop_polling"`
	ActualCount       int            `json:"actual_count"`
	ExpectedTotal     int            `json:"expected_total"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
}

// Cell identifies one (question, brand, provider) unit of work in the
// execution matrix. Cells are not persisted; the identity keys result
// deduplication.
type Cell struct {
	QuestionIndex int    `json:"question_index"`
	Brand         string `json:"brand"`
	Provider      string `json:"provider"`
}

// ContentHash derives the idempotency token for one result write. Two
// writes sharing (execution_id, question_index, provider, timestamp)
// produce the same token and collapse to a single stored record.
func ContentHash(executionID string, questionIndex int, provider string, ts time.Time) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s|%d", executionID, questionIndex, provider, ts.UnixMilli()))
	return hex.EncodeToString(h[:])
}
