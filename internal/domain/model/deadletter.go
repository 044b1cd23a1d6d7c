package model

import (
	"encoding/json"
	"errors"
	"time"
)

// DeadLetterStatus represents the triage state of a dead-letter entry.
type DeadLetterStatus string

const (
	// DeadLetterPending indicates the entry awaits triage.
	DeadLetterPending DeadLetterStatus = "pending"
	// DeadLetterProcessing indicates a supervisor is re-attempting the task.
	DeadLetterProcessing DeadLetterStatus = "processing"
	// DeadLetterResolved indicates the entry was handled.
	DeadLetterResolved DeadLetterStatus = "resolved"
	// DeadLetterIgnored indicates the entry was dismissed without action.
	DeadLetterIgnored DeadLetterStatus = "ignored"
)

// Valid returns true if the DeadLetterStatus is valid.
func (s DeadLetterStatus) Valid() bool {
	switch s {
	case DeadLetterPending, DeadLetterProcessing, DeadLetterResolved, DeadLetterIgnored:
		return true
	}
	return false
}

// Open reports whether the entry still needs attention. Open entries are
// never auto-deleted by retention cleanup.
func (s DeadLetterStatus) Open() bool {
	return s == DeadLetterPending || s == DeadLetterProcessing
}

// DeadLetterEntry parks a task whose failure could not be resolved
// through retry, for manual or automated follow-up.
type DeadLetterEntry struct {
	ID              string           `json:"id"                         db:"id"`
	ExecutionID     string           `json:"execution_id"               db:"execution_id"`
	TaskType        string           `json:"task_type"                  db:"task_type"`
	ErrorType       string           `json:"error_type"                 db:"error_type"`
	ErrorMessage    string           `json:"error_message"              db:"error_message"`
	Context         json.RawMessage  `json:"context,omitempty"          db:"context"`
	Priority        int              `json:"priority"                   db:"priority"`
	Status          DeadLetterStatus `json:"status"                     db:"status"`
	HandledBy       *string          `json:"handled_by,omitempty"       db:"handled_by"`
	ResolutionNotes *string          `json:"resolution_notes,omitempty" db:"resolution_notes"`
	CreatedAt       time.Time        `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"                 db:"updated_at"`
}

// AddDeadLetterRequest represents a request to park a failed task.
// Duplicates are acceptable; inserts are intentionally not idempotent.
type AddDeadLetterRequest struct {
	ExecutionID  string          `json:"execution_id"`
	TaskType     string          `json:"task_type"`
	ErrorType    string          `json:"error_type"`
	ErrorMessage string          `json:"error_message"`
	Context      json.RawMessage `json:"context,omitempty"`
	Priority     int             `json:"priority"`
}

// Validate validates the AddDeadLetterRequest fields.
func (r *AddDeadLetterRequest) Validate() error {
	if r.ExecutionID == "" {
		return errors.New("execution id is required")
	}
	if r.TaskType == "" {
		return errors.New("task type is required")
	}
	if r.ErrorMessage == "" {
		return errors.New("error message is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	return nil
}

// DeadLetterFilter narrows List queries for operator triage.
type DeadLetterFilter struct {
	Status      DeadLetterStatus `json:"status,omitempty"`
	TaskType    string           `json:"task_type,omitempty"`
	ExecutionID string           `json:"execution_id,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Offset      int              `json:"offset,omitempty"`
}

// DeadLetterStats summarizes queue contents for the statistics endpoint.
type DeadLetterStats struct {
	ByStatus   map[string]int `json:"by_status"`
	ByTaskType map[string]int `json:"by_task_type"`
	Last24h    int            `json:"last_24h"`
	Total      int            `json:"total"`
}
