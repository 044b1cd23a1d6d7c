package model

import "time"

// ResultStatus represents the outcome of one execution cell.
type ResultStatus string

const (
	// ResultStatusSuccess indicates the provider answered and the answer was parsed.
	ResultStatusSuccess ResultStatus = "success"
	// ResultStatusFailed indicates the cell exhausted retries or failed fatally.
	ResultStatusFailed ResultStatus = "failed"
)

// Valid returns true if the ResultStatus is valid.
func (s ResultStatus) Valid() bool {
	return s == ResultStatusSuccess || s == ResultStatusFailed
}

// ResultRecord is one cell's immutable outcome. Exactly one record is
// stored per content hash; later writes with the same hash are discarded.
type ResultRecord struct {
	ID            string       `json:"id,omitempty"            db:"id"`
	ExecutionID   string       `json:"execution_id"            db:"execution_id"`
	QuestionIndex int          `json:"question_index"          db:"question_index"`
	Question      string       `json:"question"                db:"question"`
	Brand         string       `json:"brand"                   db:"brand"`
	Provider      string       `json:"provider"                db:"provider"`
	Model         string       `json:"model"                   db:"model"`
	Content       string       `json:"content"                 db:"content"`
	Signal        GEOSignal    `json:"signal"                  db:"signal"`
	Status        ResultStatus `json:"status"                  db:"status"`
	ErrorMessage  *string      `json:"error_message,omitempty" db:"error_message"`
	RetryCount    int          `json:"retry_count"             db:"retry_count"`
	ContentHash   string       `json:"content_hash"            db:"content_hash"`
	CreatedAt     time.Time    `json:"created_at"              db:"created_at"`
}

// Cell returns the cell identity of the record.
func (r *ResultRecord) Cell() Cell {
	return Cell{QuestionIndex: r.QuestionIndex, Brand: r.Brand, Provider: r.Provider}
}

// AttemptRecord is one append-only entry in the durable attempt log. The
// log is written before any shared counter is touched, so a crash between
// the two steps loses progress accounting but never the evidence.
type AttemptRecord struct {
	ID            int64     `json:"id,omitempty"       db:"id"`
	ExecutionID   string    `json:"execution_id"       db:"execution_id"`
	QuestionIndex int       `json:"question_index"     db:"question_index"`
	Brand         string    `json:"brand"              db:"brand"`
	Provider      string    `json:"provider"           db:"provider"`
	Attempt       int       `json:"attempt"            db:"attempt"`
	Success       bool      `json:"success"            db:"success"`
	LatencyMs     int64     `json:"latency_ms"         db:"latency_ms"`
	Response      *string   `json:"response,omitempty" db:"response"`
	Error         *string   `json:"error,omitempty"    db:"error"`
	CreatedAt     time.Time `json:"created_at"         db:"created_at"`
}
