// Package core defines the port interfaces between the service layer and
// its adapters. The core declares what it needs; internal/data provides
// the implementations.
package core

import (
	"context"
	"time"

	"github.com/geolens/geolens/internal/domain/model"
	"github.com/geolens/geolens/internal/lifecycle"
)

// DiagnosisRepository defines persistence operations for diagnosis jobs.
type DiagnosisRepository interface {
	// Create inserts a new diagnosis job in INITIALIZING state.
	Create(ctx context.Context, job *model.DiagnosisJob) (*model.DiagnosisJob, error)

	// GetByExecutionID retrieves a diagnosis job by its execution id.
	GetByExecutionID(ctx context.Context, executionID string) (*model.DiagnosisJob, error)

	// Status returns the poller snapshot for one job.
	Status(ctx context.Context, executionID string) (*model.DiagnosisStatus, error)

	// PersistTransition lands state, progress, stop-polling flag, and
	// metadata-derived counters in a single write.
	PersistTransition(ctx context.Context, executionID string, rec lifecycle.TransitionRecord) error

	// ListByState returns jobs in a given state, oldest update first.
	ListByState(ctx context.Context, state model.DiagnosisState, limit int) ([]*model.DiagnosisJob, error)
}

// ResultRepository defines persistence operations for per-cell results.
type ResultRepository interface {
	// InsertIdempotent stores one result record, reporting false when a
	// record with the same content hash already exists.
	InsertIdempotent(ctx context.Context, rec *model.ResultRecord) (bool, error)

	// ListByExecution returns all results of one job in grid order.
	ListByExecution(ctx context.Context, executionID string) ([]*model.ResultRecord, error)

	// CountByExecution returns total and successful result counts.
	CountByExecution(ctx context.Context, executionID string) (total, success int, err error)
}

// AttemptLogRepository is the append-only evidence log.
type AttemptLogRepository interface {
	// Append writes one attempt record.
	Append(ctx context.Context, rec *model.AttemptRecord) error

	// ListByExecution returns the attempt history of one job, oldest first.
	ListByExecution(ctx context.Context, executionID string) ([]*model.AttemptRecord, error)
}

// DeadLetterRepository defines persistence operations for the dead letter queue.
type DeadLetterRepository interface {
	// Add parks a failed task. Inserts are deliberately not idempotent.
	Add(ctx context.Context, req *model.AddDeadLetterRequest) (*model.DeadLetterEntry, error)

	// GetByID retrieves a dead letter entry by its ID.
	GetByID(ctx context.Context, id string) (*model.DeadLetterEntry, error)

	// List retrieves entries matching the filter, highest priority first.
	List(ctx context.Context, filter model.DeadLetterFilter) ([]*model.DeadLetterEntry, error)

	// Resolve closes an open entry with the operator identity and notes.
	Resolve(ctx context.Context, id, handledBy, notes string) (*model.DeadLetterEntry, error)

	// Ignore dismisses an open entry without action.
	Ignore(ctx context.Context, id, handledBy, notes string) (*model.DeadLetterEntry, error)

	// Retry claims a pending entry for a re-attempt.
	Retry(ctx context.Context, id string) (*model.DeadLetterEntry, error)

	// Statistics summarizes queue contents.
	Statistics(ctx context.Context) (*model.DeadLetterStats, error)

	// Cleanup deletes closed entries older than the retention window.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StatusCacheRepository caches poller snapshots. A miss returns (nil, nil).
type StatusCacheRepository interface {
	Set(ctx context.Context, status *model.DiagnosisStatus) error
	Get(ctx context.Context, executionID string) (*model.DiagnosisStatus, error)
	Delete(ctx context.Context, executionID string) error
}
