package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/geolens/geolens/internal/data/pgxutil"
	"github.com/geolens/geolens/internal/domain/model"
)

// AttemptLogRepo is the append-only evidence log of provider
// interactions. Rows are never updated or deleted by the application.
type AttemptLogRepo struct {
	DB *sql.DB
}

// NewAttemptLogRepo creates a new AttemptLogRepo instance.
func NewAttemptLogRepo(db *sql.DB) *AttemptLogRepo {
	return &AttemptLogRepo{DB: db}
}

const attemptColumns = `
  id,
  execution_id,
  question_index,
  brand,
  provider,
  attempt,
  success,
  latency_ms,
  response,
  error,
  created_at
`

// Append writes one attempt record.
func (r *AttemptLogRepo) Append(ctx context.Context, rec *model.AttemptRecord) error {
	if rec.ExecutionID == "" {
		return ErrExecutionIDRequired
	}

	query := `
		INSERT INTO attempt_log (
			execution_id, question_index, brand, provider,
			attempt, success, latency_ms, response, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.DB.ExecContext(ctx, query,
		rec.ExecutionID,
		rec.QuestionIndex,
		rec.Brand,
		rec.Provider,
		rec.Attempt,
		rec.Success,
		rec.LatencyMs,
		rec.Response,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

// ListByExecution returns the attempt history of one job, oldest first.
func (r *AttemptLogRepo) ListByExecution(ctx context.Context, executionID string) ([]*model.AttemptRecord, error) {
	if executionID == "" {
		return nil, ErrExecutionIDRequired
	}

	var recs []model.AttemptRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `SELECT ` + attemptColumns + `
			FROM attempt_log WHERE execution_id = $1
			ORDER BY id ASC`
		rows, err := conn.Query(ctx, query, executionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		recs, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.AttemptRecord])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	out := make([]*model.AttemptRecord, len(recs))
	for i := range recs {
		out[i] = &recs[i]
	}
	return out, nil
}
