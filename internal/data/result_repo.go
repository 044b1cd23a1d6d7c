package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/geolens/geolens/internal/data/pgxutil"
	"github.com/geolens/geolens/internal/domain/model"
)

// ResultRepo provides database operations for per-cell results. Inserts
// are idempotent on content_hash: the database swallows replays so a
// crashed-and-resumed cell cannot double-count.
type ResultRepo struct {
	DB *sql.DB
}

// NewResultRepo creates a new ResultRepo instance.
func NewResultRepo(db *sql.DB) *ResultRepo {
	return &ResultRepo{DB: db}
}

const resultColumns = `
  id,
  execution_id,
  question_index,
  question,
  brand,
  provider,
  model,
  content,
  signal,
  status,
  error_message,
  retry_count,
  content_hash,
  created_at
`

// InsertIdempotent stores one result record. Returns false when a record
// with the same content hash already exists; the stored row is untouched.
func (r *ResultRepo) InsertIdempotent(ctx context.Context, rec *model.ResultRecord) (bool, error) {
	if rec.ExecutionID == "" {
		return false, ErrExecutionIDRequired
	}

	query := `
		INSERT INTO results (
			execution_id, question_index, question, brand, provider,
			model, content, signal, status, error_message, retry_count,
			content_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (content_hash) DO NOTHING`

	res, err := r.DB.ExecContext(ctx, query,
		rec.ExecutionID,
		rec.QuestionIndex,
		rec.Question,
		rec.Brand,
		rec.Provider,
		rec.Model,
		rec.Content,
		rec.Signal,
		string(rec.Status),
		rec.ErrorMessage,
		rec.RetryCount,
		rec.ContentHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert result: %w", err)
	}
	return n > 0, nil
}

// ListByExecution returns all results of one job in grid order.
func (r *ResultRepo) ListByExecution(ctx context.Context, executionID string) ([]*model.ResultRecord, error) {
	if executionID == "" {
		return nil, ErrExecutionIDRequired
	}

	var recs []model.ResultRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `SELECT ` + resultColumns + `
			FROM results WHERE execution_id = $1
			ORDER BY question_index ASC, brand ASC, provider ASC`
		rows, err := conn.Query(ctx, query, executionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		recs, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.ResultRecord])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	out := make([]*model.ResultRecord, len(recs))
	for i := range recs {
		out[i] = &recs[i]
	}
	return out, nil
}

// CountByExecution returns total and successful result counts for one job.
func (r *ResultRepo) CountByExecution(ctx context.Context, executionID string) (total, success int, err error) {
	if executionID == "" {
		return 0, 0, ErrExecutionIDRequired
	}

	query := `
		SELECT count(*),
		       count(*) FILTER (WHERE status = $2)
		FROM results WHERE execution_id = $1`
	err = r.DB.QueryRowContext(ctx, query, executionID, string(model.ResultStatusSuccess)).
		Scan(&total, &success)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count results: %w", err)
	}
	return total, success, nil
}
