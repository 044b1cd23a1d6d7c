package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/geolens/geolens/internal/data/pgxutil"
	"github.com/geolens/geolens/internal/domain/model"
)

// DeadLetterRepo provides database operations for the dead letter queue.
// Inserts are deliberately not idempotent; an operator would rather see a
// failure twice than not at all.
type DeadLetterRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// DeadLetterRepoConfig holds configuration options for the dead letter repository.
type DeadLetterRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewDeadLetterRepo creates a new DeadLetterRepo instance.
func NewDeadLetterRepo(db *sql.DB, cfg DeadLetterRepoConfig) *DeadLetterRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterRepo{DB: db, timeProvider: tp, logger: logger}
}

const deadLetterColumns = `
  id,
  execution_id,
  task_type,
  error_type,
  error_message,
  context,
  priority,
  status,
  handled_by,
  resolution_notes,
  created_at,
  updated_at
`

// Add parks a failed task.
func (r *DeadLetterRepo) Add(ctx context.Context, req *model.AddDeadLetterRequest) (*model.DeadLetterEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var entry model.DeadLetterEntry
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `
			INSERT INTO dead_letters (
				execution_id, task_type, error_type, error_message, context, priority
			)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING ` + deadLetterColumns

		rows, err := conn.Query(ctx, query,
			req.ExecutionID,
			req.TaskType,
			req.ErrorType,
			req.ErrorMessage,
			req.Context,
			req.Priority,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		entry, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DeadLetterEntry])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add dead letter: %w", err)
	}
	return &entry, nil
}

// GetByID retrieves a dead letter entry by its ID.
func (r *DeadLetterRepo) GetByID(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}

	var entry model.DeadLetterEntry
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE id = $1`
		rows, err := conn.Query(ctx, query, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		entry, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DeadLetterEntry])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return &entry, nil
}

// List retrieves dead letter entries matching the filter, highest
// priority first, then oldest first.
func (r *DeadLetterRepo) List(ctx context.Context, filter model.DeadLetterFilter) ([]*model.DeadLetterEntry, error) {
	var entries []model.DeadLetterEntry
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE 1=1`
		var args []any

		if filter.Status != "" {
			args = append(args, string(filter.Status))
			query += fmt.Sprintf(" AND status = $%d", len(args))
		}
		if filter.TaskType != "" {
			args = append(args, filter.TaskType)
			query += fmt.Sprintf(" AND task_type = $%d", len(args))
		}
		if filter.ExecutionID != "" {
			args = append(args, filter.ExecutionID)
			query += fmt.Sprintf(" AND execution_id = $%d", len(args))
		}

		query += " ORDER BY priority DESC, created_at ASC"

		limit := filter.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}

		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		entries, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.DeadLetterEntry])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	out := make([]*model.DeadLetterEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out, nil
}

// Resolve closes an open entry with the operator identity and notes.
func (r *DeadLetterRepo) Resolve(ctx context.Context, id, handledBy, notes string) (*model.DeadLetterEntry, error) {
	return r.close(ctx, id, model.DeadLetterResolved, handledBy, notes)
}

// Ignore dismisses an open entry without action.
func (r *DeadLetterRepo) Ignore(ctx context.Context, id, handledBy, notes string) (*model.DeadLetterEntry, error) {
	return r.close(ctx, id, model.DeadLetterIgnored, handledBy, notes)
}

// Retry marks a pending entry as processing, claiming it for a
// re-attempt.
func (r *DeadLetterRepo) Retry(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}

	var entry model.DeadLetterEntry
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `
			UPDATE dead_letters
			SET status = $2, updated_at = $3
			WHERE id = $1 AND status = $4
			RETURNING ` + deadLetterColumns

		rows, err := conn.Query(ctx, query,
			id,
			string(model.DeadLetterProcessing),
			r.timeProvider.Now().UTC(),
			string(model.DeadLetterPending),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		entry, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DeadLetterEntry])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.notFoundOrNotOpen(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retry dead letter: %w", err)
	}
	return &entry, nil
}

// close transitions an open entry to a closed status. Closed entries are
// immutable.
func (r *DeadLetterRepo) close(ctx context.Context, id string, status model.DeadLetterStatus, handledBy, notes string) (*model.DeadLetterEntry, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if handledBy == "" {
		return nil, errors.New("handled_by is required")
	}

	var entry model.DeadLetterEntry
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `
			UPDATE dead_letters
			SET status = $2, handled_by = $3, resolution_notes = NULLIF($4, ''), updated_at = $5
			WHERE id = $1 AND status IN ($6, $7)
			RETURNING ` + deadLetterColumns

		rows, err := conn.Query(ctx, query,
			id,
			string(status),
			handledBy,
			notes,
			r.timeProvider.Now().UTC(),
			string(model.DeadLetterPending),
			string(model.DeadLetterProcessing),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		entry, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DeadLetterEntry])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.notFoundOrNotOpen(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close dead letter: %w", err)
	}
	return &entry, nil
}

// notFoundOrNotOpen disambiguates a zero-row status update.
func (r *DeadLetterRepo) notFoundOrNotOpen(ctx context.Context, id string) error {
	var exists bool
	if err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM dead_letters WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check dead letter: %w", err)
	}
	if !exists {
		return ErrDeadLetterNotFound
	}
	return ErrDeadLetterNotOpen
}

// Statistics summarizes queue contents for the admin statistics endpoint.
func (r *DeadLetterRepo) Statistics(ctx context.Context) (*model.DeadLetterStats, error) {
	stats := &model.DeadLetterStats{
		ByStatus:   make(map[string]int),
		ByTaskType: make(map[string]int),
	}

	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, count(*) FROM dead_letters GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to get dead letter stats: %w", err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get dead letter stats: %w", err)
	}

	typeRows, err := r.DB.QueryContext(ctx,
		`SELECT task_type, count(*) FROM dead_letters GROUP BY task_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter stats: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var taskType string
		var n int
		if err := typeRows.Scan(&taskType, &n); err != nil {
			return nil, fmt.Errorf("failed to get dead letter stats: %w", err)
		}
		stats.ByTaskType[taskType] = n
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get dead letter stats: %w", err)
	}

	cutoff := r.timeProvider.Now().UTC().Add(-24 * time.Hour)
	if err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM dead_letters WHERE created_at >= $1`, cutoff,
	).Scan(&stats.Last24h); err != nil {
		return nil, fmt.Errorf("failed to get dead letter stats: %w", err)
	}

	return stats, nil
}

// Cleanup deletes closed entries older than the retention window. Open
// entries are never touched.
func (r *DeadLetterRepo) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("retention window must be positive")
	}

	cutoff := r.timeProvider.Now().UTC().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM dead_letters
		WHERE status IN ($1, $2) AND updated_at < $3`,
		string(model.DeadLetterResolved),
		string(model.DeadLetterIgnored),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up dead letters: %w", err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "dead letter cleanup", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}
