package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/geolens/geolens/internal/data/pgxutil"
	"github.com/geolens/geolens/internal/domain/model"
	"github.com/geolens/geolens/internal/lifecycle"
)

// DiagnosisRepo provides database operations for diagnosis jobs. Its
// PersistTransition method makes it the durable store behind the
// lifecycle state machine.
type DiagnosisRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// DiagnosisRepoConfig holds configuration options for the diagnosis repository.
type DiagnosisRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewDiagnosisRepo creates a new DiagnosisRepo instance.
func NewDiagnosisRepo(db *sql.DB, cfg DiagnosisRepoConfig) *DiagnosisRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosisRepo{DB: db, timeProvider: tp, logger: logger}
}

const diagnosisColumns = `
  execution_id,
  main_brand,
  competitor_brands,
  questions,
  providers,
  state,
  progress,
  expected_total,
  actual_count,
  success_count,
  error_message,
  created_at,
  updated_at
`

// Create inserts a new diagnosis job.
func (r *DiagnosisRepo) Create(ctx context.Context, job *model.DiagnosisJob) (*model.DiagnosisJob, error) {
	if job.ExecutionID == "" {
		return nil, ErrExecutionIDRequired
	}

	var created model.DiagnosisJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `
			INSERT INTO diagnoses (
				execution_id, main_brand, competitor_brands, questions,
				providers, state, expected_total
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING ` + diagnosisColumns

		rows, err := conn.Query(ctx, query,
			job.ExecutionID,
			job.MainBrand,
			job.CompetitorBrands,
			job.Questions,
			job.Providers,
			string(model.StateInitializing),
			job.ExpectedTotal,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		created, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DiagnosisJob])
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrDiagnosisAlreadyExists
		}
		return nil, fmt.Errorf("failed to create diagnosis: %w", err)
	}
	return &created, nil
}

// GetByExecutionID retrieves a diagnosis job by its execution id.
func (r *DiagnosisRepo) GetByExecutionID(ctx context.Context, executionID string) (*model.DiagnosisJob, error) {
	if executionID == "" {
		return nil, ErrExecutionIDRequired
	}

	var job model.DiagnosisJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `SELECT ` + diagnosisColumns + ` FROM diagnoses WHERE execution_id = $1`
		rows, err := conn.Query(ctx, query, executionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DiagnosisJob])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDiagnosisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnosis: %w", err)
	}
	return &job, nil
}

// Status returns the poller snapshot for one job.
func (r *DiagnosisRepo) Status(ctx context.Context, executionID string) (*model.DiagnosisStatus, error) {
	if executionID == "" {
		return nil, ErrExecutionIDRequired
	}

	var status model.DiagnosisStatus
	query := `
		SELECT execution_id, state, progress, should_stop_polling,
		       actual_count, expected_total, error_message
		FROM diagnoses WHERE execution_id = $1`
	err := r.DB.QueryRowContext(ctx, query, executionID).Scan(
		&status.ExecutionID,
		&status.State,
		&status.Progress,
		&status.ShouldStopPolling,
		&status.ActualCount,
		&status.ExpectedTotal,
		&status.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDiagnosisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnosis status: %w", err)
	}
	return &status, nil
}

// PersistTransition lands state, progress, the stop-polling flag, and the
// metadata-derived counters in one UPDATE, so a poller reading the row
// never sees a state that disagrees with its flag.
func (r *DiagnosisRepo) PersistTransition(ctx context.Context, executionID string, rec lifecycle.TransitionRecord) error {
	if executionID == "" {
		return ErrExecutionIDRequired
	}

	query := `
		UPDATE diagnoses SET
			state = $2,
			progress = $3,
			should_stop_polling = $4,
			actual_count = COALESCE($5, actual_count),
			success_count = COALESCE($6, success_count),
			error_message = COALESCE($7, error_message),
			updated_at = $8
		WHERE execution_id = $1`

	res, err := r.DB.ExecContext(ctx, query,
		executionID,
		string(rec.State),
		rec.Progress,
		rec.ShouldStopPolling,
		metaInt(rec.Metadata, "results_count"),
		metaInt(rec.Metadata, "success_count"),
		metaString(rec.Metadata, "error_message"),
		r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}
	if n == 0 {
		return ErrDiagnosisNotFound
	}
	return nil
}

// ListByState returns jobs in a given state, oldest update first. Used by
// the dead letter reaper and operational tooling.
func (r *DiagnosisRepo) ListByState(ctx context.Context, state model.DiagnosisState, limit int) ([]*model.DiagnosisJob, error) {
	if limit <= 0 {
		limit = 100
	}

	var jobs []model.DiagnosisJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `SELECT ` + diagnosisColumns + `
			FROM diagnoses WHERE state = $1
			ORDER BY updated_at ASC LIMIT $2`
		rows, err := conn.Query(ctx, query, string(state), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		jobs, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.DiagnosisJob])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnoses: %w", err)
	}

	out := make([]*model.DiagnosisJob, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out, nil
}

func metaInt(md lifecycle.Metadata, key string) *int64 {
	if md == nil {
		return nil
	}
	switch v := md[key].(type) {
	case int:
		n := int64(v)
		return &n
	case int64:
		return &v
	case float64:
		n := int64(v)
		return &n
	default:
		return nil
	}
}

func metaString(md lifecycle.Metadata, key string) *string {
	if md == nil {
		return nil
	}
	if s, ok := md[key].(string); ok && s != "" {
		return &s
	}
	return nil
}
