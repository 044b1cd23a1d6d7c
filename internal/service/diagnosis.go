package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/geolens/geolens/internal/core"
	"github.com/geolens/geolens/internal/domain/model"
	"github.com/geolens/geolens/internal/lifecycle"
)

// JobRunner executes a diagnosis job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, job *model.DiagnosisJob) error
}

// DiagnosisRepos groups the repositories used by DiagnosisService.
type DiagnosisRepos struct {
	Diagnoses core.DiagnosisRepository
	Results   core.ResultRepository
	Cache     core.StatusCacheRepository // Optional: status snapshot cache
}

// DiagnosisServiceOptions groups dependencies for DiagnosisService.
type DiagnosisServiceOptions struct {
	Repos  DiagnosisRepos
	Runner JobRunner    // Required: executes submitted jobs
	Logger *slog.Logger // Optional: structured logger
}

// DiagnosisService provides business logic for diagnosis submission and
// observation. Submission returns as soon as the job row exists; the
// runner works through the grid in the background.
type DiagnosisService struct {
	diagnoses core.DiagnosisRepository
	results   core.ResultRepository
	cache     core.StatusCacheRepository
	runner    JobRunner
	logger    *slog.Logger
}

// NewDiagnosisService constructs a new DiagnosisService with validation.
func NewDiagnosisService(opts DiagnosisServiceOptions) (*DiagnosisService, error) {
	if opts.Repos.Diagnoses == nil {
		return nil, errors.New("DiagnosisRepository is required")
	}
	if opts.Repos.Results == nil {
		return nil, errors.New("ResultRepository is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("JobRunner is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "diagnosis_service")
	} else {
		logger = slog.Default().With("component", "diagnosis_service")
	}

	return &DiagnosisService{
		diagnoses: opts.Repos.Diagnoses,
		results:   opts.Repos.Results,
		cache:     opts.Repos.Cache,
		runner:    opts.Runner,
		logger:    logger,
	}, nil
}

// Submit accepts a diagnosis request, persists the job, and starts the
// runner in the background. The returned job carries the execution id the
// caller polls with.
func (s *DiagnosisService) Submit(ctx context.Context, req model.CreateDiagnosisRequest) (*model.DiagnosisJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := &model.DiagnosisJob{
		ExecutionID:      uuid.NewString(),
		MainBrand:        req.MainBrand,
		CompetitorBrands: req.CompetitorBrands,
		Questions:        req.Questions,
		Providers:        req.Providers,
		ExpectedTotal:    req.ExpectedTotal(),
	}

	created, err := s.diagnoses.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create diagnosis: %w", err)
	}

	s.logger.InfoContext(ctx, "diagnosis submitted",
		"execution_id", created.ExecutionID,
		"main_brand", created.MainBrand,
		"expected_total", created.ExpectedTotal,
		"providers", created.Providers,
	)

	// The runner outlives the HTTP request; it carries its own deadline.
	go func() {
		runCtx := context.Background()
		if err := s.runner.Run(runCtx, created); err != nil {
			s.logger.ErrorContext(runCtx, "diagnosis run failed",
				"execution_id", created.ExecutionID,
				"error", err,
			)
		}
	}()

	return created, nil
}

// Status returns the poller snapshot, preferring the cache and falling
// back to the database on a miss.
func (s *DiagnosisService) Status(ctx context.Context, executionID string) (*model.DiagnosisStatus, error) {
	if s.cache != nil {
		if status, err := s.cache.Get(ctx, executionID); err == nil && status != nil {
			return status, nil
		}
	}

	status, err := s.diagnoses.Status(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("get diagnosis status: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, status); err != nil {
			s.logger.WarnContext(ctx, "status cache write failed",
				"execution_id", executionID, "error", err)
		}
	}
	return status, nil
}

// Results returns the job and whatever results exist so far. Partial and
// failed jobs expose their partial data; that is the point.
func (s *DiagnosisService) Results(ctx context.Context, executionID string) (*model.DiagnosisJob, []*model.ResultRecord, error) {
	job, err := s.diagnoses.GetByExecutionID(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get diagnosis: %w", err)
	}

	results, err := s.results.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("list results: %w", err)
	}
	return job, results, nil
}

// CachingTransitionStore decorates a DiagnosisRepository so every
// persisted transition also refreshes the status cache. The database
// write is authoritative; a cache failure is logged and swallowed.
type CachingTransitionStore struct {
	Repo   core.DiagnosisRepository
	Cache  core.StatusCacheRepository
	Logger *slog.Logger
}

// PersistTransition implements lifecycle.Store.
func (s *CachingTransitionStore) PersistTransition(ctx context.Context, executionID string, rec lifecycle.TransitionRecord) error {
	if err := s.Repo.PersistTransition(ctx, executionID, rec); err != nil {
		return err
	}
	if s.Cache == nil {
		return nil
	}

	status, err := s.Repo.Status(ctx, executionID)
	if err == nil {
		err = s.Cache.Set(ctx, status)
	}
	if err != nil && s.Logger != nil {
		s.Logger.WarnContext(ctx, "status cache refresh failed",
			"execution_id", executionID, "error", err)
	}
	return nil
}
