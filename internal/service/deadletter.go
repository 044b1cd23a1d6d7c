package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geolens/geolens/config"
	"github.com/geolens/geolens/internal/core"
	"github.com/geolens/geolens/internal/domain/model"
)

// DeadLetterServiceOptions groups dependencies for DeadLetterService.
type DeadLetterServiceOptions struct {
	Repo   core.DeadLetterRepository // Required: dead letter repository
	Config config.DeadLetterConfig   // Required: retention configuration
	Logger *slog.Logger              // Optional: structured logger
}

// DeadLetterService provides triage operations over the dead letter
// queue and runs the retention reaper.
type DeadLetterService struct {
	repo   core.DeadLetterRepository
	config config.DeadLetterConfig
	logger *slog.Logger
}

// NewDeadLetterService constructs a new DeadLetterService with validation.
func NewDeadLetterService(opts DeadLetterServiceOptions) (*DeadLetterService, error) {
	if opts.Repo == nil {
		return nil, errors.New("DeadLetterRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "dead_letter_service")
	} else {
		logger = slog.Default().With("component", "dead_letter_service")
	}

	return &DeadLetterService{
		repo:   opts.Repo,
		config: opts.Config,
		logger: logger,
	}, nil
}

// Add parks a failed task. Satisfies the runner's sink interface.
func (s *DeadLetterService) Add(ctx context.Context, req *model.AddDeadLetterRequest) error {
	entry, err := s.repo.Add(ctx, req)
	if err != nil {
		return fmt.Errorf("add dead letter: %w", err)
	}

	s.logger.WarnContext(ctx, "task dead-lettered",
		"id", entry.ID,
		"execution_id", entry.ExecutionID,
		"task_type", entry.TaskType,
		"error_type", entry.ErrorType,
		"priority", entry.Priority,
	)
	return nil
}

// GetByID retrieves a dead letter entry by its ID.
func (s *DeadLetterService) GetByID(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return entry, nil
}

// List retrieves dead letter entries matching the filter.
func (s *DeadLetterService) List(ctx context.Context, filter model.DeadLetterFilter) ([]*model.DeadLetterEntry, error) {
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return entries, nil
}

// Resolve closes an open entry.
func (s *DeadLetterService) Resolve(ctx context.Context, id, handledBy, notes string) (*model.DeadLetterEntry, error) {
	entry, err := s.repo.Resolve(ctx, id, handledBy, notes)
	if err != nil {
		return nil, fmt.Errorf("resolve dead letter: %w", err)
	}
	s.logger.InfoContext(ctx, "dead letter resolved", "id", id, "handled_by", handledBy)
	return entry, nil
}

// Ignore dismisses an open entry without action.
func (s *DeadLetterService) Ignore(ctx context.Context, id, handledBy, notes string) (*model.DeadLetterEntry, error) {
	entry, err := s.repo.Ignore(ctx, id, handledBy, notes)
	if err != nil {
		return nil, fmt.Errorf("ignore dead letter: %w", err)
	}
	s.logger.InfoContext(ctx, "dead letter ignored", "id", id, "handled_by", handledBy)
	return entry, nil
}

// Retry claims a pending entry for a re-attempt.
func (s *DeadLetterService) Retry(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	entry, err := s.repo.Retry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retry dead letter: %w", err)
	}
	s.logger.InfoContext(ctx, "dead letter claimed for retry", "id", id)
	return entry, nil
}

// Statistics summarizes queue contents.
func (s *DeadLetterService) Statistics(ctx context.Context) (*model.DeadLetterStats, error) {
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead letter statistics: %w", err)
	}
	return stats, nil
}

// Cleanup deletes closed entries older than the given window and
// reports how many were removed. A non-positive window falls back to
// the configured retention. The reaper calls this on a ticker; the
// admin endpoint calls it on demand with an optional override.
func (s *DeadLetterService) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = s.config.Retention
	}
	deleted, err := s.repo.Cleanup(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("dead letter cleanup: %w", err)
	}
	return deleted, nil
}

// Run starts the retention reaper loop and runs until the context is
// cancelled. Returns nil on graceful shutdown.
func (s *DeadLetterService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting dead letter reaper",
		"interval", s.config.CleanupInterval,
		"retention", s.config.Retention,
	)

	// Jitter spreads sweeps across instances started together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "dead letter reaper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *DeadLetterService) sweep(ctx context.Context) {
	deleted, err := s.Cleanup(ctx, 0)
	if err != nil {
		s.logger.ErrorContext(ctx, "dead letter cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "dead letter sweep complete", "deleted", deleted)
	}
}

// waitWithJitter delays up to 10% of the interval.
func (s *DeadLetterService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.CleanupInterval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
