package runner

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geolens/geolens/internal/domain/model"
	"github.com/geolens/geolens/internal/errors"
	"github.com/geolens/geolens/internal/geo"
	"github.com/geolens/geolens/internal/lifecycle"
	"github.com/geolens/geolens/internal/provider"
	"github.com/geolens/geolens/internal/telemetry"
)

// Mode selects how the cells of one job are scheduled.
type Mode string

const (
	// ModeConcurrent runs cells through a bounded worker pool.
	ModeConcurrent Mode = "concurrent"
	// ModeSequential runs cells one at a time in grid order.
	ModeSequential Mode = "sequential"
	// ModeBatched runs fixed-size batches concurrently, batches in order.
	ModeBatched Mode = "batched"
)

// Valid returns true if the Mode is valid.
func (m Mode) Valid() bool {
	return m == ModeConcurrent || m == ModeSequential || m == ModeBatched
}

// ResultStore persists cell outcomes. Inserts keyed by content hash must
// be idempotent: a second write with the same hash reports inserted=false
// and changes nothing.
type ResultStore interface {
	InsertIdempotent(ctx context.Context, rec *model.ResultRecord) (bool, error)
}

// AttemptLog is the durable append-only record of provider interactions.
type AttemptLog interface {
	Append(ctx context.Context, rec *model.AttemptRecord) error
}

// DeadLetterSink parks cells whose failure survived the retry policy.
type DeadLetterSink interface {
	Add(ctx context.Context, req *model.AddDeadLetterRequest) error
}

// Options configures a Runner.
type Options struct {
	Registry    *provider.Registry
	Client      *provider.Client
	Store       lifecycle.Store
	Results     ResultStore
	Attempts    AttemptLog
	DeadLetters DeadLetterSink
	Logger      *slog.Logger

	Mode        Mode
	Concurrency int
	BatchSize   int
	JobTimeout  time.Duration
	// PromptTemplate overrides DefaultPromptTemplate when set.
	PromptTemplate string
}

// Runner executes diagnosis jobs as an N x M grid of provider calls.
// A failed cell is recorded and dead-lettered; it never takes the rest
// of the grid down with it.
type Runner struct {
	registry    *provider.Registry
	client      *provider.Client
	store       lifecycle.Store
	results     ResultStore
	attempts    AttemptLog
	deadLetters DeadLetterSink
	logger      *slog.Logger

	mode        Mode
	concurrency int
	batchSize   int
	jobTimeout  time.Duration
	template    string

	arena *arena
}

// New creates a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Registry == nil {
		return nil, stderrors.New("registry is required")
	}
	if opts.Client == nil {
		return nil, stderrors.New("client is required")
	}
	if opts.Store == nil {
		return nil, stderrors.New("store is required")
	}
	if opts.Results == nil {
		return nil, stderrors.New("result store is required")
	}
	if opts.Attempts == nil {
		return nil, stderrors.New("attempt log is required")
	}
	if opts.DeadLetters == nil {
		return nil, stderrors.New("dead letter sink is required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeConcurrent
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid mode: %s", mode)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = concurrency
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	template := opts.PromptTemplate
	if template == "" {
		template = DefaultPromptTemplate
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry:    opts.Registry,
		client:      opts.Client,
		store:       opts.Store,
		results:     opts.Results,
		attempts:    opts.Attempts,
		deadLetters: opts.DeadLetters,
		logger:      logger,
		mode:        mode,
		concurrency: concurrency,
		batchSize:   batchSize,
		jobTimeout:  jobTimeout,
		template:    template,
		arena:       newArena(),
	}, nil
}

// Progress returns the in-memory counters of a live job.
func (r *Runner) Progress(executionID string) (actual, success, expected int, ok bool) {
	js, ok := r.arena.get(executionID)
	if !ok {
		return 0, 0, 0, false
	}
	actual, success, expected = js.counts()
	return actual, success, expected, true
}

type cell struct {
	questionIndex int
	question      string
	brand         string
	provider      string
}

// Run executes one job to a terminal state. It returns an error only when
// the job could not be started or a terminal transition could not be
// persisted; individual cell failures are absorbed into the result set.
func (r *Runner) Run(ctx context.Context, job *model.DiagnosisJob) error {
	expected := job.ExpectedTotal
	cells := buildCells(job)
	if expected == 0 {
		expected = len(cells)
	}

	js := r.arena.create(job.ExecutionID, expected)
	defer r.arena.remove(job.ExecutionID)

	machine, err := lifecycle.NewMachine(lifecycle.MachineOptions{
		ExecutionID:   job.ExecutionID,
		ExpectedTotal: expected,
		Store:         r.store,
		Logger:        r.logger,
	})
	if err != nil {
		return err
	}
	if err := machine.Fire(ctx, lifecycle.EventSucceed, nil); err != nil {
		return fmt.Errorf("start job %s: %w", job.ExecutionID, err)
	}

	cellCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.dispatch(cellCtx, job, js, machine, cells)
	}()

	timer := time.NewTimer(r.jobTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return r.finish(ctx, job, js, machine)
	case <-timer.C:
		// The deadline wins over in-flight work: the job goes terminal
		// now and abandoned cells are dropped by the finalized state.
		js.finalize()
		cancel()
		actual, success, _ := js.counts()
		err := machine.Fire(ctx, lifecycle.EventTimeout, lifecycle.Metadata{
			"results_count": actual,
			"success_count": success,
			"error_message": fmt.Sprintf("job exceeded %s deadline", r.jobTimeout),
		})
		telemetry.DiagnosesTotal.WithLabelValues(string(machine.State())).Inc()
		r.logger.WarnContext(ctx, "diagnosis timed out",
			"execution_id", job.ExecutionID,
			"actual_count", actual,
			"expected_total", expected,
		)
		return err
	case <-ctx.Done():
		js.finalize()
		cancel()
		err := machine.Fire(context.WithoutCancel(ctx), lifecycle.EventFail, lifecycle.Metadata{
			"error_message": "job canceled: " + ctx.Err().Error(),
		})
		telemetry.DiagnosesTotal.WithLabelValues(string(machine.State())).Inc()
		return err
	}
}

// finish resolves the terminal state once every cell has been attempted.
func (r *Runner) finish(ctx context.Context, job *model.DiagnosisJob, js *jobState, machine *lifecycle.Machine) error {
	js.finalize()
	actual, success, expected := js.counts()

	var err error
	switch {
	case actual == expected && success == expected:
		err = machine.Fire(ctx, lifecycle.EventAllComplete, lifecycle.Metadata{
			"results_count": actual,
		})
		if err == nil {
			err = machine.Fire(ctx, lifecycle.EventSucceed, lifecycle.Metadata{
				"results_count": actual,
				"success_count": success,
			})
		}
	case success > 0:
		err = machine.Fire(ctx, lifecycle.EventPartialSucceed, lifecycle.Metadata{
			"results_count": actual,
			"success_count": success,
			"error_message": fmt.Sprintf("%d of %d cells failed", actual-success, expected),
		})
	case actual > 0:
		err = machine.Fire(ctx, lifecycle.EventFail, lifecycle.Metadata{
			"results_count": actual,
			"success_count": success,
			"error_message": fmt.Sprintf("all %d cells failed", actual),
		})
	default:
		err = machine.Fire(ctx, lifecycle.EventFail, lifecycle.Metadata{
			"error_message": "no cells produced a result",
		})
	}
	telemetry.DiagnosesTotal.WithLabelValues(string(machine.State())).Inc()

	r.logger.InfoContext(ctx, "diagnosis finished",
		"execution_id", job.ExecutionID,
		"state", machine.State(),
		"actual_count", actual,
		"success_count", success,
		"expected_total", expected,
	)
	return err
}

// dispatch schedules the cells according to the configured mode.
func (r *Runner) dispatch(ctx context.Context, job *model.DiagnosisJob, js *jobState, machine *lifecycle.Machine, cells []cell) {
	switch r.mode {
	case ModeSequential:
		for _, c := range cells {
			if ctx.Err() != nil {
				return
			}
			r.runCell(ctx, job, js, machine, c)
		}
	case ModeBatched:
		for start := 0; start < len(cells); start += r.batchSize {
			if ctx.Err() != nil {
				return
			}
			end := min(start+r.batchSize, len(cells))
			var g errgroup.Group
			for _, c := range cells[start:end] {
				g.Go(func() error {
					r.runCell(ctx, job, js, machine, c)
					return nil
				})
			}
			_ = g.Wait()
		}
	default:
		var g errgroup.Group
		g.SetLimit(r.concurrency)
		for _, c := range cells {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				r.runCell(ctx, job, js, machine, c)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// runCell executes a single grid cell: provider call with retry, signal
// extraction, durable attempt log append, then the counter update. The
// log write strictly precedes the update so a crash between the two loses
// progress accounting, never evidence.
func (r *Runner) runCell(ctx context.Context, job *model.DiagnosisJob, js *jobState, machine *lifecycle.Machine, c cell) {
	telemetry.InFlightCells.Inc()
	defer telemetry.InFlightCells.Dec()

	adapter, err := r.registry.Resolve(c.provider)
	if err != nil {
		r.recordFailure(ctx, job, js, machine, c, "", 0, err)
		return
	}

	req := provider.Request{
		Brand:    c.brand,
		Question: c.question,
		Prompt:   RenderPrompt(r.template, c.brand, c.question),
	}

	start := time.Now()
	res, err := r.client.Send(ctx, adapter, req)
	latency := time.Since(start)

	if err != nil {
		attempts := 1
		if res != nil {
			attempts = res.Attempts
		}
		r.appendAttempt(ctx, c, job.ExecutionID, attempts, latency, nil, err)
		r.recordFailure(ctx, job, js, machine, c, adapter.Name(), attempts, err)
		return
	}

	r.appendAttempt(ctx, c, job.ExecutionID, res.Attempts, latency, res.Response, nil)

	signal := geo.Parse(res.Response.Content, adapter.SignalAliases())
	now := time.Now()
	rec := &model.ResultRecord{
		ExecutionID:   job.ExecutionID,
		QuestionIndex: c.questionIndex,
		Question:      c.question,
		Brand:         c.brand,
		Provider:      c.provider,
		Model:         res.Response.Model,
		Content:       res.Response.Content,
		Signal:        signal,
		Status:        model.ResultStatusSuccess,
		RetryCount:    res.Attempts - 1,
		ContentHash:   model.ContentHash(job.ExecutionID, c.questionIndex, c.provider, now),
		CreatedAt:     now,
	}
	r.commit(ctx, js, machine, rec)
	telemetry.CellsTotal.WithLabelValues(c.provider, "success").Inc()
}

// recordFailure turns a cell failure into a failed result record plus a
// dead letter entry. The job keeps going.
func (r *Runner) recordFailure(ctx context.Context, job *model.DiagnosisJob, js *jobState, machine *lifecycle.Machine, c cell, modelName string, attempts int, cellErr error) {
	msg := cellErr.Error()
	now := time.Now()
	retries := max(attempts-1, 0)
	rec := &model.ResultRecord{
		ExecutionID:   job.ExecutionID,
		QuestionIndex: c.questionIndex,
		Question:      c.question,
		Brand:         c.brand,
		Provider:      c.provider,
		Model:         modelName,
		Signal:        model.DefaultSignal(),
		Status:        model.ResultStatusFailed,
		ErrorMessage:  &msg,
		RetryCount:    retries,
		ContentHash:   model.ContentHash(job.ExecutionID, c.questionIndex, c.provider, now),
		CreatedAt:     now,
	}
	r.commit(ctx, js, machine, rec)
	telemetry.CellsTotal.WithLabelValues(c.provider, "failed").Inc()

	dlCtx, _ := json.Marshal(map[string]any{
		"question_index": c.questionIndex,
		"question":       c.question,
		"brand":          c.brand,
		"provider":       c.provider,
		"retry_count":    retries,
	})
	dl := &model.AddDeadLetterRequest{
		ExecutionID:  job.ExecutionID,
		TaskType:     "ai_fetch",
		ErrorType:    errors.Classify(cellErr),
		ErrorMessage: msg,
		Context:      dlCtx,
		Priority:     deadLetterPriority(cellErr),
	}
	if err := r.deadLetters.Add(context.WithoutCancel(ctx), dl); err != nil {
		r.logger.ErrorContext(ctx, "dead letter insert failed",
			"execution_id", job.ExecutionID,
			"provider", c.provider,
			"error", err,
		)
		return
	}
	telemetry.DeadLettersTotal.Inc()
}

// commit applies the result to the shared counters and persists it. The
// in-memory hash set and the storage-level idempotent insert dedupe the
// same key, so replays are a no-op at both layers. The whole sequence
// holds the job's commit lock: persisted progress and counters always
// land in record order.
func (r *Runner) commit(ctx context.Context, js *jobState, machine *lifecycle.Machine, rec *model.ResultRecord) {
	js.commitMu.Lock()
	defer js.commitMu.Unlock()

	accepted, progress := js.record(rec.ContentHash, rec.Status == model.ResultStatusSuccess)
	if !accepted {
		return
	}
	actual, success, _ := js.counts()
	if _, err := r.results.InsertIdempotent(ctx, rec); err != nil {
		r.logger.ErrorContext(ctx, "result insert failed",
			"execution_id", rec.ExecutionID,
			"content_hash", rec.ContentHash,
			"error", err,
		)
	}
	err := machine.SetProgress(ctx, progress, lifecycle.Metadata{
		"results_count": actual,
		"success_count": success,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "progress update failed",
			"execution_id", rec.ExecutionID,
			"progress", progress,
			"error", err,
		)
	}
}

func (r *Runner) appendAttempt(ctx context.Context, c cell, executionID string, attempts int, latency time.Duration, resp *provider.Response, cellErr error) {
	rec := &model.AttemptRecord{
		ExecutionID:   executionID,
		QuestionIndex: c.questionIndex,
		Brand:         c.brand,
		Provider:      c.provider,
		Attempt:       attempts,
		Success:       cellErr == nil,
		LatencyMs:     latency.Milliseconds(),
		CreatedAt:     time.Now(),
	}
	if resp != nil {
		rec.Response = &resp.Content
	}
	if cellErr != nil {
		msg := cellErr.Error()
		rec.Error = &msg
	}
	if err := r.attempts.Append(context.WithoutCancel(ctx), rec); err != nil {
		// Evidence loss is logged loudly but does not stall the grid.
		r.logger.ErrorContext(ctx, "attempt log append failed",
			"execution_id", executionID,
			"provider", c.provider,
			"error", err,
		)
	}
}

// buildCells expands the job into its execution grid in question-major
// order, so sequential and batched modes work through questions in the
// order they were submitted.
func buildCells(job *model.DiagnosisJob) []cell {
	brands := job.Brands()
	cells := make([]cell, 0, len(job.Questions)*len(brands)*len(job.Providers))
	for qi, q := range job.Questions {
		for _, b := range brands {
			for _, p := range job.Providers {
				cells = append(cells, cell{
					questionIndex: qi,
					question:      q,
					brand:         b,
					provider:      p,
				})
			}
		}
	}
	return cells
}

func deadLetterPriority(err error) int {
	switch {
	case errors.IsAuthentication(err), errors.IsQuotaExceeded(err):
		// Config-level failures poison every cell for the provider.
		return 80
	case errors.Retryable(err):
		return 40
	default:
		return 50
	}
}
