// Package lifecycle implements the diagnosis job state machine and the
// stop-polling contract exposed to status pollers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/geolens/geolens/internal/domain/model"
)

// Event triggers a state transition.
type Event string

const (
	// EventSucceed advances INITIALIZING to AI_FETCHING and ANALYZING to COMPLETED.
	EventSucceed Event = "succeed"
	// EventAllComplete advances AI_FETCHING to ANALYZING once every cell succeeded.
	EventAllComplete Event = "all_complete"
	// EventPartialSucceed ends AI_FETCHING with an incomplete or partly failed result set.
	EventPartialSucceed Event = "partial_succeed"
	// EventTimeout forces any fetching job to TIMEOUT when the job timer fires.
	EventTimeout Event = "timeout"
	// EventFail moves any non-terminal state to FAILED.
	EventFail Event = "fail"
)

// ErrInvalidTransition is returned when a requested transition is not in
// the legal transition table. The machine state is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the closed table of legal transitions. EventFail is
// handled separately: it is legal from every non-terminal state.
var transitions = map[model.DiagnosisState]map[Event]model.DiagnosisState{
	model.StateInitializing: {
		EventSucceed: model.StateAIFetching,
	},
	model.StateAIFetching: {
		EventAllComplete:    model.StateAnalyzing,
		EventPartialSucceed: model.StatePartialSuccess,
		EventTimeout:        model.StateTimeout,
	},
	model.StateAnalyzing: {
		EventSucceed: model.StateCompleted,
	},
}

// Metadata carries free-form transition context (results_count,
// error_message) merged into the persisted job metadata.
type Metadata map[string]any

// Store persists a transition. State, progress, and the stop-polling flag
// land in one write so pollers never observe a state/flag mismatch.
type Store interface {
	PersistTransition(ctx context.Context, executionID string, rec TransitionRecord) error
}

// TransitionRecord is the single-write snapshot handed to the Store.
type TransitionRecord struct {
	State             model.DiagnosisState
	Progress          int
	ShouldStopPolling bool
	Metadata          Metadata
}

// MachineOptions configures a Machine.
type MachineOptions struct {
	ExecutionID   string
	ExpectedTotal int
	Store         Store
	Logger        *slog.Logger
	// Initial overrides the starting state, for rehydrating persisted jobs.
	Initial model.DiagnosisState
}

// Machine governs one diagnosis job's lifecycle. Safe for concurrent use.
type Machine struct {
	executionID   string
	expectedTotal int
	store         Store
	logger        *slog.Logger

	mu       sync.Mutex
	state    model.DiagnosisState
	progress int
}

// NewMachine creates a Machine in INITIALIZING unless an initial state is given.
func NewMachine(opts MachineOptions) (*Machine, error) {
	if opts.ExecutionID == "" {
		return nil, errors.New("execution id is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	initial := opts.Initial
	if initial == "" {
		initial = model.StateInitializing
	}
	if !initial.Valid() {
		return nil, fmt.Errorf("invalid initial state: %s", initial)
	}
	return &Machine{
		executionID:   opts.ExecutionID,
		expectedTotal: opts.ExpectedTotal,
		store:         opts.Store,
		logger:        logger,
		state:         initial,
	}, nil
}

// State returns the current state.
func (m *Machine) State() model.DiagnosisState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Progress returns the last persisted progress value.
func (m *Machine) Progress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Fire requests a transition. Illegal transitions return
// ErrInvalidTransition and leave both state and progress unchanged; the
// caller must not treat that as success.
func (m *Machine) Fire(ctx context.Context, event Event, md Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.resolve(event, md)
	if err != nil {
		return err
	}

	progress := m.progress
	if next == model.StateCompleted {
		progress = 100
	}

	rec := TransitionRecord{
		State:             next,
		Progress:          progress,
		ShouldStopPolling: next.Terminal(),
		Metadata:          md,
	}
	if err := m.store.PersistTransition(ctx, m.executionID, rec); err != nil {
		return fmt.Errorf("persist transition %s -> %s: %w", m.state, next, err)
	}

	m.logger.InfoContext(ctx, "diagnosis state transition",
		"execution_id", m.executionID,
		"from", m.state,
		"to", next,
		"event", event,
		"progress", progress,
	)
	m.state = next
	m.progress = progress
	return nil
}

// resolve validates the event against the transition table and its guards.
// Callers must hold m.mu.
func (m *Machine) resolve(event Event, md Metadata) (model.DiagnosisState, error) {
	if event == EventFail {
		if m.state.Terminal() {
			return "", fmt.Errorf("%w: %s --%s-->", ErrInvalidTransition, m.state, event)
		}
		return model.StateFailed, nil
	}

	next, ok := transitions[m.state][event]
	if !ok {
		return "", fmt.Errorf("%w: %s --%s-->", ErrInvalidTransition, m.state, event)
	}

	// Completion must never be declared on an incomplete result set.
	if event == EventAllComplete {
		count, ok := resultsCount(md)
		if !ok || count != m.expectedTotal {
			return "", fmt.Errorf("%w: all_complete requires results_count == %d, got %d",
				ErrInvalidTransition, m.expectedTotal, count)
		}
	}

	return next, nil
}

// SetProgress persists a progress update without changing state. State,
// the stop-polling flag, and any metadata (counter snapshots) ride along
// in the same write. Progress is monotone: a value below the current one
// is floored so a late writer can never walk stored progress backwards.
func (m *Machine) SetProgress(ctx context.Context, progress int, md Metadata) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if progress < m.progress {
		progress = m.progress
	}

	rec := TransitionRecord{
		State:             m.state,
		Progress:          progress,
		ShouldStopPolling: m.state.Terminal(),
		Metadata:          md,
	}
	if err := m.store.PersistTransition(ctx, m.executionID, rec); err != nil {
		return fmt.Errorf("persist progress %d: %w", progress, err)
	}
	m.progress = progress
	return nil
}

func resultsCount(md Metadata) (int, bool) {
	if md == nil {
		return 0, false
	}
	switch v := md["results_count"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
