package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolens/geolens/internal/domain/model"
)

// recordingStore captures persisted transitions for assertions.
type recordingStore struct {
	mu          sync.Mutex
	records     []TransitionRecord
	failPersist error
}

func (s *recordingStore) PersistTransition(_ context.Context, _ string, rec TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPersist != nil {
		return s.failPersist
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingStore) last(t *testing.T) TransitionRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.records)
	return s.records[len(s.records)-1]
}

func newTestMachine(t *testing.T, expected int) (*Machine, *recordingStore) {
	t.Helper()
	store := &recordingStore{}
	m, err := NewMachine(MachineOptions{
		ExecutionID:   "exec-1",
		ExpectedTotal: expected,
		Store:         store,
	})
	require.NoError(t, err)
	return m, store
}

func TestMachine_HappyPath(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t, 4)

	require.NoError(t, m.Fire(ctx, EventSucceed, nil))
	assert.Equal(t, model.StateAIFetching, m.State())
	assert.False(t, store.last(t).ShouldStopPolling)

	require.NoError(t, m.Fire(ctx, EventAllComplete, Metadata{"results_count": 4}))
	assert.Equal(t, model.StateAnalyzing, m.State())

	require.NoError(t, m.Fire(ctx, EventSucceed, nil))
	assert.Equal(t, model.StateCompleted, m.State())

	last := store.last(t)
	assert.True(t, last.ShouldStopPolling)
	assert.Equal(t, 100, last.Progress)
}

func TestMachine_AllCompleteGuard(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t, 4)
	require.NoError(t, m.Fire(ctx, EventSucceed, nil))

	t.Run("fewer results rejected", func(t *testing.T) {
		err := m.Fire(ctx, EventAllComplete, Metadata{"results_count": 3})
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, model.StateAIFetching, m.State())
	})

	t.Run("missing count rejected", func(t *testing.T) {
		err := m.Fire(ctx, EventAllComplete, nil)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, model.StateAIFetching, m.State())
	})

	t.Run("float count from json metadata accepted", func(t *testing.T) {
		err := m.Fire(ctx, EventAllComplete, Metadata{"results_count": float64(4)})
		require.NoError(t, err)
		assert.Equal(t, model.StateAnalyzing, m.State())
	})
}

func TestMachine_IllegalTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("initializing cannot complete", func(t *testing.T) {
		m, store := newTestMachine(t, 1)
		err := m.Fire(ctx, EventAllComplete, Metadata{"results_count": 1})
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, model.StateInitializing, m.State())
		assert.Empty(t, store.records)
	})

	t.Run("terminal state rejects everything", func(t *testing.T) {
		m, _ := newTestMachine(t, 1)
		require.NoError(t, m.Fire(ctx, EventSucceed, nil))
		require.NoError(t, m.Fire(ctx, EventPartialSucceed, nil))
		assert.Equal(t, model.StatePartialSuccess, m.State())

		for _, ev := range []Event{EventSucceed, EventAllComplete, EventPartialSucceed, EventTimeout, EventFail} {
			err := m.Fire(ctx, ev, nil)
			assert.ErrorIs(t, err, ErrInvalidTransition, "event %s", ev)
			assert.Equal(t, model.StatePartialSuccess, m.State())
		}
	})

	t.Run("state unchanged when persist fails", func(t *testing.T) {
		store := &recordingStore{failPersist: errors.New("db down")}
		m, err := NewMachine(MachineOptions{ExecutionID: "exec-1", ExpectedTotal: 1, Store: store})
		require.NoError(t, err)

		err = m.Fire(ctx, EventSucceed, nil)
		require.Error(t, err)
		assert.Equal(t, model.StateInitializing, m.State())
	})
}

func TestMachine_FailFromAnyNonTerminal(t *testing.T) {
	ctx := context.Background()

	for _, setup := range []struct {
		name   string
		events []Event
	}{
		{"from initializing", nil},
		{"from fetching", []Event{EventSucceed}},
		{"from analyzing", []Event{EventSucceed, EventAllComplete}},
	} {
		t.Run(setup.name, func(t *testing.T) {
			m, store := newTestMachine(t, 0)
			for _, ev := range setup.events {
				md := Metadata(nil)
				if ev == EventAllComplete {
					md = Metadata{"results_count": 0}
				}
				require.NoError(t, m.Fire(ctx, ev, md))
			}
			require.NoError(t, m.Fire(ctx, EventFail, Metadata{"error_message": "boom"}))
			assert.Equal(t, model.StateFailed, m.State())
			assert.True(t, store.last(t).ShouldStopPolling)
		})
	}
}

func TestMachine_Timeout(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t, 4)
	require.NoError(t, m.Fire(ctx, EventSucceed, nil))

	require.NoError(t, m.Fire(ctx, EventTimeout, nil))
	assert.Equal(t, model.StateTimeout, m.State())
	assert.True(t, store.last(t).ShouldStopPolling)
}

func TestMachine_SetProgress(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t, 4)
	require.NoError(t, m.Fire(ctx, EventSucceed, nil))

	require.NoError(t, m.SetProgress(ctx, 50, Metadata{"results_count": 2, "success_count": 2}))
	last := store.last(t)
	assert.Equal(t, 50, last.Progress)
	assert.Equal(t, model.StateAIFetching, last.State)
	assert.False(t, last.ShouldStopPolling)
	assert.Equal(t, 2, last.Metadata["results_count"])
	assert.Equal(t, 50, m.Progress())

	t.Run("clamped above", func(t *testing.T) {
		require.NoError(t, m.SetProgress(ctx, 150, nil))
		assert.Equal(t, 100, m.Progress())
	})

	t.Run("never regresses", func(t *testing.T) {
		require.NoError(t, m.SetProgress(ctx, 25, nil))
		assert.Equal(t, 100, m.Progress())
		assert.Equal(t, 100, store.last(t).Progress)
		require.NoError(t, m.SetProgress(ctx, -5, nil))
		assert.Equal(t, 100, m.Progress())
	})
}

func TestNewMachine_Validation(t *testing.T) {
	_, err := NewMachine(MachineOptions{Store: &recordingStore{}})
	assert.Error(t, err)

	_, err = NewMachine(MachineOptions{ExecutionID: "exec-1"})
	assert.Error(t, err)

	m, err := NewMachine(MachineOptions{
		ExecutionID: "exec-1",
		Store:       &recordingStore{},
		Initial:     model.StateAIFetching,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateAIFetching, m.State())
}
