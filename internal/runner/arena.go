package runner

import "sync"

// jobState is the only cross-worker shared resource for one job: its
// progress counters and seen-hash set, guarded by a single per-job mutex.
// The critical section is O(1), so coarse locking is fine.
type jobState struct {
	mu sync.Mutex

	// commitMu serializes record-then-persist sequences so stored
	// progress and counters never run behind a later write.
	commitMu sync.Mutex

	executionID   string
	expectedTotal int
	actualCount   int
	successCount  int
	progress      int
	seen          map[string]struct{}
	finalized     bool
}

func newJobState(executionID string, expectedTotal int) *jobState {
	return &jobState{
		executionID:   executionID,
		expectedTotal: expectedTotal,
		seen:          make(map[string]struct{}, expectedTotal),
	}
}

// record applies one cell outcome. The write is discarded as a duplicate
// when the content hash was already seen, and rejected outright once the
// job is finalized. Returns whether the write was accepted and the
// resulting progress.
func (s *jobState) record(hash string, success bool) (accepted bool, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return false, s.progress
	}
	if _, dup := s.seen[hash]; dup {
		return false, s.progress
	}
	if s.actualCount >= s.expectedTotal {
		// Invariant: actual_count never exceeds expected_total.
		return false, s.progress
	}

	s.seen[hash] = struct{}{}
	s.actualCount++
	if success {
		s.successCount++
	}
	if s.expectedTotal > 0 {
		s.progress = s.actualCount * 100 / s.expectedTotal
	}
	return true, s.progress
}

// counts returns a consistent snapshot of the progress counters.
func (s *jobState) counts() (actual, success, expected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualCount, s.successCount, s.expectedTotal
}

// finalize closes the state to further cell writes. Idempotent; reports
// whether this call performed the close.
func (s *jobState) finalize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return false
	}
	s.finalized = true
	return true
}

// arena owns the live job states, keyed by execution_id. Each entry has
// its own lock; the arena lock only guards the map itself.
type arena struct {
	mu   sync.RWMutex
	jobs map[string]*jobState
}

func newArena() *arena {
	return &arena{jobs: make(map[string]*jobState)}
}

func (a *arena) create(executionID string, expectedTotal int) *jobState {
	a.mu.Lock()
	defer a.mu.Unlock()
	js := newJobState(executionID, expectedTotal)
	a.jobs[executionID] = js
	return js
}

func (a *arena) get(executionID string) (*jobState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	js, ok := a.jobs[executionID]
	return js, ok
}

func (a *arena) remove(executionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.jobs, executionID)
}
