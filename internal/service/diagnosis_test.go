package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolens/geolens/internal/domain/model"
	"github.com/geolens/geolens/internal/lifecycle"
)

type stubDiagnosisRepo struct {
	mu          sync.Mutex
	jobs        map[string]*model.DiagnosisJob
	statuses    map[string]*model.DiagnosisStatus
	transitions []lifecycle.TransitionRecord
	failCreate  error
	failPersist error
}

func newStubDiagnosisRepo() *stubDiagnosisRepo {
	return &stubDiagnosisRepo{
		jobs:     make(map[string]*model.DiagnosisJob),
		statuses: make(map[string]*model.DiagnosisStatus),
	}
}

func (s *stubDiagnosisRepo) Create(_ context.Context, job *model.DiagnosisJob) (*model.DiagnosisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return nil, s.failCreate
	}
	cp := *job
	cp.State = model.StateInitializing
	s.jobs[job.ExecutionID] = &cp
	s.statuses[job.ExecutionID] = &model.DiagnosisStatus{
		ExecutionID:   job.ExecutionID,
		State:         model.StateInitializing,
		ExpectedTotal: job.ExpectedTotal,
	}
	return &cp, nil
}

func (s *stubDiagnosisRepo) GetByExecutionID(_ context.Context, executionID string) (*model.DiagnosisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[executionID]
	if !ok {
		return nil, errors.New("diagnosis not found")
	}
	return job, nil
}

func (s *stubDiagnosisRepo) Status(_ context.Context, executionID string) (*model.DiagnosisStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[executionID]
	if !ok {
		return nil, errors.New("diagnosis not found")
	}
	return status, nil
}

func (s *stubDiagnosisRepo) PersistTransition(_ context.Context, executionID string, rec lifecycle.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPersist != nil {
		return s.failPersist
	}
	s.transitions = append(s.transitions, rec)
	s.statuses[executionID] = &model.DiagnosisStatus{
		ExecutionID:       executionID,
		State:             rec.State,
		Progress:          rec.Progress,
		ShouldStopPolling: rec.ShouldStopPolling,
	}
	return nil
}

func (s *stubDiagnosisRepo) ListByState(_ context.Context, state model.DiagnosisState, _ int) ([]*model.DiagnosisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.DiagnosisJob
	for _, job := range s.jobs {
		if job.State == state {
			out = append(out, job)
		}
	}
	return out, nil
}

type stubResultRepo struct {
	mu      sync.Mutex
	byExec  map[string][]*model.ResultRecord
	failAll error
}

func newStubResultRepo() *stubResultRepo {
	return &stubResultRepo{byExec: make(map[string][]*model.ResultRecord)}
}

func (s *stubResultRepo) InsertIdempotent(_ context.Context, rec *model.ResultRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byExec[rec.ExecutionID] = append(s.byExec[rec.ExecutionID], rec)
	return true, nil
}

func (s *stubResultRepo) ListByExecution(_ context.Context, executionID string) ([]*model.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return nil, s.failAll
	}
	return s.byExec[executionID], nil
}

func (s *stubResultRepo) CountByExecution(_ context.Context, executionID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.byExec[executionID])
	success := 0
	for _, rec := range s.byExec[executionID] {
		if rec.Status == model.ResultStatusSuccess {
			success++
		}
	}
	return total, success, nil
}

type stubStatusCache struct {
	mu      sync.Mutex
	entries map[string]*model.DiagnosisStatus
	sets    int
	failSet error
}

func newStubStatusCache() *stubStatusCache {
	return &stubStatusCache{entries: make(map[string]*model.DiagnosisStatus)}
}

func (s *stubStatusCache) Set(_ context.Context, status *model.DiagnosisStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.failSet != nil {
		return s.failSet
	}
	s.entries[status.ExecutionID] = status
	return nil
}

func (s *stubStatusCache) Get(_ context.Context, executionID string) (*model.DiagnosisStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[executionID], nil
}

func (s *stubStatusCache) Delete(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, executionID)
	return nil
}

type stubRunner struct {
	ran chan *model.DiagnosisJob
}

func newStubRunner() *stubRunner {
	return &stubRunner{ran: make(chan *model.DiagnosisJob, 1)}
}

func (r *stubRunner) Run(_ context.Context, job *model.DiagnosisJob) error {
	r.ran <- job
	return nil
}

func validRequest() model.CreateDiagnosisRequest {
	return model.CreateDiagnosisRequest{
		MainBrand:        "Acme",
		CompetitorBrands: []string{"Globex"},
		Questions:        []string{"best crm tool?"},
		Providers:        []string{"openai"},
	}
}

func newTestService(t *testing.T, repo *stubDiagnosisRepo, results *stubResultRepo, cache *stubStatusCache, runner JobRunner) *DiagnosisService {
	t.Helper()
	repos := DiagnosisRepos{Diagnoses: repo, Results: results}
	if cache != nil {
		// Assign only when non-nil so a nil *stubStatusCache does not
		// become a non-nil interface holding a typed nil.
		repos.Cache = cache
	}
	svc, err := NewDiagnosisService(DiagnosisServiceOptions{
		Repos:  repos,
		Runner: runner,
	})
	require.NoError(t, err)
	return svc
}

func TestDiagnosisService_Submit(t *testing.T) {
	repo := newStubDiagnosisRepo()
	runner := newStubRunner()
	svc := newTestService(t, repo, newStubResultRepo(), nil, runner)

	job, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ExecutionID)
	assert.Equal(t, model.StateInitializing, job.State)
	assert.Equal(t, 2, job.ExpectedTotal) // 1 question x 2 brands x 1 provider

	select {
	case ran := <-runner.ran:
		assert.Equal(t, job.ExecutionID, ran.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("runner was not started")
	}
}

func TestDiagnosisService_Submit_InvalidRequest(t *testing.T) {
	repo := newStubDiagnosisRepo()
	runner := newStubRunner()
	svc := newTestService(t, repo, newStubResultRepo(), nil, runner)

	req := validRequest()
	req.MainBrand = ""
	_, err := svc.Submit(context.Background(), req)
	require.Error(t, err)

	select {
	case <-runner.ran:
		t.Fatal("runner must not start for a rejected request")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, repo.jobs)
}

func TestDiagnosisService_Submit_RepoFailure(t *testing.T) {
	repo := newStubDiagnosisRepo()
	repo.failCreate = errors.New("db down")
	svc := newTestService(t, repo, newStubResultRepo(), nil, newStubRunner())

	_, err := svc.Submit(context.Background(), validRequest())
	assert.ErrorContains(t, err, "db down")
}

func TestDiagnosisService_Status_CacheHit(t *testing.T) {
	repo := newStubDiagnosisRepo()
	cache := newStubStatusCache()
	cache.entries["exec-1"] = &model.DiagnosisStatus{
		ExecutionID: "exec-1",
		State:       model.StateAIFetching,
		Progress:    50,
	}
	svc := newTestService(t, repo, newStubResultRepo(), cache, newStubRunner())

	status, err := svc.Status(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 50, status.Progress)
}

func TestDiagnosisService_Status_CacheMissFallsBackToDB(t *testing.T) {
	repo := newStubDiagnosisRepo()
	cache := newStubStatusCache()
	svc := newTestService(t, repo, newStubResultRepo(), cache, newStubRunner())

	_, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	var executionID string
	for id := range repo.jobs {
		executionID = id
	}

	status, err := svc.Status(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, model.StateInitializing, status.State)
	assert.NotNil(t, cache.entries[executionID], "DB result is cached after a miss")
}

func TestDiagnosisService_Status_NotFound(t *testing.T) {
	svc := newTestService(t, newStubDiagnosisRepo(), newStubResultRepo(), nil, newStubRunner())
	_, err := svc.Status(context.Background(), "missing")
	assert.Error(t, err)
}

func TestDiagnosisService_Results(t *testing.T) {
	repo := newStubDiagnosisRepo()
	results := newStubResultRepo()
	svc := newTestService(t, repo, results, nil, newStubRunner())

	job, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = results.InsertIdempotent(context.Background(), &model.ResultRecord{
		ExecutionID: job.ExecutionID,
		Status:      model.ResultStatusSuccess,
	})
	require.NoError(t, err)

	got, recs, err := svc.Results(context.Background(), job.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, job.ExecutionID, got.ExecutionID)
	assert.Len(t, recs, 1)
}

func TestCachingTransitionStore(t *testing.T) {
	t.Run("refreshes cache after persist", func(t *testing.T) {
		repo := newStubDiagnosisRepo()
		cache := newStubStatusCache()
		_, err := repo.Create(context.Background(), &model.DiagnosisJob{ExecutionID: "exec-1", ExpectedTotal: 4})
		require.NoError(t, err)

		store := &CachingTransitionStore{Repo: repo, Cache: cache}
		err = store.PersistTransition(context.Background(), "exec-1", lifecycle.TransitionRecord{
			State:    model.StateAIFetching,
			Progress: 25,
		})
		require.NoError(t, err)

		cached := cache.entries["exec-1"]
		require.NotNil(t, cached)
		assert.Equal(t, model.StateAIFetching, cached.State)
		assert.Equal(t, 25, cached.Progress)
	})

	t.Run("repo failure propagates", func(t *testing.T) {
		repo := newStubDiagnosisRepo()
		repo.failPersist = errors.New("db down")
		store := &CachingTransitionStore{Repo: repo, Cache: newStubStatusCache()}

		err := store.PersistTransition(context.Background(), "exec-1", lifecycle.TransitionRecord{})
		assert.ErrorContains(t, err, "db down")
	})

	t.Run("cache failure is swallowed", func(t *testing.T) {
		repo := newStubDiagnosisRepo()
		cache := newStubStatusCache()
		cache.failSet = errors.New("redis down")
		_, err := repo.Create(context.Background(), &model.DiagnosisJob{ExecutionID: "exec-1"})
		require.NoError(t, err)

		store := &CachingTransitionStore{Repo: repo, Cache: cache}
		err = store.PersistTransition(context.Background(), "exec-1", lifecycle.TransitionRecord{
			State: model.StateFailed,
		})
		assert.NoError(t, err)
	})
}
