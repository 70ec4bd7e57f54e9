package jobengine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/domain"
)

// stubStore is an in-memory Store used across jobengine tests.
type stubStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
	seq  int
}

func newStubStore() *stubStore { return &stubStore{jobs: map[string]domain.Job{}} }

func (s *stubStore) Create(_ context.Context, job domain.Job) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubStore) FindByIdempotencyKey(_ context.Context, apiKeyID, key string) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ApiKeyID == apiKeyID && j.IdempotencyKey != nil && *j.IdempotencyKey == key {
			return j, true, nil
		}
	}
	return domain.Job{}, false, nil
}

func (s *stubStore) Get(_ context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("not found")
	}
	return j, nil
}

func (s *stubStore) QueueDepth(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobQueued {
			n++
		}
	}
	return n, nil
}

func (s *stubStore) ClaimNext(_ context.Context, now time.Time) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.Status == domain.JobQueued {
			j.Status = domain.JobRunning
			j.StartedAt = &now
			j.LeaseHeartbeat = &now
			s.jobs[id] = j
			return j, true, nil
		}
	}
	return domain.Job{}, false, nil
}

func (s *stubStore) Heartbeat(_ context.Context, id string, at time.Time, discovered int, total *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	j.LeaseHeartbeat = &at
	j.PagesDiscovered = discovered
	j.PagesTotal = total
	s.jobs[id] = j
	return nil
}

func (s *stubStore) Complete(_ context.Context, id string, result []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	j.Status = domain.JobCompleted
	j.ResultBlob = result
	j.CompletedAt = &at
	s.jobs[id] = j
	return nil
}

func (s *stubStore) Fail(_ context.Context, id string, code, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	j.Status = domain.JobFailed
	j.ErrorCode = &code
	j.ErrorMessage = &message
	j.CompletedAt = &at
	s.jobs[id] = j
	return nil
}

func (s *stubStore) MarkCancelled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	j.Status = domain.JobCancelled
	j.CompletedAt = &at
	s.jobs[id] = j
	return nil
}

func (s *stubStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	j.CancelRequested = true
	s.jobs[id] = j
	return nil
}

func (s *stubStore) ReapStalled(_ context.Context, leaseExpiry time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reclaimed, failed := 0, 0
	for id, j := range s.jobs {
		if j.Status != domain.JobRunning {
			continue
		}
		lease := j.StartedAt
		if j.LeaseHeartbeat != nil {
			lease = j.LeaseHeartbeat
		}
		if lease == nil || !lease.Before(leaseExpiry) {
			continue
		}
		if j.ReclaimCount == 0 {
			j.Status = domain.JobQueued
			j.StartedAt = nil
			j.LeaseHeartbeat = nil
			j.ReclaimCount++
			reclaimed++
		} else {
			j.Status = domain.JobFailed
			code := string(apierr.CodeWorkerStalled)
			j.ErrorCode = &code
			failed++
		}
		s.jobs[id] = j
	}
	return reclaimed, failed, nil
}

func (s *stubStore) nextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("job-%d", s.seq)
}

func TestSubmit_CreatesQueuedJob(t *testing.T) {
	store := newStubStore()
	e := &Engine{Store: store, IDGenerator: store.nextID}

	job, err := e.Submit(context.Background(), "key1", domain.JobTypeMap, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)
}

func TestSubmit_IdempotencyKeyReturnsExistingJob(t *testing.T) {
	store := newStubStore()
	e := &Engine{Store: store, IDGenerator: store.nextID}

	key := "idem-1"
	first, err := e.Submit(context.Background(), "key1", domain.JobTypeMap, []byte(`{}`), &key)
	require.NoError(t, err)

	second, err := e.Submit(context.Background(), "key1", domain.JobTypeMap, []byte(`{}`), &key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSubmit_RejectsWhenQueueAtWatermark(t *testing.T) {
	store := newStubStore()
	e := &Engine{Store: store, IDGenerator: store.nextID, Cfg: Config{QueueWatermark: 1}}

	_, err := e.Submit(context.Background(), "key1", domain.JobTypeMap, []byte(`{}`), nil)
	require.NoError(t, err)

	_, err = e.Submit(context.Background(), "key1", domain.JobTypeMap, []byte(`{}`), nil)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeQueueFull, apiErr.Code)
}

func TestCancel_SetsCancelRequestedFlag(t *testing.T) {
	store := newStubStore()
	e := &Engine{Store: store, IDGenerator: store.nextID}

	job, err := e.Submit(context.Background(), "key1", domain.JobTypeMap, []byte(`{}`), nil)
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), job.ID))

	got, err := e.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
}

func TestRun_ProcessesQueuedJobToCompletion(t *testing.T) {
	store := newStubStore()
	processed := make(chan struct{})
	e := &Engine{
		Store:       store,
		IDGenerator: store.nextID,
		Cfg:         Config{Workers: 1, PollInterval: 5 * time.Millisecond},
		Processors: map[domain.JobType]Processor{
			domain.JobTypeMap: func(ctx context.Context, job domain.Job, report Report) ([]byte, error) {
				report(3, nil)
				close(processed)
				return []byte(`{"ok":true}`), nil
			},
		},
	}

	job, err := e.Submit(context.Background(), "key1", domain.JobTypeMap, []byte(`{}`), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go e.Run(ctx)

	select {
	case <-processed:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("job was never processed")
	}

	time.Sleep(20 * time.Millisecond)
	got, err := e.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, []byte(`{"ok":true}`), got.ResultBlob)
}

func TestRun_FailsJobOnProcessorError(t *testing.T) {
	store := newStubStore()
	e := &Engine{
		Store:       store,
		IDGenerator: store.nextID,
		Cfg:         Config{Workers: 1, PollInterval: 5 * time.Millisecond},
		Processors: map[domain.JobType]Processor{
			domain.JobTypeMap: func(ctx context.Context, job domain.Job, report Report) ([]byte, error) {
				return nil, apierr.New(apierr.CodeFetchError, "upstream exploded")
			},
		},
	}

	job, err := e.Submit(context.Background(), "key1", domain.JobTypeMap, []byte(`{}`), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	e.Run(ctx)

	got, err := e.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, string(apierr.CodeFetchError), *got.ErrorCode)
}

func TestRun_CancelsJobWhenFlagObserved(t *testing.T) {
	store := newStubStore()
	started := make(chan struct{})
	e := &Engine{
		Store:       store,
		IDGenerator: store.nextID,
		Cfg:         Config{Workers: 1, PollInterval: 5 * time.Millisecond},
		Processors: map[domain.JobType]Processor{
			domain.JobTypeMap: func(ctx context.Context, job domain.Job, report Report) ([]byte, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	}

	job, err := e.Submit(context.Background(), "key1", domain.JobTypeMap, []byte(`{}`), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go e.Run(ctx)

	select {
	case <-started:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("processor never started")
	}

	require.NoError(t, e.Cancel(context.Background(), job.ID))

	require.Eventually(t, func() bool {
		got, err := e.Status(context.Background(), job.ID)
		return err == nil && got.Status == domain.JobCancelled
	}, 400*time.Millisecond, 10*time.Millisecond)
}

func TestReapStalled_ReclaimsOnceThenFails(t *testing.T) {
	store := newStubStore()
	now := time.Now().UTC()
	stale := now.Add(-time.Hour)
	store.jobs["stuck"] = domain.Job{ID: "stuck", Status: domain.JobRunning, StartedAt: &stale, LeaseHeartbeat: &stale}

	reclaimed, failed, err := store.ReapStalled(context.Background(), now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, domain.JobQueued, store.jobs["stuck"].Status)

	store.mu.Lock()
	j := store.jobs["stuck"]
	j.Status = domain.JobRunning
	j.StartedAt = &stale
	j.LeaseHeartbeat = &stale
	store.jobs["stuck"] = j
	store.mu.Unlock()

	reclaimed, failed, err = store.ReapStalled(context.Background(), now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, domain.JobFailed, store.jobs["stuck"].Status)
}
