package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// memJobStore is an in-memory JobStore for queue tests.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]domain.Job)}
}

func (s *memJobStore) Insert(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *memJobStore) Update(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *memJobStore) GetByID(_ context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return job, nil
}

func (s *memJobStore) Find(_ context.Context, f domain.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if matches(job, f) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *memJobStore) Exists(ctx context.Context, f domain.JobFilter) (bool, error) {
	found, err := s.Find(ctx, f)
	return len(found) > 0, err
}

func (s *memJobStore) DeleteByStatus(_ context.Context, status domain.JobStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, job := range s.jobs {
		if job.Status == status {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func matches(job domain.Job, f domain.JobFilter) bool {
	if f.Type != "" && job.Type != f.Type {
		return false
	}
	for _, t := range f.TypeNotIn {
		if job.Type == t {
			return false
		}
	}
	if len(f.Status) > 0 {
		ok := false
		for _, st := range f.Status {
			if job.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for k, v := range f.Args {
		if job.Args[k] != v {
			return false
		}
	}
	if f.QueueID != "" && job.QueueID != f.QueueID {
		return false
	}
	if f.Since != nil && job.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

func testQueue() (*Queue, *memJobStore) {
	store := newMemJobStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger), store
}

func compareSpec() domain.JobSpec {
	return domain.JobSpec{
		Type: domain.JobCompare,
		Args: map[string]string{"curr_x": "ETH", "curr_y": "BTC"},
	}
}

func TestAddPersistsCreating(t *testing.T) {
	q, store := testQueue()

	id, err := q.Add(context.Background(), compareSpec(), "queue-1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	job, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != domain.StatusCreating {
		t.Errorf("status = %s, want CREATING", job.Status)
	}
	if job.QueueID != "queue-1" {
		t.Errorf("queue id = %s, want queue-1", job.QueueID)
	}
}

func TestAddRejectsInvalidSpec(t *testing.T) {
	q, _ := testQueue()

	_, err := q.Add(context.Background(), domain.JobSpec{Type: domain.JobCompare}, "q")
	if !errors.Is(err, domain.ErrInvalidJob) {
		t.Fatalf("err = %v, want ErrInvalidJob", err)
	}
}

func TestAddManyReportsEveryFailure(t *testing.T) {
	q, _ := testQueue()

	specs := []domain.JobSpec{
		compareSpec(),
		{Type: "NOPE"},
		compareSpec(),
	}
	ids, err := q.AddMany(context.Background(), specs, "q")
	if len(ids) != 2 {
		t.Errorf("got %d ids, want 2", len(ids))
	}
	if !errors.Is(err, domain.ErrUnknownJobType) {
		t.Errorf("err = %v, want ErrUnknownJobType in chain", err)
	}
}

func TestMarkRunningTransitionsOnce(t *testing.T) {
	q, store := testQueue()
	ctx := context.Background()

	id, err := q.Add(ctx, compareSpec(), "q")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	job, _ := store.GetByID(ctx, id)

	if err := q.MarkRunning(ctx, &job, "worker-1"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if job.Status != domain.StatusRunning || job.WorkerID != "worker-1" || job.StartedAt == nil {
		t.Errorf("job not running: %+v", job)
	}

	// A second transition to RUNNING is illegal.
	if err := q.MarkRunning(ctx, &job, "worker-2"); !errors.Is(err, domain.ErrInvalidJob) {
		t.Errorf("second MarkRunning err = %v, want ErrInvalidJob", err)
	}
}

func TestRunRequiresRunning(t *testing.T) {
	q, store := testQueue()
	ctx := context.Background()

	id, _ := q.Add(ctx, compareSpec(), "q")
	job, _ := store.GetByID(ctx, id)

	err := q.Run(ctx, job, func(context.Context, domain.Job) (domain.JobResult, error) {
		return domain.JobResult{}, nil
	})
	if !errors.Is(err, domain.ErrInvalidJob) {
		t.Fatalf("err = %v, want ErrInvalidJob", err)
	}
}

func runJob(t *testing.T, q *Queue, store *memJobStore, fn WorkerFunc) domain.Job {
	t.Helper()
	ctx := context.Background()

	id, err := q.Add(ctx, compareSpec(), "q")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	job, _ := store.GetByID(ctx, id)
	if err := q.MarkRunning(ctx, &job, "w"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := q.Run(ctx, job, fn); err != nil {
		t.Fatalf("Run: %v", err)
	}
	job, _ = store.GetByID(ctx, id)
	return job
}

func TestRunCompletesAndEnqueuesDownstream(t *testing.T) {
	q, store := testQueue()

	downstream := domain.JobSpec{
		Type: domain.JobReplenish,
		Args: map[string]string{"exchange": "hitbtc", "currency": "ETH"},
	}
	job := runJob(t, q, store, func(context.Context, domain.Job) (domain.JobResult, error) {
		return domain.JobResult{DownstreamJobs: []domain.JobSpec{downstream}}, nil
	})

	if job.Status != domain.StatusComplete {
		t.Errorf("status = %s, want COMPLETE", job.Status)
	}
	if job.Result == nil || !job.Result.Success {
		t.Errorf("result = %+v, want success", job.Result)
	}

	pending, err := store.Find(context.Background(), domain.JobFilter{Type: domain.JobReplenish})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("downstream jobs = %d, want 1", len(pending))
	}
	if pending[0].Status != domain.StatusCreating {
		t.Errorf("downstream status = %s, want CREATING", pending[0].Status)
	}
	if pending[0].QueueID != job.QueueID {
		t.Errorf("downstream queue id = %s, want %s", pending[0].QueueID, job.QueueID)
	}
}

func TestRunRecordsFailureVerbatim(t *testing.T) {
	q, store := testQueue()

	job := runJob(t, q, store, func(context.Context, domain.Job) (domain.JobResult, error) {
		return domain.JobResult{}, errors.New("venue timeout on leg 2")
	})

	if job.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", job.Status)
	}
	if job.Error != "venue timeout on leg 2" {
		t.Errorf("error = %q, want verbatim worker error", job.Error)
	}
	if job.Result != nil {
		t.Errorf("result = %+v, want nil on failure", job.Result)
	}
}

func TestRunConvertsPanicToFailure(t *testing.T) {
	q, store := testQueue()

	job := runJob(t, q, store, func(context.Context, domain.Job) (domain.JobResult, error) {
		panic("nil market")
	})

	if job.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", job.Status)
	}
	if !strings.Contains(job.Error, "worker panic") || !strings.Contains(job.Error, "nil market") {
		t.Errorf("error = %q, want panic diagnostic", job.Error)
	}
}

func TestRunSchedulesRetryAsFreshJob(t *testing.T) {
	q, store := testQueue()

	runJob(t, q, store, func(context.Context, domain.Job) (domain.JobResult, error) {
		return domain.JobResult{RetryAfter: 10 * time.Millisecond}, nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fresh, _ := store.Find(context.Background(), domain.JobFilter{
			Type:   domain.JobCompare,
			Status: []domain.JobStatus{domain.StatusCreating},
		})
		if len(fresh) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("retry job never appeared")
}

func TestFindPendingExcludesTypes(t *testing.T) {
	q, _ := testQueue()
	ctx := context.Background()

	if _, err := q.Add(ctx, compareSpec(), "q"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := q.Add(ctx, domain.JobSpec{
		Type: domain.JobReplenish,
		Args: map[string]string{"exchange": "hitbtc", "currency": "ETH"},
	}, "q"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	pending, err := q.FindPending(ctx, []domain.JobType{domain.JobReplenish})
	if err != nil {
		t.Fatalf("FindPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Type != domain.JobCompare {
		t.Errorf("pending = %+v, want only COMPARE", pending)
	}
}
