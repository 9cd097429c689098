package executor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/queue"
	"github.com/alanyoungcy/arbot/internal/rates"
	"github.com/alanyoungcy/arbot/internal/worker"
)

// memJobStore is an in-memory JobStore for executor tests.
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
		if matchesFilter(job, f) {
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

func matchesFilter(job domain.Job, f domain.JobFilter) bool {
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

// memStatusStore is an in-memory QueueStatusStore.
type memStatusStore struct {
	mu      sync.Mutex
	records map[string]domain.QueueStatus
}

func newMemStatusStore() *memStatusStore {
	return &memStatusStore{records: make(map[string]domain.QueueStatus)}
}

func (s *memStatusStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]domain.QueueStatus)
	return nil
}

func (s *memStatusStore) Create(_ context.Context, qs domain.QueueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[qs.ID] = qs
	return nil
}

func (s *memStatusStore) Get(_ context.Context, id string) (domain.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs, ok := s.records[id]
	if !ok {
		return domain.QueueStatus{}, domain.ErrNotFound
	}
	return qs, nil
}

func (s *memStatusStore) List(context.Context) ([]domain.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QueueStatus, 0, len(s.records))
	for _, qs := range s.records {
		out = append(out, qs)
	}
	return out, nil
}

func (s *memStatusStore) SetRunning(_ context.Context, id string, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	qs.Running = running
	s.records[id] = qs
	return nil
}

// noopLocks satisfies MethodLockManager without any locking.
type noopLocks struct{}

func (noopLocks) Acquire(context.Context, string, string, string, time.Duration) (func(), error) {
	return func() {}, nil
}
func (noopLocks) IsHeld(context.Context, string, string, string) (bool, error) { return false, nil }
func (noopLocks) ReapOwner(context.Context, string) error                      { return nil }
func (noopLocks) ReapAll(context.Context) error                                { return nil }

// recordingLocks counts sweep calls.
type recordingLocks struct {
	noopLocks
	mu         sync.Mutex
	reapAll    int
	reapOwners []string
}

func (r *recordingLocks) ReapAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapAll++
	return nil
}

func (r *recordingLocks) ReapOwner(_ context.Context, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapOwners = append(r.reapOwners, owner)
	return nil
}

type staticSource struct{}

func (staticSource) Rate(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(10), nil
}

type emptyRateStore struct{}

func (emptyRateStore) Insert(context.Context, string, string, decimal.Decimal) error { return nil }
func (emptyRateStore) Latest(context.Context, string, string) (decimal.Decimal, time.Time, error) {
	return decimal.Zero, time.Time{}, domain.ErrNotFound
}

type fixture struct {
	exec   *Executor
	queue  *queue.Queue
	jobs   *memJobStore
	status *memStatusStore
}

func newFixture(t *testing.T, workers *worker.Registry, cfg Config) *fixture {
	return newFixtureLocks(t, workers, cfg, noopLocks{})
}

func newFixtureLocks(t *testing.T, workers *worker.Registry, cfg Config, locks domain.MethodLockManager) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	jobs := newMemJobStore()
	status := newMemStatusStore()
	q := queue.New(jobs, logger)
	rateSvc := rates.NewService(staticSource{}, emptyRateStore{}, "GBP", time.Hour, logger)

	exec := New(q, jobs, status, locks, workers, rateSvc, nil, cfg, logger)
	return &fixture{exec: exec, queue: q, jobs: jobs, status: status}
}

func fastConfig() Config {
	return Config{
		CompareInterval:     10 * time.Millisecond,
		DispatchInterval:    10 * time.Millisecond,
		ReapInterval:        10 * time.Millisecond,
		RateRefreshInterval: 100 * time.Millisecond,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func compareJobs(jobs *memJobStore) []domain.Job {
	found, _ := jobs.Find(context.Background(), domain.JobFilter{Type: domain.JobCompare})
	return found
}

func TestRunSchedulesOneCompareAtATime(t *testing.T) {
	release := make(chan struct{})
	workers := worker.NewRegistry()
	workers.Register(domain.JobCompare, func(ctx context.Context, _ domain.Job) (domain.JobResult, error) {
		select {
		case <-ctx.Done():
			return domain.JobResult{}, ctx.Err()
		case <-release:
			return domain.JobResult{}, nil
		}
	})

	cfg := fastConfig()
	cfg.TradePairs = []domain.TradePair{{Base: "ETH", Quote: "BTC"}}
	fx := newFixture(t, workers, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fx.exec.Run(ctx) }()

	waitFor(t, "first compare dispatched", func() bool {
		for _, j := range compareJobs(fx.jobs) {
			if j.Status == domain.StatusRunning {
				return true
			}
		}
		return false
	})

	// Let several compare ticks pass while the worker is blocked; the
	// pre-check must hold the pair to a single in-flight job.
	time.Sleep(80 * time.Millisecond)
	if n := len(compareJobs(fx.jobs)); n != 1 {
		t.Errorf("compare jobs while one is running = %d, want 1", n)
	}

	close(release)
	waitFor(t, "compare job completed", func() bool {
		for _, j := range compareJobs(fx.jobs) {
			if j.Status == domain.StatusComplete && j.Result != nil && j.Result.Success {
				return true
			}
		}
		return false
	})
	waitFor(t, "finished worker reaped", func() bool {
		return fx.exec.RunningCount() == 0
	})

	if err := fx.exec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not exit after Stop")
	}

	qs, err := fx.status.Get(context.Background(), fx.exec.ID())
	if err != nil {
		t.Fatalf("status Get: %v", err)
	}
	if qs.Running {
		t.Error("status record still marked running after shutdown")
	}
}

func TestRunFailsJobWithoutHandler(t *testing.T) {
	fx := newFixture(t, worker.NewRegistry(), fastConfig())

	id, err := fx.queue.Add(context.Background(), domain.JobSpec{
		Type: domain.JobConvert,
		Args: map[string]string{
			"exchange":      "binance",
			"currency_from": "ETH",
			"currency_to":   "BTC",
			"volume":        "1",
		},
	}, fx.exec.ID())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fx.exec.Run(ctx) }()

	waitFor(t, "handlerless job failed", func() bool {
		job, err := fx.jobs.GetByID(context.Background(), id)
		return err == nil && job.Status == domain.StatusFailed && job.Error != ""
	})

	if err := fx.exec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-done
}

func TestRunSkipsDisabledTypes(t *testing.T) {
	var calls atomic.Int32
	workers := worker.NewRegistry()
	workers.Register(domain.JobTransact, func(context.Context, domain.Job) (domain.JobResult, error) {
		calls.Add(1)
		return domain.JobResult{}, nil
	})

	cfg := fastConfig()
	cfg.DisabledTypes = []domain.JobType{domain.JobTransact}
	fx := newFixture(t, workers, cfg)

	id, err := fx.queue.Add(context.Background(), domain.JobSpec{
		Type: domain.JobTransact,
		Args: map[string]string{
			"exchange":          "binance",
			"trade_pair_common": "ETH-BTC",
			"volume":            "1",
			"price":             "0.05",
			"type":              "buy",
		},
	}, fx.exec.ID())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fx.exec.Run(ctx) }()

	// Several dispatch ticks must leave the disabled job untouched.
	time.Sleep(100 * time.Millisecond)
	job, err := fx.jobs.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != domain.StatusCreating {
		t.Errorf("disabled job status = %s, want CREATING", job.Status)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("handler calls = %d, want 0", n)
	}

	if err := fx.exec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-done
}

func TestRunSweepsDeadInstanceLeftovers(t *testing.T) {
	locks := &recordingLocks{}
	fx := newFixtureLocks(t, worker.NewRegistry(), fastConfig(), locks)

	// A crashed predecessor left a running record behind. Its host differs,
	// so it cannot be probed and counts as dead.
	if err := fx.status.Create(context.Background(), domain.QueueStatus{
		ID:        "dead-instance",
		Running:   true,
		PID:       4242,
		Hostname:  "decommissioned-host",
		StartedAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fx.exec.Run(ctx) }()

	waitFor(t, "fresh status record", func() bool {
		_, err := fx.status.Get(context.Background(), fx.exec.ID())
		return err == nil
	})

	// The predecessor's record is gone and every abandoned lock was swept.
	if _, err := fx.status.Get(context.Background(), "dead-instance"); err == nil {
		t.Error("stale status record survived startup")
	}
	locks.mu.Lock()
	reaps := locks.reapAll
	locks.mu.Unlock()
	if reaps != 1 {
		t.Errorf("full lock sweeps at startup = %d, want 1", reaps)
	}

	if err := fx.exec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Shutdown released this instance's own leases.
	locks.mu.Lock()
	owners := locks.reapOwners
	locks.mu.Unlock()
	if len(owners) != 1 || owners[0] != fx.exec.ID() {
		t.Errorf("owner reaps at shutdown = %v, want [%s]", owners, fx.exec.ID())
	}
}

func TestRunRefusesLivePredecessor(t *testing.T) {
	fx := newFixture(t, worker.NewRegistry(), fastConfig())

	// The test process itself stands in for a still-alive predecessor.
	hostname, _ := os.Hostname()
	if err := fx.status.Create(context.Background(), domain.QueueStatus{
		ID:        "live-instance",
		Running:   true,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := fx.exec.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "still running") {
		t.Fatalf("Run = %v, want refusal while predecessor is alive", err)
	}

	// The live record must not have been swept.
	if _, err := fx.status.Get(context.Background(), "live-instance"); err != nil {
		t.Errorf("live status record was removed: %v", err)
	}
}
