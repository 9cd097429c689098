// Package executor runs the top-level scheduler: one long-lived instance
// owns a queue id, maintains its status record, and drives the periodic
// loops: per-pair compare, fiat-rate refresh, pending-job dispatch, and
// running-job reaping. All loops self-cancel when the status record's
// running flag is cleared.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/notify"
	"github.com/alanyoungcy/arbot/internal/queue"
	"github.com/alanyoungcy/arbot/internal/rates"
	"github.com/alanyoungcy/arbot/internal/worker"
)

// Config carries the executor's scheduling parameters.
type Config struct {
	// CompareInterval is the per-pair detector cadence.
	CompareInterval time.Duration
	// DispatchInterval is the pending-job poll cadence.
	DispatchInterval time.Duration
	// ReapInterval is the running-job liveness check cadence.
	ReapInterval time.Duration
	// RateRefreshInterval is the fiat-rate refresh cadence.
	RateRefreshInterval time.Duration
	// ReapGrace is how long a finished worker may linger before its job is
	// force-completed in the store.
	ReapGrace time.Duration
	// DisabledTypes are job types the dispatch loop skips, e.g. TRANSACT and
	// REPLENISH on a dry run.
	DisabledTypes []domain.JobType
	// TradePairs is the set of pairs the compare loops cover.
	TradePairs []domain.TradePair
}

// runningJob tracks one dispatched worker in memory.
type runningJob struct {
	job      domain.Job
	done     chan struct{}
	finished time.Time
	err      error
}

// Executor is one orchestrator instance.
type Executor struct {
	id       string
	queue    *queue.Queue
	jobs     domain.JobStore
	status   domain.QueueStatusStore
	locks    domain.MethodLockManager
	workers  *worker.Registry
	rates    *rates.Service
	notifier *notify.Notifier
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]*runningJob
}

// New creates an executor with a fresh queue id.
func New(
	q *queue.Queue,
	jobs domain.JobStore,
	status domain.QueueStatusStore,
	locks domain.MethodLockManager,
	workers *worker.Registry,
	rateSvc *rates.Service,
	notifier *notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		id:       uuid.New().String(),
		queue:    q,
		jobs:     jobs,
		status:   status,
		locks:    locks,
		workers:  workers,
		rates:    rateSvc,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
		running:  make(map[string]*runningJob),
	}
}

// ID returns the instance's queue id.
func (e *Executor) ID() string { return e.id }

// Run starts the instance and blocks until ctx is cancelled or the running
// flag is cleared, then shuts down gracefully.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.start(ctx); err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	e.logger.Info("executor started",
		slog.String("queue_id", e.id),
		slog.Int("pid", os.Getpid()),
		slog.String("hostname", hostname),
		slog.Int("trade_pairs", len(e.cfg.TradePairs)))

	g, gctx := errgroup.WithContext(ctx)

	for _, pair := range e.cfg.TradePairs {
		pair := pair
		g.Go(func() error { return e.compareLoop(gctx, pair) })
	}
	g.Go(func() error { return e.rateLoop(gctx) })
	g.Go(func() error { return e.dispatchLoop(gctx) })
	g.Go(func() error { return e.reapLoop(gctx) })

	err := g.Wait()
	e.shutdown()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// start sweeps leftovers from any crashed predecessor and registers this
// instance's status record. A predecessor whose process is still alive
// refuses the start instead of being swept.
func (e *Executor) start(ctx context.Context) error {
	stale, err := e.status.List(ctx)
	if err != nil {
		return err
	}
	for _, qs := range stale {
		if qs.Running && processAlive(qs) {
			return fmt.Errorf("executor: instance %s still running (pid %d on %s)",
				qs.ID, qs.PID, qs.Hostname)
		}
	}
	if len(stale) > 0 {
		e.logger.Info("stale instance records swept", slog.Int("count", len(stale)))
	}

	if err := e.status.Clear(ctx); err != nil {
		return err
	}
	// Every remaining method lock belonged to a dead instance.
	if err := e.locks.ReapAll(ctx); err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	return e.status.Create(ctx, domain.QueueStatus{
		ID:        e.id,
		Running:   true,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
	})
}

// processAlive reports whether the recorded instance's process still exists.
// A record from another host cannot be probed and reads as dead, matching the
// single-host deployment the status table assumes.
func processAlive(qs domain.QueueStatus) bool {
	hostname, _ := os.Hostname()
	if qs.Hostname != hostname || qs.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(qs.PID)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Stop clears the running flag; every loop observes it on its next tick and
// self-cancels.
func (e *Executor) Stop(ctx context.Context) error {
	e.logger.Info("stop requested", slog.String("queue_id", e.id))
	return e.status.SetRunning(ctx, e.id, false)
}

// shutdown clears RUNNING jobs from the store and releases this instance's
// method locks. In-flight workers are not forcibly killed, only no longer
// tracked.
func (e *Executor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.status.SetRunning(ctx, e.id, false); err != nil {
		e.logger.Warn("status flag clear failed", slog.String("error", err.Error()))
	}
	if err := e.locks.ReapOwner(ctx, e.id); err != nil {
		e.logger.Warn("lock release failed", slog.String("error", err.Error()))
	}
	n, err := e.jobs.DeleteByStatus(ctx, domain.StatusRunning)
	if err != nil {
		e.logger.Warn("running job sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		e.logger.Info("running jobs cleared", slog.Int64("count", n))
	}
	e.logger.Info("executor stopped", slog.String("queue_id", e.id))
}

// alive reports whether the status record still says running. A store error
// reads as alive so a transient outage cannot stop the instance.
func (e *Executor) alive(ctx context.Context) bool {
	qs, err := e.status.Get(ctx, e.id)
	if err != nil {
		e.logger.Warn("status check failed", slog.String("error", err.Error()))
		return true
	}
	return qs.Running
}

// compareLoop enqueues a COMPARE job for the pair each tick, unless an
// equivalent one is already CREATING or RUNNING for this queue.
func (e *Executor) compareLoop(ctx context.Context, pair domain.TradePair) error {
	ticker := time.NewTicker(e.cfg.CompareInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !e.alive(ctx) {
			return nil
		}

		exists, err := e.jobs.Exists(ctx, domain.JobFilter{
			Type:   domain.JobCompare,
			Status: []domain.JobStatus{domain.StatusCreating, domain.StatusRunning},
			Args:   map[string]string{"curr_x": pair.Base, "curr_y": pair.Quote},
		})
		if err != nil {
			e.logger.Error("compare pre-check failed",
				slog.String("pair", pair.Symbol()),
				slog.String("error", err.Error()))
			continue
		}
		if exists {
			continue
		}

		spec := domain.JobSpec{
			Type: domain.JobCompare,
			Args: map[string]string{"curr_x": pair.Base, "curr_y": pair.Quote},
		}
		if _, err := e.queue.Add(ctx, spec, e.id); err != nil {
			e.logger.Error("compare enqueue failed",
				slog.String("pair", pair.Symbol()),
				slog.String("error", err.Error()))
		}
	}
}

// rateLoop refreshes fiat rates for every currency referenced by the
// configured pairs.
func (e *Executor) rateLoop(ctx context.Context) error {
	symbols := pairCurrencies(e.cfg.TradePairs)
	e.rates.RefreshAll(ctx, symbols)

	ticker := time.NewTicker(e.cfg.RateRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !e.alive(ctx) {
			return nil
		}
		e.rates.RefreshAll(ctx, symbols)
	}
}

// dispatchLoop finds pending jobs of enabled types and spawns one worker per
// job. Each worker runs independently; a broken worker fails only its job.
func (e *Executor) dispatchLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !e.alive(ctx) {
			return nil
		}

		pending, err := e.queue.FindPending(ctx, e.cfg.DisabledTypes)
		if err != nil {
			e.logger.Error("pending poll failed", slog.String("error", err.Error()))
			continue
		}

		for _, job := range pending {
			e.dispatch(ctx, job)
		}
	}
}

// dispatch marks one job RUNNING and runs its worker in a goroutine, tracking
// it in the in-memory running set until the reaper removes it.
func (e *Executor) dispatch(ctx context.Context, job domain.Job) {
	fn, err := e.workers.Get(job.Type)
	if err != nil {
		e.logger.Error("no worker for job",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)))
		job.Status = domain.StatusFailed
		job.Error = err.Error()
		if uerr := e.queue.Update(ctx, job); uerr != nil {
			e.logger.Error("job fail-out failed", slog.String("error", uerr.Error()))
		}
		return
	}

	workerID := uuid.New().String()
	if err := e.queue.MarkRunning(ctx, &job, workerID); err != nil {
		e.logger.Error("job start failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}

	rj := &runningJob{job: job, done: make(chan struct{})}
	e.mu.Lock()
	e.running[job.ID] = rj
	e.mu.Unlock()

	e.logger.Info("job dispatched",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("worker_id", workerID))

	go func() {
		rj.err = e.queue.Run(ctx, job, fn)
		rj.finished = time.Now()
		close(rj.done)
	}()
}

// reapLoop sweeps the running set: a worker that has exited and outlived the
// grace period is removed, and its job is force-completed in the store if the
// terminal transition never landed. A worker error is fatal for that job only
// but is surfaced to the operator.
func (e *Executor) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !e.alive(ctx) {
			return nil
		}
		e.reap(ctx)
	}
}

func (e *Executor) reap(ctx context.Context) {
	e.mu.Lock()
	tracked := make([]*runningJob, 0, len(e.running))
	for _, rj := range e.running {
		tracked = append(tracked, rj)
	}
	e.mu.Unlock()

	for _, rj := range tracked {
		select {
		case <-rj.done:
		default:
			continue // still running
		}
		if time.Since(rj.finished) < e.cfg.ReapGrace {
			continue
		}

		if rj.err != nil {
			e.logger.Error("worker error observed at reap",
				slog.String("job_id", rj.job.ID),
				slog.String("error", rj.err.Error()))
			if e.notifier != nil {
				_ = e.notifier.Notify(ctx, notify.EventWorkerError, "Worker error",
					"job "+rj.job.ID+" ("+string(rj.job.Type)+"): "+rj.err.Error())
			}
		}

		e.sweep(ctx, rj.job.ID)

		e.mu.Lock()
		delete(e.running, rj.job.ID)
		e.mu.Unlock()
	}
}

// sweep force-completes a job whose worker exited without landing a terminal
// transition.
func (e *Executor) sweep(ctx context.Context, jobID string) {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		e.logger.Warn("reap lookup failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		return
	}
	if job.Status != domain.StatusRunning {
		return
	}

	job.Status = domain.StatusComplete
	job.Result = &domain.JobResult{Success: true}
	if err := e.queue.Update(ctx, job); err != nil {
		e.logger.Error("reap completion failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		return
	}
	e.logger.Info("job reaped", slog.String("job_id", jobID))
}

// RunningCount returns the size of the in-memory running set.
func (e *Executor) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// pairCurrencies returns the deduplicated currencies across the pairs.
func pairCurrencies(pairs []domain.TradePair) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range pairs {
		for _, c := range []string{p.Base, p.Quote} {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
