package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// WorkerFunc executes one job and returns its structured result. A returned
// error marks the job FAILED with the error text recorded verbatim.
type WorkerFunc func(ctx context.Context, job domain.Job) (domain.JobResult, error)

// Queue validates, persists, and executes jobs against a JobStore.
type Queue struct {
	store  domain.JobStore
	logger *slog.Logger
}

// New creates a Queue backed by the given store.
func New(store domain.JobStore, logger *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		logger: logger.With(slog.String("component", "queue")),
	}
}

// Add validates a spec against its type's schema and persists it in CREATING.
// It returns the new job's id.
func (q *Queue) Add(ctx context.Context, spec domain.JobSpec, queueID string) (string, error) {
	if err := Validate(spec); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:        uuid.New().String(),
		Type:      spec.Type,
		Args:      spec.Args,
		Info:      spec.Info,
		Status:    domain.StatusCreating,
		QueueID:   queueID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return "", err
	}

	q.logger.Info("job added",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)))
	return job.ID, nil
}

// AddMany applies Add to each spec. A failing spec never silently drops the
// rest: every spec is attempted and all failures are joined into the returned
// error alongside the ids that did succeed.
func (q *Queue) AddMany(ctx context.Context, specs []domain.JobSpec, queueID string) ([]string, error) {
	var (
		ids  []string
		errs []error
	)
	for i, spec := range specs {
		id, err := q.Add(ctx, spec, queueID)
		if err != nil {
			errs = append(errs, fmt.Errorf("spec %d (%s): %w", i, spec.Type, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

// Update persists the mutable fields of a job. The identity field is never
// rewritten.
func (q *Queue) Update(ctx context.Context, job domain.Job) error {
	job.UpdatedAt = time.Now().UTC()
	return q.store.Update(ctx, job)
}

// FindPending returns jobs in CREATING whose type is not in the exclusion
// set. Used to pause classes of jobs, e.g. TRANSACT/REPLENISH on dry runs.
func (q *Queue) FindPending(ctx context.Context, typeNotIn []domain.JobType) ([]domain.Job, error) {
	return q.store.Find(ctx, domain.JobFilter{
		Status:    []domain.JobStatus{domain.StatusCreating},
		TypeNotIn: typeNotIn,
	})
}

// MarkRunning transitions a job to RUNNING with its worker handle and start
// time. A job transitions to RUNNING exactly once; an illegal transition is
// rejected before touching the store.
func (q *Queue) MarkRunning(ctx context.Context, job *domain.Job, workerID string) error {
	if !job.Status.CanTransitionTo(domain.StatusRunning) {
		return fmt.Errorf("queue: job %s: cannot move %s to RUNNING: %w",
			job.ID, job.Status, domain.ErrInvalidJob)
	}

	now := time.Now().UTC()
	job.Status = domain.StatusRunning
	job.WorkerID = workerID
	job.StartedAt = &now
	return q.Update(ctx, *job)
}

// Run executes a RUNNING job's worker and performs the terminal transition.
// On success the result is recorded, the job moves to COMPLETE, and any
// downstream jobs in the result are validated and enqueued recursively. On
// failure (error or panic) the job moves to FAILED with the diagnostic text
// recorded verbatim.
func (q *Queue) Run(ctx context.Context, job domain.Job, fn WorkerFunc) error {
	if job.Status != domain.StatusRunning {
		return fmt.Errorf("queue: job %s: run requires RUNNING, got %s: %w",
			job.ID, job.Status, domain.ErrInvalidJob)
	}

	result, err := q.execute(ctx, job, fn)
	if err != nil {
		return q.fail(ctx, job, err)
	}
	return q.complete(ctx, job, result)
}

// execute invokes the worker, converting a panic into an error so a broken
// worker can never corrupt queue state.
func (q *Queue) execute(ctx context.Context, job domain.Job, fn WorkerFunc) (result domain.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return fn(ctx, job)
}

func (q *Queue) complete(ctx context.Context, job domain.Job, result domain.JobResult) error {
	result.Success = true
	job.Status = domain.StatusComplete
	job.Result = &result
	if err := q.Update(ctx, job); err != nil {
		return err
	}

	q.logger.Info("job complete",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.Int("downstream", len(result.DownstreamJobs)))

	if len(result.DownstreamJobs) > 0 {
		if _, err := q.AddMany(ctx, result.DownstreamJobs, job.QueueID); err != nil {
			q.logger.Error("downstream enqueue failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		}
	}

	if result.RetryAfter > 0 {
		q.scheduleRetry(ctx, job, result.RetryAfter)
	}
	return nil
}

func (q *Queue) fail(ctx context.Context, job domain.Job, workerErr error) error {
	job.Status = domain.StatusFailed
	job.Error = workerErr.Error()
	if err := q.Update(ctx, job); err != nil {
		return err
	}

	q.logger.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("error", job.Error))
	return nil
}

// scheduleRetry enqueues a fresh copy of the job's spec after the requested
// delay. The retry is a new job, never an in-place rerun.
func (q *Queue) scheduleRetry(ctx context.Context, job domain.Job, delay time.Duration) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		spec := domain.JobSpec{Type: job.Type, Args: job.Args, Info: job.Info}
		if _, err := q.Add(ctx, spec, job.QueueID); err != nil {
			q.logger.Error("retry enqueue failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
			return
		}
		q.logger.Info("retry enqueued",
			slog.String("job_id", job.ID),
			slog.Duration("delay", delay))
	}()
}
