// Package domain defines the core types shared by every layer of the
// arbitrage engine: jobs, trade pairs, order books, balances, audit events,
// and the store/cache interfaces implemented by the postgres and redis
// packages.
package domain

import (
	"time"
)

// JobType identifies the worker entry point and argument schema for a job.
type JobType string

const (
	JobCompare       JobType = "COMPARE"
	JobTransact      JobType = "TRANSACT"
	JobReplenish     JobType = "REPLENISH"
	JobConvert       JobType = "CONVERT"
	JobWithdrawalFee JobType = "WITHDRAWAL_FEE"
)

// JobStatus is the lifecycle state of a job. Transitions only move forward:
// CREATING -> RUNNING -> COMPLETE or FAILED.
type JobStatus string

const (
	StatusCreating JobStatus = "CREATING"
	StatusRunning  JobStatus = "RUNNING"
	StatusComplete JobStatus = "COMPLETE"
	StatusFailed   JobStatus = "FAILED"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case StatusCreating:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusComplete || next == StatusFailed
	default:
		return false
	}
}

// JobSpec is a request to enqueue a job: the type plus its raw arguments.
// Specs are produced by the detector and by workers (downstream jobs) and are
// validated against the type's schema before persistence.
type JobSpec struct {
	Type JobType           `json:"job_type"`
	Args map[string]string `json:"job_args"`
	// Info carries non-schema annotations (e.g. the projected profit that
	// motivated a TRANSACT). It is persisted verbatim and never validated.
	Info map[string]any `json:"job_info,omitempty"`
}

// JobResult is the structured payload a worker hands back on success. Any
// downstream jobs it contains are validated and enqueued by the queue.
type JobResult struct {
	Success        bool      `json:"success"`
	DownstreamJobs []JobSpec `json:"downstream_jobs,omitempty"`
	// RetryAfter asks the queue to enqueue a fresh copy of the same job
	// after the given delay. Zero means no retry.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Trade carries the executed trade for TRANSACT/CONVERT workers.
	Trade *Trade `json:"trade,omitempty"`
}

// Job is one unit of scheduled work, persisted for the whole of its life.
type Job struct {
	ID      string            `json:"id"`
	Type    JobType           `json:"job_type"`
	Args    map[string]string `json:"job_args"`
	Info    map[string]any    `json:"job_info,omitempty"`
	Status  JobStatus         `json:"job_status"`
	QueueID string            `json:"queue_id"`
	// WorkerID is the opaque handle of the spawned worker, set on the
	// transition to RUNNING.
	WorkerID  string     `json:"worker_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	// Result and Error are populated on the terminal transition; a completed
	// job always has exactly one of them set.
	Result    *JobResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// QueueStatus is the process-wide record for one running executor instance.
// Stale records left by a crashed executor are detected through the PID and
// hostname fields and reaped on the next startup.
type QueueStatus struct {
	ID        string    `json:"id"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}
