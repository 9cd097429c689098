// Package worker provides the per-job-type execution handlers and the
// registry the executor dispatches through. Each handler is a pure function
// of the job's validated arguments plus its injected collaborators; a handler
// returning an error fails only its own job.
package worker

import (
	"fmt"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/queue"
)

// Registry maps job types to their handlers.
type Registry struct {
	handlers map[domain.JobType]queue.WorkerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobType]queue.WorkerFunc)}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Registry) Register(t domain.JobType, fn queue.WorkerFunc) {
	r.handlers[t] = fn
}

// Get returns the handler for a job type.
func (r *Registry) Get(t domain.JobType) (queue.WorkerFunc, error) {
	fn, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("worker: job type %q: %w", t, domain.ErrUnknownJobType)
	}
	return fn, nil
}
