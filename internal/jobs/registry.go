package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"memegen/internal/domain"
	"memegen/internal/infra"
)

// ArtifactRemover deletes the on-disk artifacts that belong to a job.
type ArtifactRemover interface {
	RemoveJobDir(jobID string) error
}

// Options configures a Registry.
type Options struct {
	Remover ArtifactRemover
	Logger  *infra.Logger
	// Clock is used for CreatedAt/CompletedAt. Defaults to time.Now.
	Clock func() time.Time
}

// Registry is the in-memory table of captioning jobs. A single mutex guards
// every read and mutation of the map.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	remover ArtifactRemover
	logger  *infra.Logger
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		jobs:    make(map[string]*domain.Job),
		remover: opts.Remover,
		logger:  infra.OrDiscard(opts.Logger),
		now:     now,
	}
}

// Create registers a new running job and returns its identifier.
func (r *Registry) Create() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	for _, taken := r.jobs[id]; taken; _, taken = r.jobs[id] {
		id = uuid.NewString()
	}
	r.jobs[id] = &domain.Job{
		ID:        id,
		Status:    domain.JobStatusRunning,
		CreatedAt: r.now(),
	}
	r.logger.Debug().Str("job_id", id).Msg("jobs: created")
	return id
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return *job, nil
}

// Complete marks a running job as completed with the given artifact path.
func (r *Registry) Complete(id, artifactPath string) error {
	return r.finish(id, domain.JobStatusCompleted, func(job *domain.Job) {
		job.ArtifactPath = artifactPath
	})
}

// Fail marks a running job as failed with a human readable reason.
func (r *Registry) Fail(id, message string) error {
	if message == "" {
		message = "unknown error"
	}
	return r.finish(id, domain.JobStatusFailed, func(job *domain.Job) {
		job.ErrorMessage = message
	})
}

func (r *Registry) finish(id string, status domain.JobStatus, apply func(*domain.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if job.Status.Terminal() {
		r.logger.Warn().
			Str("job_id", id).
			Str("status", string(job.Status)).
			Str("attempted", string(status)).
			Msg("jobs: ignoring transition of terminal job")
		return fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrJobTerminal)
	}
	job.Status = status
	job.CompletedAt = r.now()
	apply(job)
	r.logger.Debug().Str("job_id", id).Str("status", string(status)).Msg("jobs: transitioned")
	return nil
}

// ReapOnce drops every terminal job that finished more than grace before now
// and asks the remover to delete its artifacts. Removal failures are logged
// only. It returns the ids that were removed.
func (r *Registry) ReapOnce(now time.Time, grace time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, job := range r.jobs {
		if !job.Status.Terminal() || job.CompletedAt.IsZero() {
			continue
		}
		if now.Sub(job.CompletedAt) <= grace {
			continue
		}
		if r.remover != nil {
			if err := r.remover.RemoveJobDir(id); err != nil {
				r.logger.Error().Err(err).Str("job_id", id).Msg("jobs: delete artifacts failed")
			}
		}
		delete(r.jobs, id)
		removed = append(removed, id)
		r.logger.Debug().Str("job_id", id).Msg("jobs: reaped")
	}
	return removed
}

// Len returns the number of jobs currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
