package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coloringbook/internal/domain"
)

// JobRepositoryMemory implements domain.JobRepository in process memory.
// Used when no database is configured; job records do not survive restarts.
type JobRepositoryMemory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewJobRepositoryMemory creates an empty in-memory job repository.
func NewJobRepositoryMemory() *JobRepositoryMemory {
	return &JobRepositoryMemory{
		jobs: make(map[string]*domain.Job),
		now:  time.Now,
	}
}

// Create inserts a new job record in pending status.
func (r *JobRepositoryMemory) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	stored := *job
	stored.Status = domain.JobStatusPending
	r.jobs[job.ID] = &stored
	return nil
}

func (r *JobRepositoryMemory) MarkProcessing(ctx context.Context, jobID string) error {
	return r.transition(jobID, domain.JobStatusProcessing, func(job *domain.Job) {})
}

func (r *JobRepositoryMemory) MarkCompleted(ctx context.Context, jobID, artifactRef string) error {
	return r.transition(jobID, domain.JobStatusCompleted, func(job *domain.Job) {
		job.ArtifactRef = artifactRef
		job.ErrorMessage = ""
		completed := r.now()
		job.CompletedAt = &completed
	})
}

func (r *JobRepositoryMemory) MarkFailed(ctx context.Context, jobID, message string) error {
	return r.transition(jobID, domain.JobStatusFailed, func(job *domain.Job) {
		job.ErrorMessage = message
		job.ArtifactRef = ""
		completed := r.now()
		job.CompletedAt = &completed
	})
}

// GetByID returns a copy of the stored job.
func (r *JobRepositoryMemory) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *JobRepositoryMemory) transition(jobID string, to domain.JobStatus, apply func(*domain.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !job.CanTransition(to) {
		return fmt.Errorf("%w: job %s is %s", domain.ErrTerminal, jobID, job.Status)
	}
	job.Status = to
	apply(job)
	return nil
}

var _ domain.JobRepository = (*JobRepositoryMemory)(nil)
