package domain

import "context"

// JobRepository defines persistence for generation jobs. Implementations
// must reject transitions out of a terminal status with ErrTerminal.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	MarkProcessing(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID, artifactRef string) error
	MarkFailed(ctx context.Context, jobID, message string) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
}
