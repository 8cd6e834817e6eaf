package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coloringbook/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record. Records are only ever created pending.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO generation_jobs (id, owner_id, kind, status, settings_json, created_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		nullableText(job.OwnerID),
		job.Kind,
		domain.JobStatusPending,
		job.SettingsJSON,
		job.CreatedAt,
	)
	return err
}

// MarkProcessing moves a pending job to processing. Any other starting
// state leaves the row untouched and reports ErrTerminal.
func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, jobID string) error {
	query := `
UPDATE generation_jobs
SET status = $2
WHERE id = $1 AND status = $3;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusProcessing, domain.JobStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", domain.ErrTerminal, jobID)
	}
	return nil
}

// MarkCompleted records the terminal success state. The guard clause keeps
// terminal rows immutable.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID, artifactRef string) error {
	query := `
UPDATE generation_jobs
SET status = $2,
    artifact_ref = $3,
    error_message = NULL,
    completed_at = NOW()
WHERE id = $1 AND status IN ($4, $5);
`
	tag, err := r.pool.Exec(ctx, query, jobID,
		domain.JobStatusCompleted, artifactRef,
		domain.JobStatusPending, domain.JobStatusProcessing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", domain.ErrTerminal, jobID)
	}
	return nil
}

// MarkFailed records the terminal failure state.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, message string) error {
	query := `
UPDATE generation_jobs
SET status = $2,
    error_message = $3,
    artifact_ref = NULL,
    completed_at = NOW()
WHERE id = $1 AND status IN ($4, $5);
`
	tag, err := r.pool.Exec(ctx, query, jobID,
		domain.JobStatusFailed, message,
		domain.JobStatusPending, domain.JobStatusProcessing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", domain.ErrTerminal, jobID)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, owner_id, kind, status, settings_json, artifact_ref, error_message, created_at, completed_at
FROM generation_jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var (
		job      domain.Job
		owner    *string
		artifact *string
		errMsg   *string
	)
	if err := row.Scan(
		&job.ID,
		&owner,
		&job.Kind,
		&job.Status,
		&job.SettingsJSON,
		&artifact,
		&errMsg,
		&job.CreatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if owner != nil {
		job.OwnerID = *owner
	}
	if artifact != nil {
		job.ArtifactRef = *artifact
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return &job, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
