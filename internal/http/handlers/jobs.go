package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"coloringbook/internal/domain"
)

type jobView struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	ArtifactRef string     `json:"artifact_ref,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobStatus handles GET /v1/jobs/{job_id}: a point lookup of one job
// record. A failed job is always distinguishable from a pending one.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, jobView{
		ID:          job.ID,
		OwnerID:     job.OwnerID,
		Kind:        string(job.Kind),
		Status:      string(job.Status),
		ArtifactRef: job.ArtifactRef,
		Error:       job.ErrorMessage,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	})
}
