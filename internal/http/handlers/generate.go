package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"coloringbook/internal/compose"
	"coloringbook/internal/domain"
	"coloringbook/internal/middleware"
	"coloringbook/internal/orchestrator"
)

// defaultMandalaFocus fills in the mandala subject when the questionnaire
// leaves it blank; the mandala flow collects answers, not free text.
const defaultMandalaFocus = "balance and harmony"

type generateRequest struct {
	Prompt  string          `json:"prompt"`
	Focus   string          `json:"focus"`
	Answers compose.Answers `json:"answers"`
}

type generateResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	ImageURL string `json:"image_url"`
}

// PlatesGenerate handles POST /v1/plates: it runs one coloring plate
// generation to a terminal state and returns the artifact reference.
func (a *App) PlatesGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	a.generate(w, r, domain.PlateKindColoring, req.Prompt, req.Answers)
}

// MandalasGenerate handles POST /v1/mandalas. The optional focus text
// replaces a free prompt; everything else comes from the questionnaire.
func (a *App) MandalasGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	focus := strings.TrimSpace(req.Focus)
	if focus == "" {
		focus = defaultMandalaFocus
	}
	a.generate(w, r, domain.PlateKindMandala, focus, req.Answers)
}

func (a *App) generate(w http.ResponseWriter, r *http.Request, kind domain.PlateKind, rawPrompt string, answers compose.Answers) {
	ownerID := a.currentUserID(r)
	callerKey := ownerID
	if callerKey == "" {
		callerKey = middleware.ClientIP(r)
	}

	result, err := a.Orchestrator.Run(r.Context(), orchestrator.RunRequest{
		Kind:      kind,
		RawPrompt: rawPrompt,
		Answers:   answers,
		OwnerID:   ownerID,
		CallerKey: callerKey,
	})
	if err != nil {
		a.generateError(w, result.JobID, err)
		return
	}

	a.archiveArtifact(r.Context(), kind, result.JobID, result.ArtifactRef)
	a.json(w, http.StatusOK, generateResponse{
		JobID:    result.JobID,
		Status:   string(domain.JobStatusCompleted),
		ImageURL: result.ArtifactRef,
	})
}

func (a *App) generateError(w http.ResponseWriter, jobID string, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrAlreadyInProgress):
		a.error(w, http.StatusConflict, "already_in_progress", err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		a.error(w, http.StatusServiceUnavailable, "not_configured", err.Error())
	case errors.Is(err, domain.ErrDeadlineExceeded):
		a.error(w, http.StatusGatewayTimeout, "deadline_exceeded", err.Error())
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrProvider):
		a.error(w, http.StatusBadGateway, "provider_error", err.Error())
	default:
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "generation failed")
	}
}

// archiveArtifact writes inline artifacts through the file store when one
// is configured. Archive failures are logged and never affect the response.
func (a *App) archiveArtifact(ctx context.Context, kind domain.PlateKind, jobID, artifactRef string) {
	if a.Store == nil || jobID == "" {
		return
	}
	key := fmt.Sprintf("generated/%s/%s.png", kind, jobID)
	saved, err := a.Store.ArchiveArtifact(ctx, key, artifactRef)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("artifact archive failed")
		return
	}
	if saved != "" {
		a.Logger.Debug().Str("job_id", jobID).Str("storage_key", saved).Msg("artifact archived")
	}
}
