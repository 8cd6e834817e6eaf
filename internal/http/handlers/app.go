package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"coloringbook/internal/domain"
	"coloringbook/internal/infra"
	"coloringbook/internal/orchestrator"
	"coloringbook/internal/storage"
)

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Jobs         domain.JobRepository
	Store        *storage.FileStore
	Logger       infra.Logger
}

func NewApp(orc *orchestrator.Orchestrator, jobs domain.JobRepository, store *storage.FileStore, logger infra.Logger) *App {
	return &App{Orchestrator: orc, Jobs: jobs, Store: store, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}

// currentUserID returns the optional owner identity. Authentication is an
// external concern; an absent header means anonymous usage.
func (a *App) currentUserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}
