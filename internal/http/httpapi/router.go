package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"coloringbook/internal/http/handlers"
	"coloringbook/internal/middleware"
)

// NewRouter builds the HTTP surface. The generation routes sit behind the
// advisory per-IP quota; status lookups do not count against it.
func NewRouter(app *handlers.App, dailyLimit int) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, chimw.Logger)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.GenerationQuota(dailyLimit, 24*time.Hour))
		r.Post("/v1/plates", app.PlatesGenerate)
		r.Post("/v1/mandalas", app.MandalasGenerate)
	})

	r.Get("/v1/jobs/{job_id}", app.JobStatus)

	return r
}
