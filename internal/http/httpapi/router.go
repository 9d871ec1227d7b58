package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/duropiri/novai-sub000/internal/http/handlers"
	"github.com/duropiri/novai-sub000/internal/infra"
	"github.com/duropiri/novai-sub000/internal/middleware"
)

// NewRouter wires middlewares, API routes and the static artifact mount.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORSAllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(middleware.RateLimit(30, time.Minute)).Post("/", app.JobsCreate)
		r.Get("/{id}", app.JobsGet)
		r.Post("/{id}/retry", app.JobsRetry)
	})

	r.Route("/v1/batches", func(r chi.Router) {
		r.With(middleware.RateLimit(10, time.Minute)).Post("/", app.BatchesCreate)
		r.Get("/{id}", app.BatchesStatus)
		r.Post("/{id}/zip", app.BatchesZip)
	})

	// Generated artifacts are served straight off the file store.
	fileServer := http.StripPrefix("/static/", http.FileServer(http.Dir(app.Files.BasePath())))
	r.Get("/static/*", fileServer.ServeHTTP)

	return r
}
