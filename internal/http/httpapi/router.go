package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"expander/internal/http/handlers"
	"expander/internal/infra"
	"expander/internal/middleware"
)

// NewRouter wires the middleware chain and the expansion control surface.
func NewRouter(app *handlers.App, cfg *infra.Config, logger zerolog.Logger, lookup middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORSOrigins),
		middleware.RateLimit(cfg.RateLimitPerMin, time.Minute),
		middleware.Locale("en", lookup),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/expansions", func(r chi.Router) {
		r.Post("/", app.StartExpansion)
		r.Get("/", app.ExpansionProgress)
		r.Delete("/", app.DismissExpansion)
		r.Post("/cancel", app.CancelExpansion)
		r.Get("/modes", app.ExpansionModes)
		r.Get("/archive", app.ExpansionArchive)
	})

	return r
}
