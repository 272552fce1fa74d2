package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/personal-vault/internal/handler"
	"github.com/connexus-ai/personal-vault/internal/middleware"
)

// Dependencies holds every injected service the router wires into handlers.
// This is a single-user tool: there is no multi-tenant auth layer, so routes
// are protected only by the internal auth secret (see middleware.InternalAuth).
type Dependencies struct {
	DB                 handler.DBPinger
	Version            string
	FrontendURL        string
	InternalAuthSecret string
	RateLimiter        *middleware.RateLimiter
	Metrics            *middleware.Metrics
	MetricsReg         *prometheus.Registry

	Ask      handler.AskRunner
	Feedback handler.FeedbackDeps
	Memory   handler.MemoryReviewDeps
	Sources  handler.SourcesDeps
	Eval     handler.EvalRunner
}

// New assembles the HTTP router for the vault backend.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	timeout30s := middleware.Timeout(30 * time.Second)
	timeout2m := middleware.Timeout(2 * time.Minute)

	r.Get("/healthz", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.InternalAuth(deps.InternalAuthSecret))
		if deps.RateLimiter != nil {
			api.Use(middleware.RateLimit(deps.RateLimiter))
		}

		api.With(timeout2m).Post("/ask", handler.Ask(deps.Ask))
		api.With(timeout30s).Post("/feedback", handler.Feedback(deps.Feedback))

		api.Route("/sources", func(src chi.Router) {
			src.With(timeout30s).Get("/", handler.ListSources(deps.Sources))
			src.With(timeout30s).Post("/{source}/connect", handler.ConnectSource(deps.Sources))
			src.With(timeout2m).Post("/{source}/sync", handler.SyncSource(deps.Sources))
			src.With(timeout30s).Put("/files/allowlist", handler.ReplaceFileAllowlist(deps.Sources))
		})

		api.Route("/memory", func(mem chi.Router) {
			mem.With(timeout30s).Get("/candidates", handler.ListMemoryCandidates(deps.Memory))
			mem.With(timeout30s).Post("/candidates/{id}/approve", handler.ApproveMemoryCandidate(deps.Memory))
			mem.With(timeout30s).Post("/candidates/{id}/reject", handler.RejectMemoryCandidate(deps.Memory))
			mem.With(timeout30s).Post("/items/{id}/deprecate", handler.DeprecateMemoryItem(deps.Memory))
			mem.With(timeout2m).Post("/eval", handler.RunMemoryEval(deps.Eval))
		})
	})

	return r
}
