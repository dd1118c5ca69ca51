package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"statflow/internal/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger *slog.Logger
	// QueryLimiter, when set, guards the endpoints that reach the warehouse.
	QueryLimiter *middleware.RateLimiter
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// AllowedOrigins enables CORS for these browser origins ("*" for any).
	AllowedOrigins []string
	// UI, when set, is mounted at /ui.
	UI http.Handler
}

// NewRouter mounts h on a chi router.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Health)
	r.Get("/openapi.json", ServeOpenAPI)
	if opts.UI != nil {
		r.Mount("/ui", opts.UI)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/snapshot", h.Snapshot)
		r.Get("/indicators", h.ListIndicators)
		r.Get("/resolve/{code}", h.Resolve)

		r.Group(func(r chi.Router) {
			if opts.QueryLimiter != nil {
				r.Use(opts.QueryLimiter.Handler)
			}
			r.Post("/query", h.Query)
			r.Post("/sync", h.Sync)
		})
	})
	return r
}
