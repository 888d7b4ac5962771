// Package router assembles the HTTP surface: public health and metrics,
// and the JWT-protected booking, case, bundle and ops routes.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/rehabflow/clinic-platform/internal/http/middleware"
	"github.com/rehabflow/clinic-platform/internal/ledger"
	"github.com/rehabflow/clinic-platform/internal/ops"
	"github.com/rehabflow/clinic-platform/internal/syncengine"
	"github.com/rehabflow/clinic-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	SyncHandler        *syncengine.Handler
	BundleHandler      *ledger.Handler
	OpsHandler         *ops.Handler
	MetricsHandler     http.Handler
	AuthSecret         string
	RateLimiter        *httpmiddleware.RedisRateLimiter
	CORSAllowedOrigins []string
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Authenticated API
	r.Group(func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(cfg.RateLimiter.Middleware(cfg.Logger, true))
		}
		api.Use(httpmiddleware.Auth(cfg.AuthSecret))

		if cfg.SyncHandler != nil {
			api.Mount("/bookings", cfg.SyncHandler.BookingRoutes())
			api.Mount("/cases", cfg.SyncHandler.CaseRoutes())
		}
		if cfg.BundleHandler != nil {
			api.Mount("/bundles", cfg.BundleHandler.Routes())
		}
		// Operational views expose cross-org data; clinicians and org
		// staff stay out.
		if cfg.OpsHandler != nil {
			api.Group(func(admin chi.Router) {
				admin.Use(httpmiddleware.RequireAdmin)
				admin.Mount("/ops", cfg.OpsHandler.Routes())
			})
		}
	})

	return r
}
