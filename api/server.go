/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Recoverer:  Panic recovery (500 envelope instead of crash)
  2. RequestID:  X-Request-Id propagated into every log line
  3. Logging:    Request logging + latency histogram
  4. CORS:       Cross-origin requests for frontends
  5. Auth:       Bearer JWT -> ledger.Actor (API routes only)

ROUTE GROUPS:
  /api/*        Ledger operations (see handlers.go)
  /healthz      Liveness + store ping
  /metrics      Prometheus exposition (when enabled)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/metrics"
)

// RouterOptions carries the cross-cutting pieces of the router.
type RouterOptions struct {
	JWT            config.JWTConfig
	CORSOrigins    []string
	HTTPMetrics    *metrics.HTTP
	MetricsHandler http.Handler // nil disables /metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Recoverer(h.Log))
	r.Use(RequestID(h.Log))
	r.Use(Logging(h.Log, opts.HTTPMetrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(opts.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(Auth(opts.JWT, h.Log))

		r.Post("/grantLeave", h.GrantLeave)
		r.Post("/requestLeave", h.RequestLeave)
		r.Post("/useLeave", h.UseLeave)
		r.Post("/rejectLeave", h.RejectLeave)

		r.Route("/persons/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Post("/balance/refresh", h.RefreshBalance)
			r.Get("/requests", h.ListRequests)
			r.Get("/entries", h.ListEntries)
			r.Get("/reconciliation", h.GetReconciliation)
			r.Post("/reconciliation/repair", h.RepairBalance)
		})

		r.Get("/requests/{id}", h.GetRequest)
	})

	return r
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
