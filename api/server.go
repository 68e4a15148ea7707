/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/affiliates/*     Affiliate management
  /api/sales            Sale ingestion
  /api/commissions/*    Ledger records and operator actions
  /api/payouts/*        Batch runs and history
  /api/rules            Rule-set versions
  /api/admin/*          Admin operations
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/affiliates", func(r chi.Router) {
			r.Get("/", h.ListAffiliates)
			r.Post("/", h.CreateAffiliate)
			r.Get("/{id}", h.GetAffiliate)
			r.Get("/{id}/summary", h.GetSummary)
		})

		r.Post("/sales", h.RecordSale)

		r.Route("/commissions", func(r chi.Router) {
			r.Get("/", h.ListCommissions)
			r.Get("/{id}", h.GetCommission)
			r.Post("/{id}/approve", h.ApproveCommission)
			r.Post("/{id}/reject", h.RejectCommission)
			r.Post("/{id}/request-info", h.RequestInfo)
			r.Post("/{id}/reverse", h.ReverseCommission)
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Post("/run", h.RunBatch)
			r.Get("/", h.ListBatches)
			r.Get("/{id}", h.GetBatch)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.GetRules)
			r.Post("/", h.CreateRules)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
