/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the club frontend

SECURITY NOTE:
  No authentication middleware here; the service sits behind the club
  platform's authenticated reverse proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/members/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Post("/balance/recompute", h.RecomputeBalance)
			r.Get("/entries", h.ListEntries)
			r.Post("/payments", h.SubmitPayment)
			r.Post("/adjustments", h.CreateAdjustment)
		})

		r.Route("/entries", func(r chi.Router) {
			r.Post("/mark-paid", h.MarkPaidBulk)
			r.Post("/{id}/mark-paid", h.MarkPaid)
			r.Delete("/{id}", h.DeleteEntry)
		})

		r.Route("/triggers", func(r chi.Router) {
			r.Post("/attendance", h.TriggerAttendance)
			r.Post("/team-selection", h.TriggerTeamSelection)
			r.Post("/match-events", h.TriggerMatchEvents)
			r.Post("/event-fees", h.TriggerEventFees)
			r.Post("/event-cancelled", h.TriggerEventCancelled)
			r.Post("/subscriptions", h.TriggerSubscriptions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
