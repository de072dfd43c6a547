/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/members/*        Member status, quotes, earnings, activations
  /api/activations/*    Activation lifecycle
  /api/tiers            Tier table
  /api/distributions/*  Run history and manual trigger
  /api/seed             Demo dataset (dev only)

SECURITY NOTE:
  No authentication middleware. All endpoints are public; front the service
  with a gateway before exposing it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Member routes
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)
			r.Get("/{id}", h.GetMember)
			r.Get("/{id}/status", h.GetStatus)
			r.Post("/{id}/quote", h.Quote)
			r.Post("/{id}/earnings", h.CreditEarning)
			r.Get("/{id}/activations", h.ListActivations)
			r.Post("/{id}/activations", h.Activate)
		})

		// Activation lifecycle
		r.Route("/activations", func(r chi.Router) {
			r.Post("/{id}/deactivate", h.Deactivate)
			r.Post("/{id}/swap", h.SwapActivation)
		})

		// Tier table
		r.Get("/tiers", h.ListTiers)

		// Distribution routes
		r.Route("/distributions", func(r chi.Router) {
			r.Get("/runs", h.ListRuns)
			r.Post("/process", h.ProcessDistributions)
		})

		// Dev: demo dataset
		r.Post("/seed", h.Seed)
	})

	return r
}
