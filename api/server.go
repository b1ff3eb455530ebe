/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the operator console

ROUTE GROUPS:
  /api/bookings/{id}/*  Single-booking triggers
  /api/recalculate      Batch recalculation
  /api/earning-errors   Triage
  /health               Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind the platform gateway.

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
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/bookings/{id}", func(r chi.Router) {
			r.Get("/earnings", h.GetEarnings)
			r.Post("/earnings", h.ComputeEarnings)
			r.Get("/preview", h.PreviewEarnings)
			r.Post("/status", h.UpdateStatus)
			r.Put("/guests", h.UpdateGuests)
		})

		r.Post("/recalculate", h.Recalculate)
		r.Get("/earning-errors", h.ListEarningErrors)
	})

	return r
}
