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
  4. CORS:       Cross-origin requests for mobile/web clients

ROUTE GROUPS:
  /api/users/*     User registry and heart operations
  /api/admin/*     Admin operations (maturation sweep)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)

			// Heart operations
			r.Route("/{id}/hearts", func(r chi.Router) {
				r.Get("/", h.GetHearts)
				r.Post("/lose", h.LoseHeart)
				r.Post("/gain", h.GainHeart)
				r.Post("/perfect", h.RecordPerfect)
				r.Get("/next-refill", h.GetNextRefill)
			})

			// Ledger
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/stats", h.GetStats)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/process-due", h.ProcessDue)
		})
	})

	return r
}
