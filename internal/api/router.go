package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/polymolt/relay/internal/api/middleware"
	"github.com/polymolt/relay/internal/handlers"
	"github.com/polymolt/relay/internal/relay"
)

// NewRouter creates and configures the HTTP router. The WebSocket
// endpoint is mounted outside the REST middleware chain: wrapping
// response writers would break the connection hijack the upgrade needs.
func NewRouter(logger zerolog.Logger, hub *relay.Hub, h *handlers.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Relay transport
	r.Get("/ws", hub.ServeWS)

	// REST surface
	r.Group(func(r chi.Router) {
		r.Use(middleware.Metrics)
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
		r.Use(middleware.ValidateRequest)
		r.Use(middleware.Logger(logger))

		// CORS - allow all origins (agents call from anywhere)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Handle("/metrics", promhttp.Handler())

		r.Get("/", h.Root)
		r.Get("/api/health", h.Health)
		r.Get("/api/messages/{marketID}", h.Messages)
		r.Get("/api/agents/online", h.OnlineAgents)
	})

	return r
}
