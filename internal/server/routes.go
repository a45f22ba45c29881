package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/exchangelink/exchangelink/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.NewVersionHandler(s.exchanges.Registry))
	s.router.Get("/metrics", MetricsHandler)

	s.router.Route("/v1/exchanges", func(r chi.Router) {
		r.Get("/", s.exchanges.List)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/limits", s.exchanges.Limits)
			r.Post("/limits/reset", s.exchanges.ResetLimits)
			r.Get("/clock", s.exchanges.Clock)
			r.Post("/clock/invalidate", s.exchanges.InvalidateClock)
		})
	})
}
