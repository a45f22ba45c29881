// Package server exposes the admin HTTP surface: health, version, metrics
// and per-exchange rate limit and clock administration.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/config"
	apperrors "github.com/exchangelink/exchangelink/internal/errors"
	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/server/handlers"
	servermw "github.com/exchangelink/exchangelink/internal/server/middleware"
)

// Server represents the admin HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig

	exchanges *handlers.ExchangeHandler
	health    *handlers.HealthManager
}

// New creates the admin server over the registered exchange clients. A nil
// health manager gets one with no checkers.
func New(cfg config.ServerConfig, registry *exchange.Registry, health *handlers.HealthManager) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewInvalidInputError("The requested method is not allowed for this resource"))
	})

	if health == nil {
		health = handlers.NewHealthManager(handlers.AppVersion)
	}
	s := &Server{
		router:    r,
		cfg:       cfg,
		exchanges: &handlers.ExchangeHandler{Registry: registry},
		health:    health,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()
	return s
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, 120*time.Second),
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("host", s.cfg.Host),
			zap.Int("port", s.cfg.Port),
			zap.String("addr", addr))
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port
func (s *Server) Port() int {
	return s.cfg.Port
}

// HandleError central handler for all errors
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
