// Package core provides the API chassis for the HomeGrid platform. It creates
// a chi router and enforces cross-cutting concerns -- logging, observability,
// and error handling -- before requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"homegrid/internal/config"
)

// Server encapsulates the shared dependencies of the HomeGrid API, allowing
// for easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       *Metrics
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// V1RouteRegistrars are populated by the application entry point. This
	// indirection avoids import cycles between core and handler packages.
	V1RouteRegistrars []func(chi.Router)

	// PublicRouteRegistrars mount routes outside the authenticated /v1 group
	// (the provider webhook endpoint).
	PublicRouteRegistrars []func(chi.Router)

	router *chi.Mux

	// closers are invoked in reverse order on Shutdown (database pools etc.).
	closers []func()
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// configuration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function invoked during Shutdown.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(_ context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
