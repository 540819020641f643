package core

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft timeout applied to request contexts when
// no explicit RequestTimeout is configured.
const defaultRequestTimeout = 29 * time.Second

// MountRoutes defines the top-level routing hierarchy.
// It registers the global middleware chain, public routes (webhook, health,
// metrics), and the authenticated /v1 API group.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	// Public routes: provider webhook (signature-verified, not bearer-auth'd).
	for _, registrar := range s.PublicRouteRegistrars {
		registrar(s.router)
	}

	// API version groups.
	s.router.Route("/v1", s.mountV1)

	// Top-level routes (outside /v1 namespace).
	s.router.Get("/health", s.HandleHealth)
	if s.Metrics != nil && s.Config.Metrics.Enabled {
		s.router.Handle("/metrics", s.Metrics.Handler())
	}
}

// registerGlobalMiddleware applies middleware in strict order.
//
// Ordering Rationale:
//  1. Recoverer      - Catches panics; outermost to catch all failures.
//  2. ContextTimeout - Sets a soft deadline before the server hard timeout.
//  3. RequestID      - Generates/propagates correlation ID for tracing.
//  4. RequestLogger  - Structured logging (redacted headers).
//  5. Metrics        - Request latency and count recording.
//  6. Auth           - Resolves the Actor and injects it into context.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(s.AuthMiddleware)
}

// mountV1 registers all v1 endpoints via the registrars populated by main.
func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

// requestTimeout returns the configured request timeout, falling back to the
// default if the config does not specify one.
func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}
