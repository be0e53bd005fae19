// Package core provides the HTTP chassis for the payment relay.
// It creates a chi router usable both behind net/http (local and container
// hosting) and behind the Lambda function URL adapter. It enforces
// cross-cutting concerns before requests reach the webhook and admin handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"payrelay/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts handler routes on a router. Handler packages hand
// these to the Server so that core never imports them.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the HTTP surface.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Metrics      MetricsCollector
	HealthChecks []HealthCheck

	// WebhookRoutes are mounted at the root.
	WebhookRoutes []RouteRegistrar
	// AdminRoutes are mounted under /admin behind AdminAuth, and only when an
	// admin key hash is configured.
	AdminRoutes []RouteRegistrar

	router *chi.Mux

	mu      sync.Mutex
	closers []func()
}

// NewServer validates the critical dependencies and prepares an empty router.
// The caller mounts routes via MountRoutes after populating the registrars.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn to run during Shutdown, in reverse registration order.
func (s *Server) OnShutdown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

// Shutdown releases resources registered with OnShutdown. It stops early if
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown interrupted: %w", err)
		}
		closers[i]()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
