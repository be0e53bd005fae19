package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"payrelay/internal/types"
)

// defaultRequestTimeout bounds the inbound request context. The outbound
// fulfillment call is detached from it and bounded by its own timeout.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in
// request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Stripe-Signature",
	"X-Hotmart-Hottok",
}

// MountRoutes registers the middleware chain and all routes.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/", s.HandleRoot)
	s.router.Get("/health", s.HandleHealth)

	for _, registrar := range s.WebhookRoutes {
		registrar(s.router)
	}

	if s.adminEnabled() && len(s.AdminRoutes) > 0 {
		s.router.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuth(s.Config.Security.AdminAPIKeyHash, s.Logger))
			for _, registrar := range s.AdminRoutes {
				registrar(r)
			}
		})
	}
}

// registerGlobalMiddleware applies middleware in strict order.
//
//  1. Recoverer       - outermost, catches panics from everything below.
//  2. ContextTimeout  - soft deadline on the inbound context.
//  3. RequestID       - correlation ID for logs and outbound calls.
//  4. NoStore         - cache headers on every response, errors included.
//  5. RequestLogger   - structured access log with redacted headers.
//  6. Metrics         - latency and count per route pattern.
//  7. Decompress      - gzip/zstd request bodies, before any handler reads.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(NoStoreMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(DecompressMiddleware)
}

func (s *Server) adminEnabled() bool {
	return s.Config != nil && s.Config.Security.AdminAPIKeyHash.IsSet()
}

// HandleRoot answers liveness pings with a plain-text banner.
func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("payrelay: relay running\n"))
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an inbound X-Request-Id or generates one, stores
// it in the context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}

		w.Header().Set("X-Request-Id", requestID)
		ctx := types.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateRequestID returns 16 random bytes as 32 hex characters.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}
