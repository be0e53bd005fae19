package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"payrelay/internal/types"
)

// statusRecorder remembers the status and body size a handler produced so
// that logging and metrics can observe them after the chain returns.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.status = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Recoverer turns a handler panic into a logged stack trace and a 500
// error envelope. If the handler already started the response, only the
// log line is emitted. It must be the outermost middleware.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := newStatusRecorder(w)
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}

			// RequestIDMiddleware runs inside this one; its id is only
			// visible on the response headers.
			requestID := rec.Header().Get("X-Request-Id")
			ctx := types.WithRequestID(r.Context(), requestID)

			s.Logger.ErrorContext(ctx, "panic recovered",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("request_id", requestID),
				slog.String("panic", fmt.Sprint(rvr)),
				slog.String("stack", string(debug.Stack())),
			)

			if rec.wroteHeader {
				return
			}
			Error(rec, r.WithContext(ctx), types.NewAppError(types.ErrCodeInternalUnexpected,
				"an unexpected error occurred", fmt.Errorf("panic: %v", rvr)))
		}()

		next.ServeHTTP(rec, r)
	})
}

// RequestLogger writes one access-log line per request. The level follows
// the status class. Request headers are only dumped when the logger is
// enabled for debug, with the named headers masked.
func RequestLogger(logger *slog.Logger, redactedHeaders []string) func(http.Handler) http.Handler {
	redact := make(map[string]struct{}, len(redactedHeaders))
	for _, h := range redactedHeaders {
		redact[http.CanonicalHeaderKey(h)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			ctx := r.Context()
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", routePattern(r)),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if id := types.GetRequestID(ctx); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if enc := r.Header.Get("Content-Encoding"); enc != "" {
				attrs = append(attrs, slog.String("content_encoding", enc))
			}
			if logger.Enabled(ctx, slog.LevelDebug) {
				attrs = append(attrs, headerGroup(r.Header, redact))
			}

			logger.LogAttrs(ctx, levelForStatus(rec.status), "request completed", attrs...)
		})
	}
}

func headerGroup(h http.Header, redact map[string]struct{}) slog.Attr {
	fields := make([]any, 0, len(h))
	for name, values := range h {
		if _, masked := redact[http.CanonicalHeaderKey(name)]; masked {
			fields = append(fields, slog.String(name, types.RedactedPlaceholder))
			continue
		}
		fields = append(fields, slog.String(name, strings.Join(values, ", ")))
	}
	return slog.Group("headers", fields...)
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// MetricsMiddleware records request latency and count per route pattern.
// A nil collector passes requests through untouched.
func (s *Server) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		s.Metrics.RecordRequest(r.Method, routePattern(r), strconv.Itoa(rec.status), time.Since(start))
	})
}

// routePattern returns the matched chi pattern so that path parameters do
// not explode metric cardinality. Unmatched requests report "unmatched".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// NoStoreMiddleware marks every response as uncacheable and unsniffable.
// Webhook acknowledgements and admin lookups are per-request facts.
func NoStoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}
