package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrelay/internal/config"
)

// stubCheck is a HealthCheck whose behaviour is set per test.
type stubCheck struct {
	name  string
	err   error
	delay time.Duration
	check func(ctx context.Context) error
	calls atomic.Int32
}

func (p *stubCheck) Name() string { return p.name }

func (p *stubCheck) Check(ctx context.Context) error {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.check != nil {
		return p.check(ctx)
	}
	return p.err
}

var _ HealthCheck = (*stubCheck)(nil)

func healthServer(t *testing.T, checks ...HealthCheck) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	cfg.Build.Version = "v1.4.0"
	srv, err := NewServer(cfg, discardLogger())
	require.NoError(t, err)
	srv.HealthChecks = checks
	return srv
}

func getHealth(t *testing.T, srv *Server, ctx context.Context) (int, healthResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestHandleHealth_NoChecks(t *testing.T) {
	code, resp := getHealth(t, healthServer(t), context.Background())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "v1.4.0", resp.Version)
	assert.Empty(t, resp.Components)
}

func TestHandleHealth_StoreHealthy(t *testing.T) {
	store := &stubCheck{name: "event_store"}
	code, resp := getHealth(t, healthServer(t, store), context.Background())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, componentStatus{Status: "healthy"}, resp.Components["event_store"])
	assert.EqualValues(t, 1, store.calls.Load())
}

func TestHandleHealth_StoreDown(t *testing.T) {
	store := &stubCheck{name: "event_store", err: errors.New("connection refused")}
	other := &stubCheck{name: "metrics"}
	code, resp := getHealth(t, healthServer(t, store, other), context.Background())

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, componentStatus{Status: "unhealthy", Message: "connection refused"}, resp.Components["event_store"])
	assert.Equal(t, "healthy", resp.Components["metrics"].Status)
}

func TestHandleHealth_ChecksRunConcurrently(t *testing.T) {
	const delay = 100 * time.Millisecond
	checks := []HealthCheck{
		&stubCheck{name: "a", delay: delay},
		&stubCheck{name: "b", delay: delay},
		&stubCheck{name: "c", delay: delay},
	}

	start := time.Now()
	code, _ := getHealth(t, healthServer(t, checks...), context.Background())

	assert.Equal(t, http.StatusOK, code)
	assert.Less(t, time.Since(start), 3*delay)
}

func TestHandleHealth_SlowCheckTimesOut(t *testing.T) {
	slow := &stubCheck{name: "event_store", check: func(ctx context.Context) error {
		// Ignores ctx so only the handler deadline can end the wait.
		time.Sleep(healthCheckTimeout + time.Second)
		return nil
	}}
	fast := &stubCheck{name: "metrics"}

	start := time.Now()
	code, resp := getHealth(t, healthServer(t, slow, fast), context.Background())

	assert.Less(t, time.Since(start), healthCheckTimeout+500*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "health check timed out", resp.Components["event_store"].Message)
	assert.Equal(t, "healthy", resp.Components["metrics"].Status)
}

func TestHandleHealth_CancelledRequestPropagates(t *testing.T) {
	seen := make(chan error, 1)
	check := &stubCheck{name: "event_store", delay: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	wrapped := NewPingCheck("event_store", func(pctx context.Context) error {
		err := check.Check(pctx)
		seen <- err
		return err
	})
	code, _ := getHealth(t, healthServer(t, wrapped), ctx)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	select {
	case err := <-seen:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("check never observed cancellation")
	}
}

func TestHandleHealth_PanickingCheck(t *testing.T) {
	bad := &stubCheck{name: "event_store", check: func(ctx context.Context) error {
		panic("nil pool")
	}}
	good := &stubCheck{name: "metrics"}

	code, resp := getHealth(t, healthServer(t, bad, good), context.Background())

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Components["event_store"].Status)
	assert.Contains(t, resp.Components["event_store"].Message, "nil pool")
	assert.Equal(t, "healthy", resp.Components["metrics"].Status)
}

func TestPingCheck(t *testing.T) {
	pingErr := errors.New("connection refused")
	check := NewPingCheck("event_store", func(ctx context.Context) error { return pingErr })

	assert.Equal(t, "event_store", check.Name())
	assert.ErrorIs(t, check.Check(context.Background()), pingErr)
}
