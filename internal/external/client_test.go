package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"payrelay/internal/types"
)

// noopSleep is a sleep function that does nothing, for fast tests.
func noopSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, policy RetryPolicy, opts ...BaseClientOption) *BaseClient {
	t.Helper()
	opts = append([]BaseClientOption{WithSleepFunc(noopSleep)}, opts...)
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		policy,
		"payrelay-test/1.0",
		opts...,
	)
}

func retryPolicy(n int) RetryPolicy {
	return RetryPolicy{MaxRetries: n, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := newTestClient(t, DefaultRetryPolicy()).Do(req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != `{"status":"ok"}` {
		t.Errorf("unexpected response %d %s", resp.StatusCode, body)
	}
}

func TestDo_InjectsCorrelationHeaders(t *testing.T) {
	var gotRequestID, gotEventID, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
		gotEventID = r.Header.Get("X-Event-ID")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx := types.WithEventID(types.WithRequestID(context.Background(), "req-abc"), "evt_123")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := newTestClient(t, DefaultRetryPolicy()).Do(req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	resp.Body.Close()

	if gotRequestID != "req-abc" {
		t.Errorf("X-Request-ID = %q", gotRequestID)
	}
	if gotEventID != "evt_123" {
		t.Errorf("X-Event-ID = %q", gotEventID)
	}
	if gotUA != "payrelay-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestDo_DefaultPolicyMakesExactlyOneAttempt(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader("{}"))
	resp, err := newTestClient(t, DefaultRetryPolicy()).Do(req)
	if err != nil {
		t.Fatalf("final 5xx should be returned as a response, got error: %v", err)
	}
	defer resp.Body.Close()

	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusServiceUnavailable || string(body) != "maintenance" {
		t.Errorf("unexpected final response %d %q", resp.StatusCode, body)
	}
}

func TestDo_RetriesWhenConfigured(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var sleeps int
	client := newTestClient(t, retryPolicy(2), WithSleepFunc(func(context.Context, time.Duration) error { sleeps++; return nil }))

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	resp.Body.Close()

	if attempts.Load() != 3 || sleeps != 2 {
		t.Errorf("attempts=%d sleeps=%d, want 3 and 2", attempts.Load(), sleeps)
	}
}

func TestDo_PostBodyPreservedAcrossRetries(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"id":"x"}`))
	resp, err := newTestClient(t, retryPolicy(1)).Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != `{"id":"x"}` {
		t.Errorf("body not replayed: %v", bodies)
	}
}

func TestDo_4xxNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := newTestClient(t, retryPolicy(3)).Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if attempts.Load() != 1 {
		t.Errorf("4xx should not be retried, got %d attempts", attempts.Load())
	}
}

func TestDo_NetworkErrorMapsToUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	_, err := newTestClient(t, DefaultRetryPolicy()).Do(req)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnreachable {
		t.Errorf("Code = %q, want %q", appErr.Code, types.ErrCodeUpstreamUnreachable)
	}
}

func TestDo_CircuitBreakerOpensAfterThreshold(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, DefaultRetryPolicy(), WithBreaker(NewBreaker("trip", 3, time.Minute)))

	for range 3 {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("breaker should still be closed: %v", err)
		}
		resp.Body.Close()
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamUnreachable {
		t.Fatalf("expected upstream_unreachable from open breaker, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("open breaker must not reach the server, attempts=%d", attempts.Load())
	}
}

func TestComputeBackoff(t *testing.T) {
	c := newTestClient(t, RetryPolicy{MaxRetries: 3, MinWait: 100 * time.Millisecond, MaxWait: time.Second})

	if got := c.computeBackoff(0, nil); got != 100*time.Millisecond {
		t.Errorf("attempt 0 backoff = %v, want MinWait", got)
	}
	for attempt := range 6 {
		got := c.computeBackoff(attempt, nil)
		if got < 100*time.Millisecond || got > time.Second {
			t.Errorf("attempt %d backoff %v outside [MinWait, MaxWait]", attempt, got)
		}
	}

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"30"}}}
	if got := c.computeBackoff(0, resp); got != time.Second {
		t.Errorf("Retry-After should be capped at MaxWait, got %v", got)
	}
}

func TestDo_BackoffStopsWhenContextEnds(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewBaseClient(&http.Client{Timeout: time.Second}, "test-backoff-ctx",
		RetryPolicy{MaxRetries: 3, MinWait: 5 * time.Second, MaxWait: 5 * time.Second},
		"payrelay-test/1.0")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	if resp != nil {
		resp.Body.Close()
	}
	if err == nil {
		t.Fatal("expected an error once the context ended during backoff")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in the chain, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("backoff ignored the context: took %v", elapsed)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts=%d, want 1", attempts.Load())
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
