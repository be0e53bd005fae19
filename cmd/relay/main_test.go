package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"payrelay/internal/config"
	"payrelay/internal/core"
	"payrelay/internal/dedup"
	"payrelay/internal/types"
)

const testSecret = "whsec_main_test"

type fakeCloudWatch struct{ calls int }

func (f *fakeCloudWatch) PutMetricData(context.Context, *cloudwatch.PutMetricDataInput, ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.calls++
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{Environment: "local", LogLevel: "info"}
	cfg.Server.MaxBodyBytes = 1 << 20
	cfg.Webhook.SigningSecret = testSecret
	cfg.Webhook.StrictSignature = true
	cfg.Webhook.Tolerance = 5 * time.Minute
	cfg.Fulfillment.Stub = true
	cfg.Fulfillment.ProductIDType = types.ProductIDNumber
	cfg.Fulfillment.Event = types.DefaultFulfillmentEvent
	cfg.Fulfillment.Version = types.DefaultFulfillmentVersion
	cfg.Dedup.Enabled = true
	cfg.Dedup.TTL = time.Hour
	cfg.Observability.MetricNamespace = "PayRelay"
	return cfg
}

func testDeps(t *testing.T) appDeps {
	return appDeps{
		openPostgres: func(context.Context, *config.Config, *slog.Logger) (eventStore, func(), error) {
			t.Fatal("postgres must not be opened without DATABASE_URL")
			return nil, nil, nil
		},
		cloudWatch: func(context.Context, *config.Config) (core.CloudWatchClient, error) {
			return &fakeCloudWatch{}, nil
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedRequest(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testSecret,
		Timestamp: time.Now(),
	}).Header)
	return req
}

var checkout = []byte(`{"id":"evt_main","type":"checkout.session.completed","data":{"object":{"customer_details":{"email":"a@b.com"},"metadata":{"product_id":"42"}}}}`)

func TestNewApp_LocalStubRelaysAndDedupes(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(), quietLogger(), testDeps(t))
	require.NoError(t, err)
	require.IsType(t, &dedup.MemoryStore{}, a.store)

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, signedRequest(checkout))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "fulfillment forwarded")

	rec = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, signedRequest(checkout))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event already processed")

	rec = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event_store")
}

func TestNewApp_DedupDisabledHasNoStore(t *testing.T) {
	cfg := testConfig()
	cfg.Dedup.Enabled = false

	a, err := newApp(context.Background(), cfg, quietLogger(), testDeps(t))
	require.NoError(t, err)
	assert.Nil(t, a.store)
	assert.Empty(t, a.server.HealthChecks)
}

func TestNewApp_UnconfiguredUpstreamIsConfigurationError(t *testing.T) {
	cfg := testConfig()
	cfg.Fulfillment.Stub = false

	a, err := newApp(context.Background(), cfg, quietLogger(), testDeps(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, signedRequest(checkout))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeConfigUpstreamUnavailable))
}

func TestNewApp_PostgresSelectedWithDatabaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.Database.URL = "postgres://relay@localhost/payrelay"

	closed := false
	deps := testDeps(t)
	deps.openPostgres = func(context.Context, *config.Config, *slog.Logger) (eventStore, func(), error) {
		return dedup.NewMemoryStore(), func() { closed = true }, nil
	}

	a, err := newApp(context.Background(), cfg, quietLogger(), deps)
	require.NoError(t, err)
	require.NoError(t, a.server.Shutdown(context.Background()))
	assert.True(t, closed)
}

func TestNewApp_PostgresFailureAbortsStartup(t *testing.T) {
	cfg := testConfig()
	cfg.Database.URL = "postgres://relay@localhost/payrelay"

	deps := testDeps(t)
	deps.openPostgres = func(context.Context, *config.Config, *slog.Logger) (eventStore, func(), error) {
		return nil, nil, errors.New("connection refused")
	}

	_, err := newApp(context.Background(), cfg, quietLogger(), deps)
	assert.ErrorContains(t, err, "connection refused")
}

func TestNewApp_MetricsEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.EnableMetrics = true

	cw := &fakeCloudWatch{}
	deps := testDeps(t)
	deps.cloudWatch = func(context.Context, *config.Config) (core.CloudWatchClient, error) { return cw, nil }

	a, err := newApp(context.Background(), cfg, quietLogger(), deps)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, signedRequest(checkout))
	require.Equal(t, http.StatusOK, rec.Code)

	// One relay outcome batch plus one request batch.
	assert.Equal(t, 2, cw.calls)
}

func TestPurgeLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		purgeLoop(ctx, dedup.NewMemoryStore(), quietLogger())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purgeLoop did not stop")
	}
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("info").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("warn").Enabled(ctx, slog.LevelInfo))
	assert.True(t, newLogger("error").Enabled(ctx, slog.LevelError))
	assert.True(t, newLogger("bogus").Enabled(ctx, slog.LevelInfo))
}
