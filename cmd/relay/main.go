// Package main is the entry point for the payment relay.
//
// It loads configuration (resolving SSM pointers outside local mode), wires
// the event store, fulfillment client, customer mirror and metrics into the
// relay service, and serves the HTTP surface.
//
// Inside AWS Lambda the router is served through a function URL adapter;
// everywhere else it runs as a standard HTTP server with graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"golang.org/x/sync/errgroup"

	"payrelay/internal/api/handlers"
	"payrelay/internal/config"
	"payrelay/internal/core"
	"payrelay/internal/db"
	"payrelay/internal/dedup"
	"payrelay/internal/external"
	"payrelay/internal/lambdaproxy"
	"payrelay/internal/relay"
)

// purgeInterval is how often the HTTP server deletes expired dedup claims.
const purgeInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("payrelay starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"dedup", cfg.Dedup.Enabled,
		"strict_signature", cfg.Webhook.StrictSignature,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, defaultAppDeps())
	if err != nil {
		return err
	}

	if isLambdaEnvironment() {
		logger.Info("running in Lambda mode")
		lambda.Start(lambdaproxy.New(a.server.Handler()).Handle)
		return nil
	}

	return runHTTPServer(ctx, a, cfg, logger)
}

// app is the wired relay.
type app struct {
	server *core.Server
	store  eventStore
}

// eventStore is what the relay, admin handler and health check need from
// either store implementation.
type eventStore interface {
	relay.EventStore
	handlers.EventAdmin
	Ping(ctx context.Context) error
}

// appDeps are the side-effecting constructors newApp calls, replaceable in
// tests.
type appDeps struct {
	openPostgres func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (eventStore, func(), error)
	cloudWatch   func(ctx context.Context, cfg *config.Config) (core.CloudWatchClient, error)
}

func defaultAppDeps() appDeps {
	return appDeps{
		openPostgres: openPostgres,
		cloudWatch:   newCloudWatchClient,
	}
}

// newApp wires every component from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps appDeps) (*app, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a := &app{server: srv}

	if cfg.Dedup.Enabled {
		if cfg.Database.URL.IsSet() {
			store, closeFn, err := deps.openPostgres(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			srv.OnShutdown(closeFn)
			a.store = store
			logger.Info("event store: postgres")
		} else {
			a.store = dedup.NewMemoryStore()
			logger.Warn("event store: in-memory; claims are lost on restart and not shared between instances")
		}
		srv.HealthChecks = append(srv.HealthChecks, core.NewPingCheck("event_store", a.store.Ping))
	}

	var metrics relay.MetricsRecorder
	if cfg.Observability.EnableMetrics {
		client, err := deps.cloudWatch(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating cloudwatch client: %w", err)
		}
		cw := core.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger)
		srv.Metrics = cw
		metrics = cw
	}

	svc := relay.NewService(
		relay.Config{
			SigningSecret:   cfg.Webhook.SigningSecret,
			StrictSignature: cfg.Webhook.StrictSignature,
			DedupTTL:        cfg.Dedup.TTL,
			MirrorTimeout:   cfg.Billing.MirrorTimeout,
		},
		relay.Deps{
			Verifier:  external.NewStripeVerifier(cfg.Webhook.Tolerance),
			Extractor: relay.NewExtractor(cfg.Fulfillment.ProductIDType),
			Builder: relay.NewBuilder(relay.BuilderConfig{
				Event:                   cfg.Fulfillment.Event,
				Version:                 cfg.Fulfillment.Version,
				PlaceholderProductName:  cfg.Fulfillment.PlaceholderProductName,
				PlaceholderCustomerName: cfg.Fulfillment.PlaceholderCustomerName,
			}),
			Fulfiller: newFulfiller(cfg, logger),
			Store:     storeOrNil(a.store),
			Customers: newCustomerDirectory(cfg, logger),
			Metrics:   metrics,
			Logger:    logger,
		},
	)

	webhookHandler := handlers.NewWebhookHandler(svc, cfg.Server.MaxBodyBytes, logger)
	srv.WebhookRoutes = append(srv.WebhookRoutes, webhookHandler.RegisterRoutes)

	if a.store != nil {
		adminHandler := handlers.NewAdminHandler(a.store, logger)
		srv.AdminRoutes = append(srv.AdminRoutes, adminHandler.RegisterRoutes)
	}

	srv.MountRoutes()
	return a, nil
}

// storeOrNil avoids handing the relay a typed nil interface.
func storeOrNil(s eventStore) relay.EventStore {
	if s == nil {
		return nil
	}
	return s
}

func newFulfiller(cfg *config.Config, logger *slog.Logger) external.FulfillmentClient {
	if cfg.Fulfillment.Stub {
		logger.Warn("fulfillment stub enabled; payloads are logged, not sent")
		return external.NewStubFulfillmentClient(logger)
	}
	if !cfg.Fulfillment.Configured() {
		logger.Warn("FULFILLMENT_URL or FULFILLMENT_TOKEN missing; valid webhooks will fail with a configuration error")
	}
	return external.NewHotmartClient(external.HotmartClientConfig{
		URL:        cfg.Fulfillment.URL,
		Token:      cfg.Fulfillment.Token,
		Timeout:    cfg.Fulfillment.Timeout,
		MaxRetries: cfg.Fulfillment.MaxRetries,
		Logger:     logger,
	})
}

func newCustomerDirectory(cfg *config.Config, logger *slog.Logger) external.CustomerDirectory {
	if !cfg.Billing.StripeSecretKey.IsSet() {
		return nil
	}
	return external.NewStripeClient(&http.Client{Timeout: 10 * time.Second}, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey,
		BaseURL:   cfg.Billing.StripeBaseURL,
		Logger:    logger,
	})
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (eventStore, func(), error) {
	dsn := cfg.Database.URL.Unmask()
	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(dsn, db.MigrateUp, logger); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:               dsn,
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		AcquireTimeout:    cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db.NewProcessedEventRepo(pool, logger), pool.Close, nil
}

func newCloudWatchClient(ctx context.Context, cfg *config.Config) (core.CloudWatchClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	}), nil
}

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer serves until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
func runHTTPServer(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if a.store != nil {
		g.Go(func() error {
			purgeLoop(gctx, a.store, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return a.server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// purgeLoop periodically deletes expired claims until ctx ends.
func purgeLoop(ctx context.Context, store handlers.EventAdmin, logger *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				logger.Error("purging expired event claims failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired event claims", "count", n)
			}
		}
	}
}

// newLogger creates a JSON slog.Logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
