// Package config defines the configuration of the payment relay.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"payrelay/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types just to read a secret.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the relay.
// Sub-components receive only the config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"payrelay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Webhook       WebhookConfig
	Fulfillment   FulfillmentConfig
	Dedup         DedupConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" default:"1048576" validate:"gt=0"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// WebhookConfig controls inbound signature verification.
type WebhookConfig struct {
	SigningSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	// StrictSignature rejects requests without a signature header. Disabling it
	// is refused in prod.
	StrictSignature bool          `envconfig:"WEBHOOK_STRICT_SIGNATURE" default:"true"`
	Tolerance       time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m" validate:"gt=0"`
}

// FulfillmentConfig describes the upstream membership API and the payload
// conventions it expects.
type FulfillmentConfig struct {
	URL        string        `envconfig:"FULFILLMENT_URL" validate:"omitempty,url"`
	Token      SecretString  `envconfig:"FULFILLMENT_TOKEN"`
	Timeout    time.Duration `envconfig:"FULFILLMENT_TIMEOUT" default:"10s" validate:"gt=0"`
	MaxRetries int           `envconfig:"FULFILLMENT_MAX_RETRIES" default:"0" validate:"gte=0,lte=5"`

	ProductIDType types.ProductIDType `envconfig:"FULFILLMENT_PRODUCT_ID_TYPE" default:"number" validate:"oneof=number string"`
	Event         string              `envconfig:"FULFILLMENT_EVENT" default:"PURCHASE_APPROVED" validate:"required"`
	Version       string              `envconfig:"FULFILLMENT_VERSION" default:"2.0.0" validate:"required"`

	PlaceholderProductName  string `envconfig:"FULFILLMENT_PLACEHOLDER_PRODUCT_NAME" default:"Produto"`
	PlaceholderCustomerName string `envconfig:"FULFILLMENT_PLACEHOLDER_CUSTOMER_NAME" default:"Cliente"`

	// Stub logs outbound payloads instead of sending them. Local only.
	Stub bool `envconfig:"FULFILLMENT_STUB" default:"false"`
}

// Configured reports whether both the upstream URL and token are present.
func (c FulfillmentConfig) Configured() bool {
	return c.URL != "" && c.Token.IsSet()
}

// DedupConfig controls provider event deduplication.
type DedupConfig struct {
	Enabled bool          `envconfig:"DEDUP_ENABLED" default:"true"`
	TTL     time.Duration `envconfig:"DEDUP_TTL" default:"72h" validate:"gt=0"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
// An empty URL selects the in-memory event store.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"5"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe API credentials used to mirror buyers as
// Stripe customers. An empty key disables the mirror.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeBaseURL   string       `envconfig:"STRIPE_API_BASE_URL" default:"https://api.stripe.com" validate:"url"`
	// MirrorTimeout bounds search plus create, retries included.
	MirrorTimeout time.Duration `envconfig:"STRIPE_MIRROR_TIMEOUT" default:"3s" validate:"gt=0,lte=10s"`
}

// SecurityConfig holds admin access configuration.
type SecurityConfig struct {
	// AdminAPIKeyHash is a bcrypt hash of the admin bearer key. Admin routes
	// are not mounted when it is empty.
	AdminAPIKeyHash SecretString `envconfig:"ADMIN_API_KEY_HASH"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"PayRelay"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
