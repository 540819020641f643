// Package config defines the global configuration structure for the HomeGrid
// platform. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import (
	"time"

	"homegrid/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the HomeGrid platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require
// (Least Privilege principle).
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"homegrid-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Auth     AuthConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for redirects (no trailing slash)
	APIExternalURL string        `envconfig:"API_EXTERNAL_URL" validate:"required,url"` // e.g., https://api.homegrid.io
	DashboardURL   string        `envconfig:"DASHBOARD_URL" validate:"required,url"`    // e.g., https://app.homegrid.io
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
	MigrateOnStart    bool          `envconfig:"DB_MIGRATE_ON_START" default:"true"`
}

// BillingConfig holds Stripe payment integration credentials and the plan
// price identifiers. Price IDs differ between environments (test vs live mode)
// and are therefore configuration, not code.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	PriceBasic        string `envconfig:"STRIPE_PRICE_BASIC" validate:"required"`
	PriceProfessional string `envconfig:"STRIPE_PRICE_PROFESSIONAL" validate:"required"`
	PriceEnterprise   string `envconfig:"STRIPE_PRICE_ENTERPRISE" validate:"required"`
}

// AuthConfig holds the settings for the thin authentication shim. Real
// identity management is owned by an external subsystem; the API only needs
// enough to resolve a bearer token into an Actor.
type AuthConfig struct {
	// StaticToken maps a single bearer token to a user/agency pair for local
	// development and integration tests. Empty outside local environments.
	StaticToken    SecretString `envconfig:"AUTH_STATIC_TOKEN"`
	StaticUserID   string       `envconfig:"AUTH_STATIC_USER_ID"`
	StaticAgencyID string       `envconfig:"AUTH_STATIC_AGENCY_ID"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}
