// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Stripe settings
	StripeSecretKey  string // sk_test_... / sk_live_...
	CheckoutBaseURL  string // Base URL the user returns to after paying
	Currency         string // ISO currency code for checkout sessions
	CheckoutLifetime time.Duration

	// Agent processing
	AgentTimeout    time.Duration // Bound on a single external agent call
	N8NWebhookBase  string        // Base URL for webhook-backed agents
	OpenWeatherKey  string        // API key for the weather agent
	BreakerFailures int           // Consecutive failures before a per-agent circuit opens
	BreakerCooldown time.Duration

	// Reconciliation
	ReconcileInterval time.Duration // Background sweep cadence

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPS int

	// Observability
	OTLPEndpoint string // OTEL_EXPORTER_OTLP_ENDPOINT, empty disables tracing
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultCurrency         = "aed"
	DefaultCheckoutBaseURL  = "http://localhost:8080"
	DefaultCheckoutLifetime = 30 * time.Minute
	DefaultAgentTimeout     = 60 * time.Second
	DefaultBreakerFailures  = 5
	DefaultBreakerCooldown  = 30 * time.Second
	DefaultRateLimit        = 100
	DefaultReconcileEvery   = 5 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:   os.Getenv("STRIPE_SECRET_KEY"),
		CheckoutBaseURL:   getEnv("CHECKOUT_BASE_URL", DefaultCheckoutBaseURL),
		Currency:          getEnv("CURRENCY", DefaultCurrency),
		CheckoutLifetime:  getEnvDuration("CHECKOUT_LIFETIME", DefaultCheckoutLifetime),
		AgentTimeout:      getEnvDuration("AGENT_TIMEOUT", DefaultAgentTimeout),
		N8NWebhookBase:    os.Getenv("N8N_WEBHOOK_BASE"),
		OpenWeatherKey:    os.Getenv("OPENWEATHER_API_KEY"),
		BreakerFailures:   int(getEnvInt64("BREAKER_FAILURES", DefaultBreakerFailures)),
		BreakerCooldown:   getEnvDuration("BREAKER_COOLDOWN", DefaultBreakerCooldown),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileEvery),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if !strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		return fmt.Errorf("STRIPE_SECRET_KEY must start with sk_ or rk_")
	}
	if c.IsProduction() && strings.HasPrefix(c.StripeSecretKey, "sk_test_") {
		return fmt.Errorf("STRIPE_SECRET_KEY is a test key but ENV is production")
	}
	if c.CheckoutLifetime < time.Minute {
		return fmt.Errorf("CHECKOUT_LIFETIME must be at least 1 minute")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
