package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port string `envconfig:"PORT" default:"8080"`

	// Database
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	// Cache
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// Upstream forwarding; long to accommodate slow generation
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"300s"`

	// Credential encryption at rest (32 bytes, AES-256)
	CredentialKey string `envconfig:"CREDENTIAL_ENCRYPTION_KEY"`

	// Notifications
	AlertWebhookURL string `envconfig:"ALERT_WEBHOOK_URL"`

	// Observability
	LogLevel             string `envconfig:"LOG_LEVEL" default:"info"`
	Environment          string `envconfig:"ENVIRONMENT" default:"development"`
	OTELExporterType     string `envconfig:"OTEL_EXPORTER_TYPE" default:"stdout"`
	OTELExporterEndpoint string `envconfig:"OTEL_EXPORTER_ENDPOINT" default:"localhost:4317"`

	// Rate Limiting
	DefaultRateLimitTPM int64 `envconfig:"DEFAULT_RATE_LIMIT_TPM" default:"100000"`

	// Caching TTLs
	AuthCacheTTL    time.Duration `envconfig:"AUTH_CACHE_TTL" default:"5m"`
	PricingCacheTTL time.Duration `envconfig:"PRICING_CACHE_TTL" default:"5m"`
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.CredentialKey != "" && len(cfg.CredentialKey) != 32 {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be exactly 32 bytes")
	}

	return &cfg, nil
}
