package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// Claim/dispatch tuning.
	ClaimBatchSize    int `env:"CLAIM_BATCH_SIZE" envDefault:"50" validate:"min=1,max=1000"`
	ClaimHorizonSec   int `env:"CLAIM_HORIZON_SEC" envDefault:"5" validate:"min=1,max=60"`
	PollIntervalSec   int `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	SweepIntervalSec  int `env:"SWEEP_INTERVAL_SEC" envDefault:"30" validate:"min=1,max=300"`
	SweepStaleAfterSec int `env:"SWEEP_STALE_AFTER_SEC" envDefault:"90" validate:"min=1,max=3600"`

	// DispatchQuotaLimit/Window bound how many endpoint dispatches per tenant
	// per window the scheduler will execute before skipping the rest until
	// the window resets — independent of the planner's own quota.
	DispatchQuotaLimit     int `env:"DISPATCH_QUOTA_LIMIT" envDefault:"3600" validate:"min=1"`
	DispatchQuotaWindowSec int `env:"DISPATCH_QUOTA_WINDOW_SEC" envDefault:"3600" validate:"min=60"`

	// Planner tuning.
	PlannerBatchSize            int    `env:"PLANNER_BATCH_SIZE" envDefault:"10" validate:"min=1,max=1000"`
	PlannerPollIntervalSec      int    `env:"PLANNER_POLL_INTERVAL_SEC" envDefault:"60" validate:"min=1,max=3600"`
	PlannerDefaultIntervalSec   int    `env:"PLANNER_DEFAULT_INTERVAL_SEC" envDefault:"3600" validate:"min=60"`
	PlannerQuotaLimit           int    `env:"PLANNER_QUOTA_LIMIT" envDefault:"12" validate:"min=1"`
	PlannerQuotaWindowSec       int    `env:"PLANNER_QUOTA_WINDOW_SEC" envDefault:"3600" validate:"min=60"`
	AnthropicAPIKey             string `env:"ANTHROPIC_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	AnthropicModel              string `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-sonnet-latest" validate:"required"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// ClerkJWKSURL is the JWKS endpoint for RS256 token verification (Clerk).
	// When set, it takes precedence over JWTSecret.
	ClerkJWKSURL string `env:"CLERK_JWKS_URL"`

	// JWTSecret is kept for local dev / migration period.
	JWTSecret string `env:"JWT_SECRET"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
