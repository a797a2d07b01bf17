package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the coach pipeline service.
// Environment variables are automatically parsed from the COACH_ prefix.
type Config struct {
	// Build target selects high-level environment: local, cloud
	BuildTarget string `envconfig:"BUILD_TARGET" default:"local"`

	// Derived or override driver
	DBDriver string `envconfig:"DB_DRIVER" default:"auto"`

	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Minimum log level: trace, debug, info, warn, error
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Postgres Configuration
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// SQLite Configuration (local target)
	SQLitePath string `envconfig:"SQLITE_PATH" default:"coach.db"`

	// Text-completion service
	CompletionBaseURL string        `envconfig:"COMPLETION_BASE_URL" default:"http://localhost:11434"`
	CompletionAPIKey  string        `envconfig:"COMPLETION_API_KEY" default:""`
	CompletionModel   string        `envconfig:"COMPLETION_MODEL" default:"gpt-4o-mini"`
	CompletionTimeout time.Duration `envconfig:"COMPLETION_TIMEOUT" default:"15s"`

	// External nutrition resolver; empty means resolve locally
	NutritionResolverURL string `envconfig:"NUTRITION_RESOLVER_URL" default:""`

	// Clarification state lifecycle
	ClarificationWindow time.Duration `envconfig:"CLARIFICATION_WINDOW" default:"300s"`
	ClarificationSweep  time.Duration `envconfig:"CLARIFICATION_SWEEP" default:"60s"`

	// Ephemeral memory TTL sweep cadence
	MemorySweep time.Duration `envconfig:"MEMORY_SWEEP" default:"5m"`
}

// ResolveDefaults validates BuildTarget and derives DBDriver when set to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	var defaultDB string

	switch c.BuildTarget {
	case "local":
		defaultDB = "sqlite"
	case "cloud":
		defaultDB = "postgres"
	default:
		return fmt.Errorf("unsupported BUILD_TARGET: %s", c.BuildTarget)
	}

	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = defaultDB
	}

	allowedDB := map[string]bool{"postgres": true, "sqlite": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("COACH_POSTGRES_DSN is required for BUILD_TARGET=%s", c.BuildTarget)
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Environment variables should be prefixed with COACH_
// Example: COACH_HTTP_PORT, COACH_COMPLETION_BASE_URL
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("COACH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("completion_base_url", cfg.CompletionBaseURL).
		Str("completion_model", cfg.CompletionModel).
		Dur("completion_timeout", cfg.CompletionTimeout).
		Bool("nutrition_resolver_configured", cfg.NutritionResolverURL != "").
		Dur("clarification_window", cfg.ClarificationWindow).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	return &Config{
		BuildTarget:         "local",
		DBDriver:            "sqlite",
		Environment:         EnvTesting,
		HTTPPort:            8080,
		SQLitePath:          ":memory:",
		CompletionBaseURL:   "http://localhost:11434",
		CompletionModel:     "gpt-4o-mini",
		CompletionTimeout:   15 * time.Second,
		ClarificationWindow: 300 * time.Second,
		ClarificationSweep:  60 * time.Second,
		MemorySweep:         5 * time.Minute,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
