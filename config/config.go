// Package config defines the environment-driven configuration of the
// geolens service.
package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and cache configuration
//   - http.go: HTTP server configuration
//   - providers.go: AI provider credentials and endpoints
//   - runner.go: Execution matrix and dead letter configuration
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, text
	// log format). Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// AI provider configuration
	Providers ProvidersConfig

	// Execution matrix runner configuration
	Runner RunnerConfig

	// Dead letter queue configuration
	DeadLetter DeadLetterConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Runner.Sanitize()
	c.DeadLetter.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in deployment tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
