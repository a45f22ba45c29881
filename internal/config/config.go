package config

import (
	"strings"
	"time"
)

// Config represents the complete application configuration.
// Layer 1: defaults set on the viper instance (SetDefaults)
// Layer 2: user config file (~/.config/exchangelink/config.yaml or --config)
// Layer 3: EXCHANGELINK_* environment variables
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`

	// Exchanges holds per-vendor overrides merged on top of the embedded
	// vendor profiles, keyed by exchange name.
	Exchanges map[string]map[string]any `mapstructure:"exchanges"`

	// EnabledExchanges limits which vendors are built. Empty means all.
	EnabledExchanges []string `mapstructure:"enabled_exchanges"`

	// RateLimitMargin shrinks every budget capacity to stay under vendor
	// limits. 0 disables the margin.
	RateLimitMargin float64 `mapstructure:"rate_limit_margin"`
}

// ServerConfig contains admin HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level (simple, structured)
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ExchangeEnabled reports whether name should be built.
func (c *Config) ExchangeEnabled(name string) bool {
	if c == nil || len(c.EnabledExchanges) == 0 {
		return true
	}
	for _, enabled := range c.EnabledExchanges {
		if strings.EqualFold(strings.TrimSpace(enabled), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// ExchangeOverrides returns the override map for one exchange. The global
// margin is injected unless the exchange sets its own.
func (c *Config) ExchangeOverrides(name string) map[string]any {
	out := map[string]any{}
	if c == nil {
		return out
	}
	for k, v := range c.Exchanges[name] {
		out[k] = v
	}
	if _, ok := out["rate_limit_margin"]; !ok && c.RateLimitMargin > 0 {
		out["rate_limit_margin"] = c.RateLimitMargin
	}
	return out
}
