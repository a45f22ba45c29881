// Package config loads exchangelink configuration with viper and decodes it
// into typed structs with mapstructure.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is the binary and XDG directory name.
	AppName = "exchangelink"

	// EnvPrefix prefixes every environment override (EXCHANGELINK_SERVER_PORT).
	EnvPrefix = "EXCHANGELINK"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)

	v.SetDefault("exchanges", map[string]any{})
	v.SetDefault("enabled_exchanges", []string{})
	v.SetDefault("rate_limit_margin", 0.0)
}

// Load decodes the settings held by v and stores the result as the current
// application config.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, fmt.Errorf("viper instance is nil")
	}

	cfg := &Config{}
	if err := decode(v.AllSettings(), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetConfig returns the last loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks ranges that mapstructure cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.RateLimitMargin < 0 || c.RateLimitMargin > 1 {
		return fmt.Errorf("rate_limit_margin must be within [0, 1], got %v", c.RateLimitMargin)
	}
	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if driver != "" && driver != "libsql" {
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	for name := range c.Exchanges {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("exchange override with empty name")
		}
	}
	return nil
}

func decode(input map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
