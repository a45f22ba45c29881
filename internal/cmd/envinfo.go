package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/config"
	"github.com/exchangelink/exchangelink/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration and per-exchange settings. Credentials are reported as set or not set, never printed.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== exchangelink Environment Information ===")
		log.Info("")
		log.Info("Application:")
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info("")

		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		configFile := viper.ConfigFileUsed()
		if configFile == "" {
			configFile = config.DefaultConfigPath() + " (not found)"
		}
		log.Info("Configuration:")
		log.Info("  Config File:    " + configFile)
		log.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      " + cfg.Logging.Level)
		log.Info("  Store Driver:   " + cfg.Store.Driver)
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  Store URL:      " + cfg.Store.URL)
		} else {
			log.Info("  Store Path:     " + cfg.Store.Path)
		}
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info(fmt.Sprintf("  Rate Margin:    %.2f", cfg.RateLimitMargin))
		log.Info("")

		f, err := buildFleet(cfg, fleetOptions{})
		if err != nil {
			log.Warn("Exchange configuration invalid", zap.Error(err))
			return
		}
		log.Info("Exchanges:")
		for _, name := range f.registry.Names() {
			client, _ := f.client(name)
			s := client.Settings()
			log.Info(fmt.Sprintf("  %s.base_url:   %s", name, s.BaseURL))
			log.Info(fmt.Sprintf("  %s.resources:  %s", name, strings.Join(s.ResourceNames(), ", ")))
			log.Info(fmt.Sprintf("  %s.clock_ttl:  %s", name, s.ClockTTL))
			log.Info(fmt.Sprintf("  %s.retry:      %s", name, onOff(s.RetryEnabled)))
			log.Info(fmt.Sprintf("  %s.limiter:    %s", name, onOff(s.RateLimiterEnabled)))
			log.Info(fmt.Sprintf("  %s.api_key:    %s", name, setOrNot(s.APIKey)))
			log.Info(fmt.Sprintf("  %s.secret_key: %s", name, setOrNot(s.SecretKey)))
		}
		log.Info("")
		log.Info("=== End Environment Information ===")
	},
}

func setOrNot(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(not set)"
	}
	return "(set)"
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
