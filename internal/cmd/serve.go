package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/exchangelink/exchangelink/internal/config"
	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/metrics"
	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/server"
	"github.com/exchangelink/exchangelink/internal/server/handlers"
	"github.com/exchangelink/exchangelink/internal/store"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP server",
	Long: `Start the admin HTTP server with every enabled exchange client.

The server exposes health probes, version, Prometheus metrics and per-exchange
rate limit and clock administration under /v1/exchanges.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the config file (clients keep their budgets; restart to apply limit changes)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return fmt.Errorf("metrics initialization failed: %w", err)
			}
		}

		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return fmt.Errorf("open unmapped error ledger: %w", err)
		}

		f, err := buildFleet(cfg, fleetOptions{Logger: logger, Recorder: db})
		if err != nil {
			_ = db.Close()
			return err
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.Strings("exchanges", f.registry.Names()))

		hm := handlers.NewHealthManager(versionInfo.Version)
		registerHealthChecks(hm, cfg, db, f.registry)

		srv := server.New(cfg.Server, f.registry, hm)
		metrics.SetServerStartTime(time.Now())

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// LIFO: the HTTP server stops first, the ledger closes, the logger flushes last.
		signals.OnShutdown(func(ctx context.Context) error {
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			return db.Close()
		})
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			return reloadConfig(ctx)
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			// ErrServerClosed still ends the group so the signal listener stops.
			return srv.Start()
		})
		g.Go(func() error {
			return signals.Listen(ctx)
		})
		err = g.Wait()
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			logger.Error("Server error", zap.Error(err))
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

// registerHealthChecks wires readiness checks for the ledger, telemetry and
// every exchange client.
func registerHealthChecks(hm *handlers.HealthManager, cfg *config.Config, db *store.Store, registry *exchange.Registry) {
	hm.RegisterChecker("store", handlers.HealthCheckFunc(db.Ping))
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", handlers.HealthCheckFunc(func(ctx context.Context) error {
			if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
				return errors.New("telemetry system not initialized")
			}
			return nil
		}))
	}
	hm.RegisterChecker("exchanges", handlers.HealthCheckFunc(func(ctx context.Context) error {
		if len(registry.Names()) == 0 {
			return errors.New("no exchange clients enabled")
		}
		return nil
	}))
}

func reloadConfig(ctx context.Context) error {
	logger := observability.ServerLogger
	logger.Info("Received SIGHUP: attempting config reload")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Info("No config file found - using defaults and environment variables")
			return nil
		}
		logger.Error("Failed to reload config file",
			zap.String("file", viper.ConfigFileUsed()),
			zap.Error(err))
		return fmt.Errorf("config reload failed: %w", err)
	}
	if _, err := config.Load(viper.GetViper()); err != nil {
		logger.Error("Reloaded config is invalid", zap.Error(err))
		return err
	}

	logger.Info("Configuration reloaded successfully",
		zap.String("file", viper.ConfigFileUsed()))
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
