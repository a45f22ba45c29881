package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Verify the application can start: configuration decodes, the unmapped
error ledger opens and every enabled exchange client builds from its profile.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", nil)
			return
		}

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration valid")

		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			ExitWithCode(logger, foundry.ExitFileNotFound, "Unmapped error ledger unavailable", err)
			return
		}
		_ = db.Close()
		logger.Info("✅ Unmapped error ledger ready", zap.String("driver", cfg.Store.Driver))

		f, err := buildFleet(cfg, fleetOptions{Logger: logger})
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Exchange configuration invalid", err)
			return
		}
		logger.Info("✅ Exchange clients built", zap.Strings("exchanges", f.registry.Names()))

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
