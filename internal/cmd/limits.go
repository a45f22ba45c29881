package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/output"
)

var limitsCmd = &cobra.Command{
	Use:   "limits [exchange...]",
	Short: "Show configured rate limit budgets",
	Long: `Show the rate limit budgets each exchange client is built with, after
profile defaults, config overrides and the safety margin are applied.

Examples:
  exchangelink limits
  exchangelink limits binance --output-format=json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		f, err := buildFleet(cfg, fleetOptions{Logger: observability.CLILogger, Only: args})
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, "limits", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		formatter := output.NewFormatter(format)
		for _, name := range f.registry.Names() {
			client, err := f.client(name)
			if err != nil {
				return err
			}
			rendered, err := formatter.FormatLimits(name, client.Limits())
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	addOutputFlags(limitsCmd)
}
