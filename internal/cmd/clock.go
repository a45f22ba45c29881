package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/output"
)

var clockCmd = &cobra.Command{
	Use:   "clock [exchange...]",
	Short: "Probe exchange server time and print the clock delta",
	Long: `Probe each exchange's server time through the resilient call path and
print the measured offset (remote minus local) with its cache window.

A failed probe is reported per exchange; the command fails only when every
probe fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := observability.CLILogger
		f, err := buildFleet(cfg, fleetOptions{Logger: logger, Only: args})
		if err != nil {
			return err
		}

		var (
			states  []exchange.ClockState
			lastErr error
		)
		for _, name := range f.registry.Names() {
			client, err := f.client(name)
			if err != nil {
				return err
			}
			if _, err := client.CurrentDelta(cmd.Context()); err != nil {
				lastErr = err
				logger.Warn("Clock probe failed", zap.String("exchange", name), zap.Error(err))
			}
			states = append(states, client.ClockState())
		}
		if lastErr != nil && !anySampled(states) {
			return fmt.Errorf("clock probe failed: %w", lastErr)
		}

		sink, err := openCommandSink(cmd, "clock", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatClock(states)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func anySampled(states []exchange.ClockState) bool {
	for _, s := range states {
		if s.Sampled {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(clockCmd)
	addOutputFlags(clockCmd)
}
