package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/exchange/market"
	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/output"
)

var marketsNoLedger bool

var marketsCmd = &cobra.Command{
	Use:   "markets <exchange>",
	Short: "Fetch market metadata and print derived precision",
	Long: `Fetch exchange market metadata through the resilient call path and print
price/amount precision, minimum amount and minimum notional per symbol.
Symbols whose filters cannot be derived are listed with the reason they
were skipped.

Unmapped vendor errors seen during the fetch are recorded in the local
ledger unless --no-ledger is set.`,
	Args: cobra.ExactArgs(1),
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

		opts := fleetOptions{Logger: logger, Only: args}
		if !marketsNoLedger {
			db, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				logger.Warn("Unmapped error ledger unavailable", zap.Error(err))
			} else {
				defer db.Close() // nolint:errcheck // best-effort cleanup
				opts.Recorder = db
			}
		}

		f, err := buildFleet(cfg, opts)
		if err != nil {
			return err
		}
		name := args[0]
		result, err := fetchMarkets(cmd, f, name)
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, fmt.Sprintf("%s.markets", normalizeName(name)), format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatMarkets(name, result)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func fetchMarkets(cmd *cobra.Command, f *fleet, name string) (market.Result, error) {
	if _, err := f.client(name); err != nil {
		return market.Result{}, err
	}
	source, ok := f.markets[normalizeName(name)]
	if !ok {
		return market.Result{}, fmt.Errorf("exchange %q does not list markets", name)
	}
	return source.Markets(cmd.Context())
}

func init() {
	rootCmd.AddCommand(marketsCmd)
	addOutputFlags(marketsCmd)
	marketsCmd.Flags().BoolVar(&marketsNoLedger, "no-ledger", false, "Do not record unmapped vendor errors")
}
