package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/exchangelink/exchangelink/internal/output"
	"github.com/exchangelink/exchangelink/internal/store"
)

var (
	unmappedResetAll    bool
	unmappedResetVendor string
	unmappedResetCode   string
	unmappedResetPrefix string
	unmappedResetYes    bool
	unmappedResetDryRun bool
)

var unmappedResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete recorded unmapped vendor errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := store.UnmappedQuery{
			All:    unmappedResetAll,
			Vendor: strings.TrimSpace(unmappedResetVendor),
			Code:   strings.TrimSpace(unmappedResetCode),
			Prefix: strings.TrimSpace(unmappedResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !unmappedResetYes && !unmappedResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountUnmapped(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, "unmapped.reset", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if unmappedResetDryRun {
			return writeUnmappedResetResult(format, sink.writer, matched, 0, true)
		}
		deleted, err := db.ResetUnmapped(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeUnmappedResetResult(format, sink.writer, matched, deleted, false)
	},
}

func writeUnmappedResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d unmapped error entr(ies)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d unmapped error entr(ies)\n", deleted, matched)
	return err
}

func init() {
	unmappedResetCmd.Flags().BoolVar(&unmappedResetAll, "all", false, "Reset every vendor")
	unmappedResetCmd.Flags().StringVar(&unmappedResetVendor, "vendor", "", "Reset one vendor")
	unmappedResetCmd.Flags().StringVar(&unmappedResetCode, "code", "", "Reset one code (requires --vendor)")
	unmappedResetCmd.Flags().StringVar(&unmappedResetPrefix, "prefix", "", "Reset codes with matching prefix")
	unmappedResetCmd.Flags().BoolVar(&unmappedResetYes, "yes", false, "Confirm destructive reset")
	unmappedResetCmd.Flags().BoolVar(&unmappedResetDryRun, "dry-run", false, "Show what would be deleted")
	unmappedResetCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")
	unmappedResetCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	unmappedResetCmd.Flags().String("out-dir", "", "Write output to a directory")
}
