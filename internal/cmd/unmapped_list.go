package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/exchangelink/exchangelink/internal/output"
	"github.com/exchangelink/exchangelink/internal/store"
)

var (
	unmappedListAll    bool
	unmappedListVendor string
	unmappedListPrefix string
)

var unmappedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded unmapped vendor errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		query := store.UnmappedQuery{
			All:    unmappedListAll,
			Vendor: strings.TrimSpace(unmappedListVendor),
			Prefix: strings.TrimSpace(unmappedListPrefix),
		}
		if query.Vendor == "" && query.Prefix == "" {
			query.All = true
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

		entries, err := db.ListUnmapped(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, "unmapped.list", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatUnmapped(entries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	addOutputFlags(unmappedListCmd)
	unmappedListCmd.Flags().BoolVar(&unmappedListAll, "all", false, "List every vendor")
	unmappedListCmd.Flags().StringVar(&unmappedListVendor, "vendor", "", "List one vendor")
	unmappedListCmd.Flags().StringVar(&unmappedListPrefix, "prefix", "", "List codes with matching prefix")
}
