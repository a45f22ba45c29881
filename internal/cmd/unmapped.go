package cmd

import "github.com/spf13/cobra"

var unmappedCmd = &cobra.Command{
	Use:   "unmapped",
	Short: "Manage the ledger of unmapped vendor error codes",
	Long: `Vendor error codes with no entry in an exchange's code table are
classified as unknown, logged, and recorded in the local ledger with their
raw payload so they can be mapped later.`,
}

func init() {
	unmappedCmd.AddCommand(unmappedListCmd)
	unmappedCmd.AddCommand(unmappedResetCmd)
	rootCmd.AddCommand(unmappedCmd)
}
