package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the item catalog",
}

var catalogSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh item names from the configured page",
	RunE: func(cmd *cobra.Command, args []string) error {
		added, err := getApp().CatalogSync(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %d items\n", added)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogSyncCmd)
}
