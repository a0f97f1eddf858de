package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-scanner/internal/app"
)

var (
	scanCategories []string
	scanPid        int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Crawl the market once now",
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := getApp().Scan(cmd.Context(), app.ScanOptions{
			Categories: scanCategories,
			Pid:        scanPid,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "items: %d\ndrifts: %d\naborted: %t\n", sum.Items(), sum.Drifts(), sum.Aborted)
		return err
	},
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanCategories, "category", nil, "Category to crawl (repeatable, defaults to config)")
	scanCmd.Flags().IntVar(&scanPid, "pid", 0, "Client process id (defaults to config)")
}
