package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"alert-trader/internal/app"
)

var (
	showLimit int
	showCache bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent orders and optionally the mirrored caches",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Cache: showCache,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of orders to display")
	showCmd.Flags().BoolVar(&showCache, "cache", false, "Also print prices, filters and balances cached in redis")
}
