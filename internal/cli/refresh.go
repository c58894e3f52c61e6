package cli

import (
	"github.com/spf13/cobra"

	"alert-trader/internal/app"
)

var refreshCmd = &cobra.Command{
	Use:       "refresh [balances|filters|prices]...",
	Short:     "Fetch market snapshots once and write them to the mirror",
	ValidArgs: []string{"balances", "filters", "prices"},
	Args:      cobra.OnlyValidArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Refresh(cmd.Context(), app.RefreshOptions{Stores: args})
	},
}
