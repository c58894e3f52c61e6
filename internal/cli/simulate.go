package cli

import (
	"github.com/spf13/cobra"

	"alert-trader/internal/app"
)

var (
	simulatePayload  string
	simulateFile     string
	simulateBalances map[string]string
	simulateNotify   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "用纸面交易所模拟一次告警下单",
	Example: `  alerttrader simulate --payload '{"action":"buy","symbol":"BTCUSDT","buy_quote_amount":25}'
  alerttrader simulate --file alert.json --balance USDT=1000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			PayloadPath: simulateFile,
			Payload:     simulatePayload,
			Balances:    simulateBalances,
			Notify:      simulateNotify,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePayload, "payload", "", "告警 JSON 原文")
	simulateCmd.Flags().StringVarP(&simulateFile, "file", "f", "", "告警 JSON 文件，- 表示标准输入")
	simulateCmd.Flags().StringToStringVar(&simulateBalances, "balance", nil, "覆盖余额，如 USDT=1000,BTC=0.1")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "发送告警通知")
}
