package market

import (
	"fmt"
	"strings"
)

// knownQuotes is ordered so that longer suffixes win (FDUSD before USD-like tails).
var knownQuotes = []string{"FDUSD", "USDT", "USDC", "BTC", "ETH", "BNB"}

// SplitSymbol splits a symbol like BTCUSDT into (BTC, USDT).
func SplitSymbol(symbol string) (string, string, error) {
	s := normalizeKey(symbol)
	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)], quote, nil
		}
	}
	return "", "", fmt.Errorf("unknown quote asset in symbol %q", symbol)
}

// Assets resolves base and quote assets, preferring the exchange-provided
// values on the filter.
func (f Filter) Assets(symbol string) (string, string, error) {
	if f.BaseAsset != "" && f.QuoteAsset != "" {
		return normalizeKey(f.BaseAsset), normalizeKey(f.QuoteAsset), nil
	}
	return SplitSymbol(symbol)
}
