// Package exchange adapts the centralized exchange to the capability the
// trading core consumes: price, balance and filter snapshots plus market
// order placement.
package exchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"alert-trader/internal/market"
	"alert-trader/internal/sizing"
)

// Capability is everything the core needs from an exchange.
type Capability interface {
	// Prices returns mid prices for symbols.
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	// Balances returns free balances keyed by asset.
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	// Filters returns trading filters for symbols.
	Filters(ctx context.Context, symbols []string) (map[string]market.Filter, error)
	// PlaceOrder submits a market order. A rejection by the exchange is an
	// OrderResult with StatusRejected, not an error.
	PlaceOrder(ctx context.Context, spec sizing.OrderSpec) (OrderResult, error)
}

// OrderStatus is the placement outcome.
type OrderStatus string

const (
	StatusFilled   OrderStatus = "filled"
	StatusRejected OrderStatus = "rejected"
)

// OrderResult is what the exchange reported for one order.
type OrderResult struct {
	Status        OrderStatus     `json:"status"`
	FillPrice     decimal.Decimal `json:"fillPrice"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	OrderID       int64           `json:"orderId,omitempty"`
	ClientOrderID string          `json:"clientOrderId,omitempty"`
	Message       string          `json:"message"`
}

// APIError is a non-2xx answer of the exchange REST API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance api error (%d/%d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("binance api error (%d): %s", e.Status, e.Message)
}

// RateLimited reports request-weight and IP ban responses.
func (e *APIError) RateLimited() bool {
	if e.Status == 418 || e.Status == 429 || e.Code == -1003 {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "too much request weight") || strings.Contains(msg, "banned")
}

// FilterRejected reports LOT_SIZE / NOTIONAL rejections.
func (e *APIError) FilterRejected() bool {
	return e.Code == -1013 || strings.Contains(strings.ToLower(e.Message), "notional")
}

// ServerSide reports 5xx responses.
func (e *APIError) ServerSide() bool {
	return e.Status >= 500
}

var stablecoins = map[string]struct{}{
	"USDT": {}, "USDC": {}, "FDUSD": {}, "BUSD": {}, "TUSD": {}, "DAI": {},
}

// IsStablePair reports pairs like USDCUSDT that are priced at 1.
func IsStablePair(symbol string) bool {
	base, quote, err := market.SplitSymbol(symbol)
	if err != nil {
		return false
	}
	_, b := stablecoins[base]
	_, q := stablecoins[quote]
	return b && q
}
