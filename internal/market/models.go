package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the store holds no entry for the requested key.
	ErrNotFound = errors.New("market: entry not found")
	// ErrInvalidEntry indicates a replacement carried an entry violating store invariants.
	ErrInvalidEntry = errors.New("market: invalid entry")
)

// Filter 描述交易所对单个交易对的下单约束。
type Filter struct {
	BaseAsset         string          `json:"baseAsset,omitempty"`
	QuoteAsset        string          `json:"quoteAsset,omitempty"`
	MinQty            decimal.Decimal `json:"minQty"`
	StepSize          decimal.Decimal `json:"stepSize"`
	MinNotional       decimal.Decimal `json:"minNotional"`
	QuantityPrecision int32           `json:"quantityPrecision"`
}

// Validate checks stepSize > 0, minQty >= 0 and minNotional >= 0.
func (f Filter) Validate() error {
	if !f.StepSize.IsPositive() {
		return fmt.Errorf("%w: stepSize must be positive, got %s", ErrInvalidEntry, f.StepSize)
	}
	if f.MinQty.IsNegative() {
		return fmt.Errorf("%w: minQty cannot be negative, got %s", ErrInvalidEntry, f.MinQty)
	}
	if f.MinNotional.IsNegative() {
		return fmt.Errorf("%w: minNotional cannot be negative, got %s", ErrInvalidEntry, f.MinNotional)
	}
	return nil
}

// Precision returns QuantityPrecision, deriving it from the step size when unset.
func (f Filter) Precision() int32 {
	if f.QuantityPrecision > 0 {
		return f.QuantityPrecision
	}
	return StepPrecision(f.StepSize)
}

// StepPrecision reports the number of decimal places a step size allows,
// e.g. 0.00010000 -> 4 and 1.0 -> 0.
func StepPrecision(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}
	// String() 会去掉尾随零。
	text := step.String()
	idx := strings.IndexByte(text, '.')
	if idx < 0 {
		return 0
	}
	return int32(len(text) - idx - 1)
}

// PriceSnapshot is the cached mid price of a symbol.
type PriceSnapshot struct {
	Mid        decimal.Decimal `json:"mid"`
	ObservedAt time.Time       `json:"observedAt"`
}

// BalanceSnapshot is the cached free balance of an asset.
type BalanceSnapshot struct {
	Free       decimal.Decimal `json:"free"`
	ObservedAt time.Time       `json:"observedAt"`
}

func validatePrice(symbol string, mid decimal.Decimal) error {
	if !mid.IsPositive() {
		return fmt.Errorf("%w: price for %s must be positive, got %s", ErrInvalidEntry, symbol, mid)
	}
	return nil
}

func validateBalance(asset string, free decimal.Decimal) error {
	if free.IsNegative() {
		return fmt.Errorf("%w: balance for %s cannot be negative, got %s", ErrInvalidEntry, asset, free)
	}
	return nil
}
