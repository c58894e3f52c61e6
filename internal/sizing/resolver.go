// Package sizing turns classified alert instructions into exchange-ready
// order quantities using cached market snapshots.
//
// Resolve never performs I/O and never mutates the stores it reads: the
// same instruction over the same snapshots always yields the same OrderSpec.
package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"alert-trader/internal/alert"
	"alert-trader/internal/market"
)

// PriceReader is the read side of market.PriceStore.
type PriceReader interface {
	Get(symbol string) (market.PriceSnapshot, error)
}

// BalanceReader is the read side of market.BalanceStore.
type BalanceReader interface {
	Get(asset string) (market.BalanceSnapshot, error)
	Exists() bool
}

// FilterReader is the read side of market.FilterStore.
type FilterReader interface {
	Get(symbol string) (market.Filter, error)
}

var (
	_ PriceReader   = (*market.PriceStore)(nil)
	_ BalanceReader = (*market.BalanceStore)(nil)
	_ FilterReader  = (*market.FilterStore)(nil)
)

// 中间除法保留的小数位，截断而非四舍五入。
const divScale = 18

// OrderSpec is a filter-compliant market order ready to be placed.
type OrderSpec struct {
	Symbol              string          `json:"symbol"`
	BaseAsset           string          `json:"baseAsset"`
	QuoteAsset          string          `json:"quoteAsset"`
	Side                alert.Side      `json:"side"`
	Mode                alert.Mode      `json:"mode"`
	Quantity            decimal.Decimal `json:"quantity"`
	Price               decimal.Decimal `json:"price"`
	EstimatedQuoteValue decimal.Decimal `json:"estimatedQuoteValue"`
	Precision           int32           `json:"precision"`
}

// QuantityString formats the quantity with the symbol's quantity precision,
// as the exchange expects it.
func (o OrderSpec) QuantityString() string {
	return o.Quantity.StringFixed(o.Precision)
}

// Resolve sizes instr against the given snapshots.
//
// Order of checks: filter, price, balance presence, raw quantity, step
// rounding (always down), minQty, minNotional, balance sufficiency.
func Resolve(instr alert.Instruction, prices PriceReader, balances BalanceReader, filters FilterReader) (OrderSpec, error) {
	symbol := instr.Symbol

	filter, err := filters.Get(symbol)
	if err != nil {
		return OrderSpec{}, missing(ReasonMissingFilterData, symbol, "", err, "no filter cached for "+symbol)
	}
	base, quote, err := filter.Assets(symbol)
	if err != nil {
		return OrderSpec{}, missing(ReasonMissingFilterData, symbol, "", err, err.Error())
	}

	snap, err := prices.Get(symbol)
	if err != nil {
		return OrderSpec{}, missing(ReasonMissingMarketData, symbol, "", err, "no price cached for "+symbol)
	}
	price := snap.Mid
	if !price.IsPositive() {
		return OrderSpec{}, &SizingError{Reason: ReasonMissingMarketData, Symbol: symbol, Message: "cached price is not positive"}
	}

	if err := checkSide(instr); err != nil {
		return OrderSpec{}, err
	}

	asset := quote
	if instr.Side == alert.SideSell {
		asset = base
	}
	free, haveBalance, err := lookupBalance(balances, asset, instr.Mode.IsPct())
	if err != nil {
		return OrderSpec{}, missing(ReasonMissingMarketData, symbol, asset, err, "no balance cached for "+asset)
	}

	var raw decimal.Decimal
	switch instr.Mode {
	case alert.ModeQuoteAmount, alert.ModeTargetQuoteAmount:
		if err := requestedNotional(symbol, instr.Value, filter.MinNotional); err != nil {
			return OrderSpec{}, err
		}
		raw = floorDiv(instr.Value, price)
	case alert.ModeQuotePct:
		spend := free.Mul(instr.Value)
		if err := requestedNotional(symbol, spend, filter.MinNotional); err != nil {
			return OrderSpec{}, err
		}
		raw = floorDiv(spend, price)
	case alert.ModeBaseAmount:
		raw = instr.Value
	case alert.ModeBasePct:
		raw = free.Mul(instr.Value)
	default:
		return OrderSpec{}, &SizingError{Reason: ReasonUnsupportedMode, Symbol: symbol, Message: instr.Mode.String()}
	}

	qty := RoundDown(raw, filter.StepSize).Truncate(filter.Precision())

	if !qty.IsPositive() || qty.LessThan(filter.MinQty) {
		return OrderSpec{}, limitError(ReasonBelowMinQty, symbol, qty, filter.MinQty,
			fmt.Sprintf("quantity %s below minQty %s", qty, filter.MinQty))
	}

	notional := qty.Mul(price)
	if notional.LessThan(filter.MinNotional) {
		return OrderSpec{}, limitError(ReasonBelowMinNotional, symbol, notional, filter.MinNotional,
			fmt.Sprintf("notional %s below minNotional %s", notional, filter.MinNotional))
	}

	if haveBalance {
		if instr.Side == alert.SideBuy && notional.GreaterThan(free) {
			e := limitError(ReasonInsufficientBalance, symbol, notional, free,
				fmt.Sprintf("need %s %s, free %s", notional, quote, free))
			e.Asset = quote
			return OrderSpec{}, e
		}
		if instr.Side == alert.SideSell && qty.GreaterThan(free) {
			e := limitError(ReasonInsufficientBalance, symbol, qty, free,
				fmt.Sprintf("need %s %s, free %s", qty, base, free))
			e.Asset = base
			return OrderSpec{}, e
		}
	}

	return OrderSpec{
		Symbol:              symbol,
		BaseAsset:           base,
		QuoteAsset:          quote,
		Side:                instr.Side,
		Mode:                instr.Mode,
		Quantity:            qty,
		Price:               price,
		EstimatedQuoteValue: notional,
		Precision:           filter.Precision(),
	}, nil
}

// RoundDown floors qty to a multiple of step. A non-positive step leaves qty
// unchanged.
func RoundDown(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() || !qty.IsPositive() {
		return qty
	}
	n, _ := qty.QuoRem(step, 0)
	return n.Mul(step)
}

func floorDiv(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, divScale)
	return q
}

func checkSide(instr alert.Instruction) error {
	var want alert.Side
	switch instr.Mode {
	case alert.ModeQuoteAmount, alert.ModeQuotePct:
		want = alert.SideBuy
	case alert.ModeBasePct, alert.ModeTargetQuoteAmount:
		want = alert.SideSell
	case alert.ModeBaseAmount:
		return nil
	default:
		return &SizingError{Reason: ReasonUnsupportedMode, Symbol: instr.Symbol, Message: instr.Mode.String()}
	}
	if instr.Side != want {
		return &SizingError{
			Reason:  ReasonUnsupportedMode,
			Symbol:  instr.Symbol,
			Message: fmt.Sprintf("%s is only valid for %s", instr.Mode, want),
		}
	}
	return nil
}

// lookupBalance returns the free balance of asset. Percentage modes need the
// entry; amount modes only check sufficiency when a balance record exists.
// An asset absent from an existing record holds nothing.
func lookupBalance(balances BalanceReader, asset string, required bool) (decimal.Decimal, bool, error) {
	snap, err := balances.Get(asset)
	switch {
	case err == nil:
		return snap.Free, true, nil
	case required:
		return decimal.Zero, false, err
	case !errors.Is(err, market.ErrNotFound):
		return decimal.Zero, false, err
	case balances.Exists():
		return decimal.Zero, true, nil
	default:
		return decimal.Zero, false, nil
	}
}

func requestedNotional(symbol string, value, minNotional decimal.Decimal) error {
	if value.LessThan(minNotional) {
		return limitError(ReasonBelowMinNotional, symbol, value, minNotional,
			fmt.Sprintf("requested notional %s below minNotional %s", value, minNotional))
	}
	return nil
}

func missing(reason Reason, symbol, asset string, cause error, msg string) *SizingError {
	if cause != nil && !errors.Is(cause, market.ErrNotFound) {
		msg = msg + ": " + cause.Error()
	}
	return &SizingError{Reason: reason, Symbol: symbol, Asset: asset, Message: msg}
}
