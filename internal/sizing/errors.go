package sizing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Reason identifies why a sizing attempt failed.
type Reason string

const (
	ReasonMissingMarketData   Reason = "missing_market_data"
	ReasonMissingFilterData   Reason = "missing_filter_data"
	ReasonBelowMinQty         Reason = "below_min_qty"
	ReasonBelowMinNotional    Reason = "below_min_notional"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonUnsupportedMode     Reason = "unsupported_mode"
)

var (
	ErrMissingMarketData   = errors.New("sizing: missing market data")
	ErrMissingFilterData   = errors.New("sizing: missing filter data")
	ErrBelowMinQty         = errors.New("sizing: quantity below minimum")
	ErrBelowMinNotional    = errors.New("sizing: notional below minimum")
	ErrInsufficientBalance = errors.New("sizing: insufficient balance")
	ErrUnsupportedMode     = errors.New("sizing: unsupported mode")
)

var sentinels = map[Reason]error{
	ReasonMissingMarketData:   ErrMissingMarketData,
	ReasonMissingFilterData:   ErrMissingFilterData,
	ReasonBelowMinQty:         ErrBelowMinQty,
	ReasonBelowMinNotional:    ErrBelowMinNotional,
	ReasonInsufficientBalance: ErrInsufficientBalance,
	ReasonUnsupportedMode:     ErrUnsupportedMode,
}

// SizingError is a market-data dependent failure. Missing data errors may
// succeed after a refresh; filter and balance errors will not.
type SizingError struct {
	Reason   Reason
	Symbol   string
	Asset    string
	Quantity decimal.NullDecimal
	Limit    decimal.NullDecimal
	Message  string
}

func (e *SizingError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Reason))
	if e.Symbol != "" {
		b.WriteString(" [")
		b.WriteString(e.Symbol)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *SizingError) Unwrap() error {
	return sentinels[e.Reason]
}

// Code returns the reason as a string.
func (e *SizingError) Code() string {
	return string(e.Reason)
}

// Retryable reports whether a refresh of the stores could change the outcome.
func (e *SizingError) Retryable() bool {
	return e.Reason == ReasonMissingMarketData || e.Reason == ReasonMissingFilterData
}

func limitError(reason Reason, symbol string, qty, limit decimal.Decimal, msg string) *SizingError {
	return &SizingError{
		Reason:   reason,
		Symbol:   symbol,
		Quantity: decimal.NewNullDecimal(qty),
		Limit:    decimal.NewNullDecimal(limit),
		Message:  msg,
	}
}
