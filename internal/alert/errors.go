package alert

import (
	"errors"
	"strings"
)

// Reason is the machine-readable rejection code of a ValidationError.
type Reason string

const (
	ReasonInvalidJSON       Reason = "invalid_json"
	ReasonUnknownField      Reason = "unknown_field"
	ReasonInvalidAction     Reason = "invalid_action"
	ReasonPlaceholderAction Reason = "placeholder_action"
	ReasonUnsupportedType   Reason = "unsupported_type"
	ReasonMissingSymbol     Reason = "missing_symbol"
	ReasonSymbolNotAllowed  Reason = "symbol_not_allowed"
	ReasonMissingInput      Reason = "missing_input"
	ReasonAmbiguousInput    Reason = "ambiguous_input"
	ReasonInvalidRange      Reason = "invalid_range"
)

// Sentinels matched with errors.Is against a *ValidationError.
var (
	ErrInvalidJSON       = errors.New("alert: invalid json")
	ErrUnknownField      = errors.New("alert: unknown field")
	ErrInvalidAction     = errors.New("alert: invalid action")
	ErrPlaceholderAction = errors.New("alert: unexpanded action placeholder")
	ErrUnsupportedType   = errors.New("alert: unsupported trade type")
	ErrMissingSymbol     = errors.New("alert: missing symbol")
	ErrSymbolNotAllowed  = errors.New("alert: symbol not allowed")
	ErrMissingInput      = errors.New("alert: missing sizing input")
	ErrAmbiguousInput    = errors.New("alert: ambiguous sizing input")
	ErrInvalidRange      = errors.New("alert: sizing value out of range")
)

var sentinels = map[Reason]error{
	ReasonInvalidJSON:       ErrInvalidJSON,
	ReasonUnknownField:      ErrUnknownField,
	ReasonInvalidAction:     ErrInvalidAction,
	ReasonPlaceholderAction: ErrPlaceholderAction,
	ReasonUnsupportedType:   ErrUnsupportedType,
	ReasonMissingSymbol:     ErrMissingSymbol,
	ReasonSymbolNotAllowed:  ErrSymbolNotAllowed,
	ReasonMissingInput:      ErrMissingInput,
	ReasonAmbiguousInput:    ErrAmbiguousInput,
	ReasonInvalidRange:      ErrInvalidRange,
}

// ValidationError is a defect of the alert payload itself. It is never
// retried.
type ValidationError struct {
	Reason  Reason
	Field   string
	Fields  []string
	Message string
}

func newValidationError(reason Reason, field, msg string) *ValidationError {
	return &ValidationError{Reason: reason, Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Reason))
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Unwrap exposes the per-reason sentinel.
func (e *ValidationError) Unwrap() error {
	return sentinels[e.Reason]
}

// Code returns the reason as a string.
func (e *ValidationError) Code() string {
	return string(e.Reason)
}

// SymbolNotAllowed builds the rejection used by callers enforcing an allow-list.
func SymbolNotAllowed(symbol string) *ValidationError {
	return &ValidationError{
		Reason:  ReasonSymbolNotAllowed,
		Field:   "symbol",
		Message: "symbol not allowed: " + symbol,
	}
}
