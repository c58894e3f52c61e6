package alert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Mode is the sizing variant produced by classification.
type Mode int

const (
	// ModeQuoteAmount spends a fixed quote amount (buy).
	ModeQuoteAmount Mode = iota + 1
	// ModeQuotePct spends a fraction of the free quote balance (buy).
	ModeQuotePct
	// ModeBaseAmount buys or sells a fixed base quantity.
	ModeBaseAmount
	// ModeBasePct sells a fraction of the free base balance (sell).
	ModeBasePct
	// ModeTargetQuoteAmount sells enough base to receive a quote amount (sell).
	ModeTargetQuoteAmount
)

func (m Mode) String() string {
	switch m {
	case ModeQuoteAmount:
		return "quoteAmount"
	case ModeQuotePct:
		return "quotePct"
	case ModeBaseAmount:
		return "baseAmount"
	case ModeBasePct:
		return "basePct"
	case ModeTargetQuoteAmount:
		return "targetQuoteAmount"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// IsPct reports whether the value is a fraction of a balance.
func (m Mode) IsPct() bool {
	return m == ModeQuotePct || m == ModeBasePct
}

// MarshalText renders the mode name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Instruction is the validated form of a Payload.
type Instruction struct {
	Side   Side            `json:"side"`
	Symbol string          `json:"symbol"`
	Mode   Mode            `json:"mode"`
	Value  decimal.Decimal `json:"value"`
	Field  string          `json:"field"`
}

const (
	tradeTypeSpot     = "SPOT"
	actionPlaceholder = "{{STRATEGY.ORDER.ACTION}}"
	fieldAction       = "action"
	fieldSymbol       = "symbol"
	fieldType         = "type"
)

var (
	buyFields = []struct {
		name string
		mode Mode
	}{
		{FieldBuyQuoteAmount, ModeQuoteAmount},
		{FieldBuyQuotePct, ModeQuotePct},
		{FieldBuyBaseAmount, ModeBaseAmount},
	}
	sellFields = []struct {
		name string
		mode Mode
	}{
		{FieldSellBaseAmount, ModeBaseAmount},
		{FieldSellBasePct, ModeBasePct},
		{FieldSellQuoteAmount, ModeTargetQuoteAmount},
	}

	one = decimal.NewFromInt(1)
)

// Classify validates a payload and derives its sizing instruction. It is a
// pure function of the payload. Callers must have authenticated the payload
// before classifying it.
func Classify(p Payload) (Instruction, error) {
	side, err := parseAction(p.Action)
	if err != nil {
		return Instruction{}, err
	}

	symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
	if symbol == "" {
		return Instruction{}, newValidationError(ReasonMissingSymbol, fieldSymbol, "symbol is required")
	}

	if t := strings.ToUpper(strings.TrimSpace(p.Type)); t != "" && t != tradeTypeSpot {
		return Instruction{}, newValidationError(ReasonUnsupportedType, fieldType, "unsupported trade type: "+t)
	}

	candidates := buyFields
	if side == SideSell {
		candidates = sellFields
	}
	raw := rawByName(p)

	var names []string
	for _, c := range candidates {
		if present(raw[c.name]) {
			names = append(names, c.name)
		}
	}

	switch len(names) {
	case 0:
		return Instruction{}, &ValidationError{
			Reason:  ReasonMissingInput,
			Fields:  candidateNames(candidates),
			Message: "please provide one of: " + strings.Join(candidateNames(candidates), ", "),
		}
	case 1:
	default:
		return Instruction{}, &ValidationError{
			Reason:  ReasonAmbiguousInput,
			Field:   names[0],
			Fields:  names,
			Message: "please provide only one of: " + strings.Join(names, ", "),
		}
	}

	name := names[0]
	var mode Mode
	for _, c := range candidates {
		if c.name == name {
			mode = c.mode
		}
	}

	value, err := parseNumber(raw[name])
	if err != nil {
		return Instruction{}, newValidationError(ReasonInvalidRange, name, name+" must be a number")
	}
	if mode.IsPct() {
		if !value.IsPositive() || value.GreaterThan(one) {
			return Instruction{}, newValidationError(ReasonInvalidRange, name, name+" must be a number between 0 and 1")
		}
	} else if !value.IsPositive() {
		return Instruction{}, newValidationError(ReasonInvalidRange, name, name+" must be a positive number")
	}

	return Instruction{Side: side, Symbol: symbol, Mode: mode, Value: value, Field: name}, nil
}

func parseAction(action string) (Side, error) {
	normalized := strings.ToUpper(strings.TrimSpace(action))
	switch normalized {
	case string(SideBuy):
		return SideBuy, nil
	case string(SideSell):
		return SideSell, nil
	case actionPlaceholder:
		return "", newValidationError(ReasonPlaceholderAction, fieldAction,
			"received {{strategy.order.action}} unexpanded; send buy or sell")
	case "":
		return "", newValidationError(ReasonInvalidAction, fieldAction, "action is required")
	default:
		return "", newValidationError(ReasonInvalidAction, fieldAction, "invalid action: "+normalized)
	}
}

func rawByName(p Payload) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, 6)
	for _, f := range p.sizingFields() {
		out[f.name] = f.raw
	}
	return out
}

func candidateNames(c []struct {
	name string
	mode Mode
}) []string {
	out := make([]string, len(c))
	for i, f := range c {
		out[i] = f.name
	}
	return out
}

// parseNumber accepts a JSON number or a string holding one.
func parseNumber(raw json.RawMessage) (decimal.Decimal, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var num json.Number
		if err := json.Unmarshal(raw, &num); err != nil {
			return decimal.Decimal{}, err
		}
		text = num.String()
	}
	return decimal.NewFromString(strings.TrimSpace(text))
}
