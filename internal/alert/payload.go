package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wire names of the six sizing fields. These are fixed by the alert producers.
const (
	FieldBuyQuoteAmount  = "buy_quote_amount"
	FieldBuyQuotePct     = "buy_quote_pct"
	FieldBuyBaseAmount   = "buy_base_amount"
	FieldSellBaseAmount  = "sell_base_amount"
	FieldSellBasePct     = "sell_base_pct"
	FieldSellQuoteAmount = "sell_quote_amount"

	// SecretField carries the shared webhook secret.
	SecretField = "client_secret"
)

// maxPayloadBytes bounds the webhook body.
const maxPayloadBytes = 64 << 10

// Payload is the inbound alert as posted by the alert producer. Sizing values
// stay raw so that numbers and numeric strings are both accepted and null
// counts as absent.
type Payload struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Type   string `json:"type,omitempty"`
	Secret string `json:"client_secret,omitempty"`

	BuyQuoteAmount  json.RawMessage `json:"buy_quote_amount,omitempty"`
	BuyQuotePct     json.RawMessage `json:"buy_quote_pct,omitempty"`
	BuyBaseAmount   json.RawMessage `json:"buy_base_amount,omitempty"`
	SellBaseAmount  json.RawMessage `json:"sell_base_amount,omitempty"`
	SellBasePct     json.RawMessage `json:"sell_base_pct,omitempty"`
	SellQuoteAmount json.RawMessage `json:"sell_quote_amount,omitempty"`
}

// DecodePayload parses a webhook body, rejecting unknown fields.
func DecodePayload(r io.Reader) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(io.LimitReader(r, maxPayloadBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		if field, ok := unknownField(err); ok {
			return Payload{}, newValidationError(ReasonUnknownField, field, fmt.Sprintf("unknown field %q in payload", field))
		}
		return Payload{}, newValidationError(ReasonInvalidJSON, "", "invalid JSON payload: "+err.Error())
	}
	if dec.More() {
		return Payload{}, newValidationError(ReasonInvalidJSON, "", "invalid JSON payload: trailing data")
	}
	return p, nil
}

// ParsePayload is DecodePayload over a byte slice.
func ParsePayload(body []byte) (Payload, error) {
	return DecodePayload(bytes.NewReader(body))
}

// Redacted returns a copy safe for logging.
func (p Payload) Redacted() Payload {
	if p.Secret != "" {
		p.Secret = "***"
	}
	return p
}

// PresentFields lists the sizing fields carrying a non-null value, in wire order.
func (p Payload) PresentFields() []string {
	var out []string
	for _, f := range p.sizingFields() {
		if present(f.raw) {
			out = append(out, f.name)
		}
	}
	return out
}

type rawField struct {
	name string
	raw  json.RawMessage
}

func (p Payload) sizingFields() []rawField {
	return []rawField{
		{FieldBuyQuoteAmount, p.BuyQuoteAmount},
		{FieldBuyQuotePct, p.BuyQuotePct},
		{FieldBuyBaseAmount, p.BuyBaseAmount},
		{FieldSellBaseAmount, p.SellBaseAmount},
		{FieldSellBasePct, p.SellBasePct},
		{FieldSellQuoteAmount, p.SellQuoteAmount},
	}
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// encoding/json reports unknown fields only through the error text.
func unknownField(err error) (string, bool) {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return "", false
	}
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(msg, prefix), `"`), true
}
