package alert

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, body string) Payload {
	t.Helper()
	p, err := ParsePayload([]byte(body))
	require.NoError(t, err, "payload 解析失败")
	return p
}

func TestClassifyModes(t *testing.T) {
	cases := []struct {
		body  string
		side  Side
		mode  Mode
		value string
		field string
	}{
		{`{"action":"buy","symbol":"btcusdt","buy_quote_amount":100}`, SideBuy, ModeQuoteAmount, "100", FieldBuyQuoteAmount},
		{`{"action":"BUY","symbol":"BTCUSDT","buy_quote_pct":"0.25"}`, SideBuy, ModeQuotePct, "0.25", FieldBuyQuotePct},
		{`{"action":"Buy","symbol":"BTCUSDT","buy_base_amount":0.002}`, SideBuy, ModeBaseAmount, "0.002", FieldBuyBaseAmount},
		{`{"action":"sell","symbol":"BTCUSDT","sell_base_amount":"0.5"}`, SideSell, ModeBaseAmount, "0.5", FieldSellBaseAmount},
		{`{"action":"sell","symbol":"BTCUSDT","sell_base_pct":1}`, SideSell, ModeBasePct, "1", FieldSellBasePct},
		{`{"action":" sell ","symbol":" ethusdt ","sell_quote_amount":50,"type":"spot"}`, SideSell, ModeTargetQuoteAmount, "50", FieldSellQuoteAmount},
	}
	for _, tc := range cases {
		instr, err := Classify(mustParse(t, tc.body))
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.side, instr.Side, tc.body)
		assert.Equal(t, tc.mode, instr.Mode, tc.body)
		assert.Equal(t, tc.field, instr.Field, tc.body)
		assert.Equal(t, tc.value, instr.Value.String(), tc.body)
		assert.Equal(t, strings.ToUpper(instr.Symbol), instr.Symbol)
		assert.NotContains(t, instr.Symbol, " ")
	}
}

func TestClassifyIgnoresOtherSideFields(t *testing.T) {
	instr, err := Classify(mustParse(t, `{"action":"buy","symbol":"BTCUSDT","buy_quote_amount":100,"sell_base_pct":0.5}`))
	require.NoError(t, err)
	assert.Equal(t, ModeQuoteAmount, instr.Mode)

	_, err = Classify(mustParse(t, `{"action":"sell","symbol":"BTCUSDT","buy_quote_amount":100}`))
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestClassifyMissingAndAmbiguous(t *testing.T) {
	_, err := Classify(mustParse(t, `{"action":"buy","symbol":"BTCUSDT"}`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonMissingInput, verr.Reason)
	assert.Equal(t, []string{FieldBuyQuoteAmount, FieldBuyQuotePct, FieldBuyBaseAmount}, verr.Fields)

	_, err = Classify(mustParse(t, `{"action":"buy","symbol":"BTCUSDT","buy_quote_amount":null}`))
	assert.ErrorIs(t, err, ErrMissingInput, "null 视为缺失")

	_, err = Classify(mustParse(t, `{"action":"buy","symbol":"BTCUSDT","buy_quote_amount":100,"buy_base_amount":0.01}`))
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonAmbiguousInput, verr.Reason)
	assert.Equal(t, "ambiguous_input", verr.Code())
	assert.Equal(t, []string{FieldBuyQuoteAmount, FieldBuyBaseAmount}, verr.Fields)

	_, err = Classify(mustParse(t, `{"action":"sell","symbol":"BTCUSDT","sell_base_amount":1,"sell_base_pct":0.5,"sell_quote_amount":10}`))
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 3)
}

func TestClassifyRanges(t *testing.T) {
	bad := map[string]string{
		`{"action":"buy","symbol":"BTCUSDT","buy_quote_pct":0}`:          FieldBuyQuotePct,
		`{"action":"buy","symbol":"BTCUSDT","buy_quote_pct":1.01}`:       FieldBuyQuotePct,
		`{"action":"sell","symbol":"BTCUSDT","sell_base_pct":-0.1}`:      FieldSellBasePct,
		`{"action":"buy","symbol":"BTCUSDT","buy_quote_amount":0}`:       FieldBuyQuoteAmount,
		`{"action":"sell","symbol":"BTCUSDT","sell_base_amount":"-3"}`:   FieldSellBaseAmount,
		`{"action":"sell","symbol":"BTCUSDT","sell_quote_amount":"abc"}`: FieldSellQuoteAmount,
		`{"action":"buy","symbol":"BTCUSDT","buy_base_amount":true}`:     FieldBuyBaseAmount,
	}
	for body, field := range bad {
		_, err := Classify(mustParse(t, body))
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), body)
		assert.Equal(t, ReasonInvalidRange, verr.Reason, body)
		assert.Equal(t, field, verr.Field, body)
	}
}

func TestClassifyActionSymbolType(t *testing.T) {
	_, err := Classify(mustParse(t, `{"action":"hold","symbol":"BTCUSDT","buy_quote_amount":1}`))
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = Classify(mustParse(t, `{"symbol":"BTCUSDT","buy_quote_amount":1}`))
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = Classify(mustParse(t, `{"action":"{{strategy.order.action}}","symbol":"BTCUSDT","buy_quote_amount":1}`))
	assert.ErrorIs(t, err, ErrPlaceholderAction)

	_, err = Classify(mustParse(t, `{"action":"buy","symbol":"   ","buy_quote_amount":1}`))
	assert.ErrorIs(t, err, ErrMissingSymbol)

	_, err = Classify(mustParse(t, `{"action":"buy","symbol":"BTCUSDT","type":"futures","buy_quote_amount":1}`))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodePayloadRejectsUnknownAndMalformed(t *testing.T) {
	_, err := ParsePayload([]byte(`{"action":"buy","symbol":"BTCUSDT","amount":5}`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonUnknownField, verr.Reason)
	assert.Equal(t, "amount", verr.Field)

	_, err = ParsePayload([]byte(`{"action":`))
	assert.ErrorIs(t, err, ErrInvalidJSON)

	_, err = ParsePayload([]byte(`{"action":"buy"} {"x":1}`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestPayloadRedactedAndPresentFields(t *testing.T) {
	p := mustParse(t, `{"action":"buy","symbol":"BTCUSDT","client_secret":"s3cret","buy_quote_amount":1,"sell_base_pct":null}`)
	assert.Equal(t, "***", p.Redacted().Secret)
	assert.Equal(t, "s3cret", p.Secret, "Redacted 不应修改原值")
	assert.Equal(t, []string{FieldBuyQuoteAmount}, p.PresentFields())
}

func TestSymbolNotAllowed(t *testing.T) {
	err := error(SymbolNotAllowed("DOGEUSDT"))
	assert.ErrorIs(t, err, ErrSymbolNotAllowed)
	assert.Contains(t, err.Error(), "DOGEUSDT")
}
