package sizing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-trader/internal/alert"
	"alert-trader/internal/market"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	prices   *market.PriceStore
	balances *market.BalanceStore
	filters  *market.FilterStore
}

// BTCUSDT @ 50000, filter {minQty 0.0001, step 0.0001, minNotional 10}.
func newFixture(t *testing.T, balances map[string]decimal.Decimal) fixture {
	t.Helper()
	at := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	f := fixture{
		prices:   market.NewPriceStore(),
		balances: market.NewBalanceStore(),
		filters:  market.NewFilterStore(),
	}
	require.NoError(t, f.filters.ReplaceAll(map[string]market.Filter{
		"BTCUSDT": {
			BaseAsset: "BTC", QuoteAsset: "USDT",
			MinQty: dec("0.0001"), StepSize: dec("0.0001"), MinNotional: dec("10"),
		},
	}, at))
	require.NoError(t, f.prices.ReplaceAll(map[string]decimal.Decimal{"BTCUSDT": dec("50000")}, at))
	if balances != nil {
		require.NoError(t, f.balances.ReplaceAll(balances, at))
	}
	return f
}

func (f fixture) resolve(instr alert.Instruction) (OrderSpec, error) {
	return Resolve(instr, f.prices, f.balances, f.filters)
}

func buy(mode alert.Mode, v string) alert.Instruction {
	return alert.Instruction{Side: alert.SideBuy, Symbol: "BTCUSDT", Mode: mode, Value: dec(v)}
}

func sell(mode alert.Mode, v string) alert.Instruction {
	return alert.Instruction{Side: alert.SideSell, Symbol: "BTCUSDT", Mode: mode, Value: dec(v)}
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var serr *SizingError
	require.True(t, errors.As(err, &serr), "期望 SizingError，实际: %v", err)
	return serr.Reason
}

func TestResolveQuoteAmountScenario(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USDT": dec("1000")})

	spec, err := f.resolve(buy(alert.ModeQuoteAmount, "100"))
	require.NoError(t, err)
	assert.True(t, spec.Quantity.Equal(dec("0.002")), "quantity = %s", spec.Quantity)
	assert.Equal(t, "0.0020", spec.QuantityString())
	assert.True(t, spec.EstimatedQuoteValue.Equal(dec("100")))
	assert.Equal(t, "BTC", spec.BaseAsset)
	assert.Equal(t, "USDT", spec.QuoteAsset)
	assert.Equal(t, alert.SideBuy, spec.Side)
}

func TestResolveTinyQuoteAmountBelowMinNotional(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USDT": dec("1000")})
	_, err := f.resolve(buy(alert.ModeQuoteAmount, "0.0003"))
	assert.ErrorIs(t, err, ErrBelowMinNotional)
}

func TestResolveBasePctWithoutBalanceIsMissingMarketData(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.resolve(sell(alert.ModeBasePct, "0.5"))
	assert.ErrorIs(t, err, ErrMissingMarketData)

	// 余额记录存在但不含 BTC
	f = newFixture(t, map[string]decimal.Decimal{"USDT": dec("1000")})
	_, err = f.resolve(sell(alert.ModeBasePct, "0.5"))
	assert.ErrorIs(t, err, ErrMissingMarketData)
}

func TestResolveMissingFilterAndPrice(t *testing.T) {
	f := newFixture(t, nil)
	instr := buy(alert.ModeQuoteAmount, "100")
	instr.Symbol = "ETHUSDT"
	_, err := f.resolve(instr)
	assert.ErrorIs(t, err, ErrMissingFilterData)

	require.NoError(t, f.filters.ReplaceAll(map[string]market.Filter{
		"ETHUSDT": {StepSize: dec("0.001"), MinQty: dec("0.001"), MinNotional: dec("5")},
	}, time.Now()))
	_, err = f.resolve(instr)
	assert.ErrorIs(t, err, ErrMissingMarketData)

	var serr *SizingError
	require.True(t, errors.As(err, &serr))
	assert.True(t, serr.Retryable())
}

func TestResolveQuotePct(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USDT": dec("1000")})
	spec, err := f.resolve(buy(alert.ModeQuotePct, "0.25"))
	require.NoError(t, err)
	// 250 / 50000 = 0.005
	assert.True(t, spec.Quantity.Equal(dec("0.005")))

	f = newFixture(t, nil)
	_, err = f.resolve(buy(alert.ModeQuotePct, "0.25"))
	assert.ErrorIs(t, err, ErrMissingMarketData)
}

func TestResolveBaseAmountRoundsDown(t *testing.T) {
	f := newFixture(t, nil)
	spec, err := f.resolve(buy(alert.ModeBaseAmount, "0.00129"))
	require.NoError(t, err)
	assert.True(t, spec.Quantity.Equal(dec("0.0012")), "应向下取整，实际 %s", spec.Quantity)

	_, err = f.resolve(buy(alert.ModeBaseAmount, "0.00009"))
	assert.Equal(t, ReasonBelowMinQty, reasonOf(t, err))

	// 0.0001 * 50000 = 5 < 10
	_, err = f.resolve(buy(alert.ModeBaseAmount, "0.0001"))
	assert.Equal(t, ReasonBelowMinNotional, reasonOf(t, err))
}

func TestResolveTargetQuoteAmount(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"BTC": dec("1")})
	spec, err := f.resolve(sell(alert.ModeTargetQuoteAmount, "333"))
	require.NoError(t, err)
	// 333/50000 = 0.00666 -> 0.0066
	assert.True(t, spec.Quantity.Equal(dec("0.0066")))
	assert.True(t, spec.EstimatedQuoteValue.LessThanOrEqual(dec("333")))
	assert.Equal(t, alert.SideSell, spec.Side)
}

func TestResolveInsufficientBalance(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USDT": dec("50"), "BTC": dec("0.001")})

	_, err := f.resolve(buy(alert.ModeQuoteAmount, "100"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	var serr *SizingError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "USDT", serr.Asset)
	assert.False(t, serr.Retryable())

	_, err = f.resolve(sell(alert.ModeBaseAmount, "0.002"))
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, ReasonInsufficientBalance, serr.Reason)
	assert.Equal(t, "BTC", serr.Asset)

	// 记录存在但缺少该资产：视为 0
	f = newFixture(t, map[string]decimal.Decimal{"BTC": dec("1")})
	_, err = f.resolve(buy(alert.ModeQuoteAmount, "100"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestResolveAmountModesWithoutBalanceRecord(t *testing.T) {
	f := newFixture(t, nil)
	spec, err := f.resolve(sell(alert.ModeBaseAmount, "0.5"))
	require.NoError(t, err)
	assert.True(t, spec.Quantity.Equal(dec("0.5")))
}

func TestResolveRejectsModeSideMismatch(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USDT": dec("1000"), "BTC": dec("1")})
	_, err := f.resolve(sell(alert.ModeQuotePct, "0.5"))
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	_, err = f.resolve(buy(alert.ModeBasePct, "0.5"))
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

// quoteAmount 买单：quantity*price 永远不超过请求金额。
func TestQuoteAmountNeverOverspends(t *testing.T) {
	prices := []string{"50000", "3.33", "0.07", "12345.6789", "99999.99"}
	amounts := []string{"10", "11.11", "100", "333.33", "1000", "9999.99"}
	for _, p := range prices {
		f := newFixture(t, nil)
		require.NoError(t, f.prices.ReplaceAll(map[string]decimal.Decimal{"BTCUSDT": dec(p)}, time.Now()))
		for _, a := range amounts {
			spec, err := f.resolve(buy(alert.ModeQuoteAmount, a))
			if err != nil {
				var serr *SizingError
				require.True(t, errors.As(err, &serr))
				continue
			}
			assert.True(t, spec.Quantity.Mul(dec(p)).LessThanOrEqual(dec(a)), "price=%s amount=%s qty=%s", p, a, spec.Quantity)
			assert.True(t, spec.Quantity.Mod(dec("0.0001")).IsZero())
		}
	}
}

// basePct 卖单：quantity <= free，仅当 step 整除 free 时相等。
func TestBasePctNeverExceedsFree(t *testing.T) {
	step := dec("0.0001")
	frees := []string{"1", "0.12345", "0.5", "2.00019", "0.1"}
	pcts := []string{"1", "0.5", "0.333", "0.9999"}
	for _, free := range frees {
		f := newFixture(t, map[string]decimal.Decimal{"BTC": dec(free)})
		for _, pct := range pcts {
			spec, err := f.resolve(sell(alert.ModeBasePct, pct))
			if err != nil {
				continue
			}
			assert.True(t, spec.Quantity.LessThanOrEqual(dec(free)))
			if spec.Quantity.Equal(dec(free)) {
				assert.True(t, dec(free).Mod(step).IsZero(), "free=%s pct=%s", free, pct)
			}
		}
	}

	f := newFixture(t, map[string]decimal.Decimal{"BTC": dec("0.12345")})
	spec, err := f.resolve(sell(alert.ModeBasePct, "1"))
	require.NoError(t, err)
	assert.True(t, spec.Quantity.Equal(dec("0.1234")))
}

func TestResolveIsIdempotentAndConcurrent(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USDT": dec("1000")})
	instr := buy(alert.ModeQuotePct, "0.37")
	first, err := f.resolve(instr)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			again, err := f.resolve(instr)
			assert.NoError(t, err)
			assert.Equal(t, first, again)
		}()
	}
	wg.Wait()
}

func TestRoundDown(t *testing.T) {
	cases := []struct{ in, step, want string }{
		{"0.123456", "0.001", "0.123"},
		{"5", "1", "5"},
		{"5.9999", "1", "5"},
		{"0.00099", "0.001", "0"},
		{"17", "5", "15"},
	}
	for _, tc := range cases {
		got := RoundDown(dec(tc.in), dec(tc.step))
		assert.True(t, got.Equal(dec(tc.want)), "%s step %s -> %s", tc.in, tc.step, got)
	}
	assert.True(t, RoundDown(dec("1.5"), decimal.Zero).Equal(dec("1.5")))
}

func TestQuantityStringUsesFilterPrecision(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.filters.ReplaceAll(map[string]market.Filter{
		"BTCUSDT": {MinQty: dec("0.00001"), StepSize: dec("0.00001"), MinNotional: dec("5"), QuantityPrecision: 3},
	}, time.Now()))
	spec, err := f.resolve(buy(alert.ModeBaseAmount, "0.01239"))
	require.NoError(t, err)
	assert.Equal(t, "0.012", spec.QuantityString())
}
