package market

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFilterStoreRoundTrip(t *testing.T) {
	store := NewFilterStore()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := map[string]Filter{
		"BTCUSDT": {MinQty: dec("0.0001"), StepSize: dec("0.0001"), MinNotional: dec("10")},
		"ethusdt": {MinQty: dec("0.001"), StepSize: dec("0.001"), MinNotional: dec("5")},
	}
	require.NoError(t, store.ReplaceAll(in, at))

	got, err := store.Get("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, in["BTCUSDT"], got)

	got, err = store.Get("ETHUSDT")
	require.NoError(t, err, "key 应大小写无关")
	assert.Equal(t, in["ethusdt"], got)

	assert.Equal(t, 2, store.Len())
	assert.Equal(t, at, store.ObservedAt())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, store.Symbols())
}

func TestFilterStoreRejectsInvalidAndKeepsPrevious(t *testing.T) {
	store := NewFilterStore()
	good := map[string]Filter{"BTCUSDT": {StepSize: dec("0.0001")}}
	require.NoError(t, store.ReplaceAll(good, time.Unix(100, 0)))

	bad := map[string]Filter{"BTCUSDT": {StepSize: decimal.Zero}}
	err := store.ReplaceAll(bad, time.Unix(200, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidEntry))

	got, err := store.Get("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, got.StepSize.Equal(dec("0.0001")))
	assert.Equal(t, time.Unix(100, 0), store.ObservedAt())
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	_, err := NewPriceStore().Get("BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = NewBalanceStore().Get("BTC")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = NewFilterStore().Get("BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPriceStoreValidation(t *testing.T) {
	store := NewPriceStore()
	err := store.ReplaceAll(map[string]decimal.Decimal{"BTCUSDT": decimal.Zero}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.ErrorIs(t, store.Upsert("BTCUSDT", dec("-1"), time.Now()), ErrInvalidEntry)
	assert.Equal(t, 0, store.Len())
}

func TestPriceStoreUpsertKeepsOtherSymbols(t *testing.T) {
	store := NewPriceStore()
	t0 := time.Unix(1000, 0)
	require.NoError(t, store.ReplaceAll(map[string]decimal.Decimal{
		"BTCUSDT": dec("50000"),
		"ETHUSDT": dec("3000"),
	}, t0))

	t1 := t0.Add(time.Second)
	require.NoError(t, store.Upsert("btcusdt", dec("50100"), t1))

	btc, err := store.Get("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, btc.Mid.Equal(dec("50100")))
	assert.Equal(t, t1, btc.ObservedAt)

	eth, err := store.Get("ETHUSDT")
	require.NoError(t, err)
	assert.True(t, eth.Mid.Equal(dec("3000")))
	assert.Equal(t, t0, eth.ObservedAt)
	assert.Equal(t, t1, store.ObservedAt())
}

func TestBalanceStoreZeroAllowedNegativeRejected(t *testing.T) {
	store := NewBalanceStore()
	assert.False(t, store.Exists())

	require.NoError(t, store.ReplaceAll(map[string]decimal.Decimal{"BTC": decimal.Zero, "USDT": dec("1000")}, time.Now()))
	assert.True(t, store.Exists())

	b, err := store.Get("BTC")
	require.NoError(t, err)
	assert.True(t, b.Free.IsZero())

	err = store.ReplaceAll(map[string]decimal.Decimal{"USDT": dec("-1")}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Equal(t, 2, store.Len())
}

// 并发读写时，读者要么看到旧代，要么看到新代，不会混合。
func TestReplaceAllIsAtomicForReaders(t *testing.T) {
	store := NewPriceStore()
	symbols := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT"}
	gen := func(v int64) map[string]decimal.Decimal {
		out := make(map[string]decimal.Decimal, len(symbols))
		for _, s := range symbols {
			out[s] = decimal.NewFromInt(v)
		}
		return out
	}
	require.NoError(t, store.ReplaceAll(gen(1), time.Now()))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(2); i < 500; i++ {
			_ = store.ReplaceAll(gen(i), time.Now())
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		all, _ := store.All()
		first := all[symbols[0]].Mid
		for _, s := range symbols[1:] {
			if !all[s].Mid.Equal(first) {
				t.Fatalf("读到了混合快照: %s=%s vs %s", s, all[s].Mid, first)
			}
		}
	}
}

func TestStepPrecision(t *testing.T) {
	cases := map[string]int32{
		"0.00010000": 4,
		"1.00000000": 0,
		"0.001":      3,
		"10":         0,
		"0.5":        1,
	}
	for in, want := range cases {
		assert.Equal(t, want, StepPrecision(dec(in)), in)
	}
	assert.Equal(t, int32(0), StepPrecision(decimal.Zero))

	f := Filter{StepSize: dec("0.00001000")}
	assert.Equal(t, int32(5), f.Precision())
	f.QuantityPrecision = 2
	assert.Equal(t, int32(2), f.Precision())
}

func TestSplitSymbol(t *testing.T) {
	base, quote, err := SplitSymbol("btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	base, quote, err = SplitSymbol("PEPEUSDC")
	require.NoError(t, err)
	assert.Equal(t, "PEPE", base)
	assert.Equal(t, "USDC", quote)

	_, _, err = SplitSymbol("USDT")
	assert.Error(t, err)
	_, _, err = SplitSymbol("FOOBAR")
	assert.Error(t, err)

	f := Filter{BaseAsset: "sol", QuoteAsset: "eur"}
	base, quote, err = f.Assets("SOLEUR")
	require.NoError(t, err)
	assert.Equal(t, "SOL", base)
	assert.Equal(t, "EUR", quote)
}
