package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-trader/internal/market"
	"alert-trader/internal/orderlog"
)

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if _, err := s.InsertOrder(ctx, OrderRecord{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("未配置连接池时应返回 ErrNotConfigured: %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := NewStore(nil, 10).AppendOrder(ctx, orderlog.Entry{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("unexpected err: %v", err)
	}
	s.Close()
}

func TestRecordEntryConversion(t *testing.T) {
	at := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	entry := orderlog.Entry{
		Timestamp: at,
		Symbol:    "BTCUSDT",
		Side:      "BUY",
		Price:     decimal.NewNullDecimal(decimal.RequireFromString("60000")),
		Quantity:  decimal.NewNullDecimal(decimal.RequireFromString("0.001")),
		Status:    orderlog.StatusFilled,
		Message:   "ok",
	}
	rec := RecordFromEntry(entry)
	assert.Equal(t, "filled", rec.Status)
	assert.Equal(t, "60000", nullableString(rec.Price))
	assert.Equal(t, entry, rec.Entry())

	assert.Nil(t, nullableString(decimal.NullDecimal{}))
}

func TestParseNullable(t *testing.T) {
	got, err := parseNullable(nil)
	require.NoError(t, err)
	assert.False(t, got.Valid)

	text := "0.00120000"
	got, err = parseNullable(&text)
	require.NoError(t, err)
	assert.True(t, got.Decimal.Equal(decimal.RequireFromString("0.0012")))

	bad := "abc"
	_, err = parseNullable(&bad)
	assert.Error(t, err)
}

func TestBalancesDocumentRoundTrip(t *testing.T) {
	at := time.Unix(1_790_000_000, 0).UTC()
	body, err := encodeBalances(map[string]decimal.Decimal{
		"usdt": decimal.RequireFromString("150.5"),
		"BTC":  decimal.Zero,
	}, at)
	require.NoError(t, err)

	balances, ts, err := decodeBalances(body)
	require.NoError(t, err)
	assert.True(t, ts.Equal(at))
	assert.Len(t, balances, 2)
	assert.True(t, balances["USDT"].Equal(decimal.RequireFromString("150.5")))
	assert.True(t, balances["BTC"].IsZero())

	_, _, err = decodeBalances([]byte(`{"balances":{"BTC":"x"},"ts":1}`))
	assert.Error(t, err)
}

func TestFilterDocumentUsesSnakeCaseFields(t *testing.T) {
	at := time.Unix(1_790_000_000, 0).UTC()
	f := market.Filter{
		MinQty:      decimal.RequireFromString("0.00001"),
		StepSize:    decimal.RequireFromString("0.00001"),
		MinNotional: decimal.RequireFromString("5"),
	}
	body, err := encodeFilter(f, at)
	require.NoError(t, err)
	assert.JSONEq(t, `{"filters":{"min_qty":"0.00001","step_size":"0.00001","min_notional":"5"},"ts":1790000000}`, string(body))

	got, ts, err := decodeFilter(body)
	require.NoError(t, err)
	assert.True(t, ts.Equal(at))
	assert.True(t, got.StepSize.Equal(f.StepSize))
	assert.Equal(t, int32(5), got.QuantityPrecision)
}

func TestFilterKey(t *testing.T) {
	assert.Equal(t, "filters:ETHUSDT", FilterKey(" ethusdt "))
}
