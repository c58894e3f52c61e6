package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"alert-trader/internal/alerting"
	"alert-trader/internal/config"
	"alert-trader/internal/market"
	"alert-trader/internal/orderlog"
	"alert-trader/internal/storage"
)

var t0 = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func testRecords() []storage.OrderRecord {
	return []storage.OrderRecord{
		{ID: 1, CreatedAt: t0, Symbol: "BTCUSDT", Side: "BUY", Price: nd("100"), Quantity: nd("2"), Status: "filled", Message: "ok"},
		{ID: 2, CreatedAt: t0.Add(time.Minute), Symbol: "BTCUSDT", Side: "BUY", Price: nd("100"), Quantity: nd("1"), Status: "rejected", Message: "nope"},
		{ID: 3, CreatedAt: t0.Add(2 * time.Minute), Symbol: "ETHUSDT", Side: "SELL", Price: nd("50"), Quantity: nd("1"), Status: "filled", Message: "ok"},
		{ID: 4, CreatedAt: t0.Add(3 * time.Minute), Symbol: "ETHUSDT", Side: "SELL", Status: "error", Message: "below_min_notional\nline"},
		{ID: 5, CreatedAt: t0.Add(4 * time.Minute), Symbol: "BTCUSDT", Side: "BUY", Price: nd("120"), Quantity: nd("0.5"), Status: "filled", Message: "ok"},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		OrderLog: config.OrderLogConfig{Capacity: 10, Retention: 100},
		Refresh:  config.RefreshConfig{Timeout: time.Second},
		Alerting: config.AlertingConfig{
			Statuses: []string{"filled"},
			Telegram: config.TelegramConfig{BotToken: "t", ChatID: "c", APIBase: "http://127.0.0.1:0"},
		},
		Export: config.ExportConfig{MaxDataPoints: 100},
	}
}

func TestDownsampleOrders(t *testing.T) {
	records := make([]storage.OrderRecord, 10)
	for i := range records {
		records[i].ID = int64(i)
	}

	out := downsampleOrders(records, 4)
	ids := make([]int64, 0, len(out))
	for _, r := range out {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{0, 3, 6, 9}, ids)

	assert.Len(t, downsampleOrders(records, 0), 10)
	assert.Len(t, downsampleOrders(records, 20), 10)
	last := downsampleOrders(records, 1)
	require.Len(t, last, 1)
	assert.Equal(t, int64(9), last[0].ID)
}

func TestBuildNotionalSeriesSkipsUnfilled(t *testing.T) {
	s := buildNotionalSeries(testRecords())

	assert.Equal(t, []float64{200, 60}, s.buyY)
	assert.Equal(t, []float64{50}, s.sellY)
	assert.Equal(t, []float64{200, 150, 210}, s.netY)
	assert.Equal(t, []time.Time{t0, t0.Add(2 * time.Minute), t0.Add(4 * time.Minute)}, s.netX)
}

func TestWriteOrdersCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "orders.csv")
	require.NoError(t, writeOrdersCSV(path, testRecords()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 6)
	assert.Equal(t, "notional", rows[0][7])
	assert.Equal(t, []string{"1", "2026-10-01T00:00:00Z", "BTCUSDT", "BUY", "filled", "100", "2", "200", "ok"}, rows[1])
	assert.Equal(t, "", rows[4][5])
	assert.Equal(t, "", rows[4][7])
}

func TestWriteOrdersPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.png")
	require.NoError(t, writeOrdersPNG(path, testRecords(), 100))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	err = writeOrdersPNG(path, testRecords()[:2], 100)
	assert.Error(t, err)
}

func TestParseBalances(t *testing.T) {
	got, err := parseBalances(map[string]string{"usdt": " 1000 ", "BTC": "0.5"})
	require.NoError(t, err)
	assert.True(t, got["USDT"].Equal(decimal.NewFromInt(1000)))
	assert.True(t, got["BTC"].Equal(decimal.RequireFromString("0.5")))

	_, err = parseBalances(map[string]string{"USDT": "lots"})
	assert.ErrorContains(t, err, "USDT")
}

func TestReadPayload(t *testing.T) {
	_, err := readPayload(SimulateOptions{})
	assert.Error(t, err)

	_, err = readPayload(SimulateOptions{Payload: "{}", PayloadPath: "a.json"})
	assert.Error(t, err)

	p, err := readPayload(SimulateOptions{Payload: `{"action":"buy","symbol":"BTCUSDT","buy_quote_amount":25}`})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", p.Symbol)

	path := filepath.Join(t.TempDir(), "alert.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"action":"sell","symbol":"ETHUSDT","sell_base_pct":"0.5"}`), 0o600))
	p, err = readPayload(SimulateOptions{PayloadPath: path})
	require.NoError(t, err)
	assert.Equal(t, "sell", p.Action)

	require.NoError(t, os.WriteFile(path, []byte(`{"action":"sell","bogus":1}`), 0o600))
	_, err = readPayload(SimulateOptions{PayloadPath: path})
	assert.ErrorContains(t, err, "decode payload")
}

func TestPrintOrders(t *testing.T) {
	var buf bytes.Buffer
	printOrders(&buf, nil)
	assert.Equal(t, "no orders found\n", buf.String())

	buf.Reset()
	entries := make([]orderlog.Entry, 0, 5)
	for _, r := range testRecords() {
		entries = append(entries, r.Entry())
	}
	printOrders(&buf, entries)
	out := buf.String()
	assert.Contains(t, out, "200.00")
	assert.Contains(t, out, "below_min_notional line")
	assert.Contains(t, out, "TIME (UTC)")
	for _, r := range testRecords() {
		assert.Contains(t, out, r.CreatedAt.Format(time.RFC3339))
	}
}

func TestPrintSummary(t *testing.T) {
	prices := market.NewPriceStore()
	require.NoError(t, prices.ReplaceAll(map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(1)}, t0))
	s := market.NewReporter(market.NewFilterStore(), prices, market.NewBalanceStore()).
		WithClock(func() time.Time { return t0.Add(90 * time.Second) }).
		Summarize()

	var buf bytes.Buffer
	printSummary(&buf, s)
	out := buf.String()
	assert.Contains(t, out, "2026-10-01T00:00:00Z")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "balances")
	assert.Contains(t, out, "prices")
}

func TestArchiveExportsDisabled(t *testing.T) {
	a := NewApp(testConfig(), zerolog.Nop())
	assert.NoError(t, a.archiveExports(context.Background(), []string{"missing.csv"}))
}

func TestNewNotifierHonoursSwitches(t *testing.T) {
	cfg := testConfig()
	a := NewApp(cfg, zerolog.Nop())
	assert.Nil(t, a.newNotifier())

	cfg.Alerting.Enabled = true
	assert.Nil(t, a.newNotifier())

	cfg.Alerting.Telegram.Enabled = true
	n := a.newNotifier()
	require.NotNil(t, n)
	_, ok := n.(*alerting.StatusFilter)
	assert.True(t, ok)
}

func TestBuildOffline(t *testing.T) {
	a := NewApp(testConfig(), zerolog.Nop())
	rt, err := a.build(context.Background(), buildOptions{paper: true, offline: true})
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.svc)
	assert.Nil(t, rt.store)
	assert.Nil(t, rt.mirror)
	assert.NotNil(t, rt.metrics)
	assert.Empty(t, rt.svc.RecentOrders(10))
}

func TestWriteOrdersXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "orders.xlsx")
	require.NoError(t, writeOrdersXLSX(path, testRecords()))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{ordersSheet, summarySheet}, fx.GetSheetList())

	rows, err := fx.GetRows(ordersSheet, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "Notional", rows[0][7])
	assert.Equal(t, []string{"1", "2026-10-01T00:00:00Z", "BTCUSDT", "BUY", "filled", "100", "2", "200", "ok"}, rows[1])
	assert.Equal(t, "error", rows[4][4])
	assert.Equal(t, "", rows[4][5])

	summary, err := fx.GetRows(summarySheet, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, []string{"BTCUSDT", "2", "260", "0", "0", "260", "1", "0"}, summary[1])
	assert.Equal(t, []string{"ETHUSDT", "0", "0", "1", "50", "-50", "0", "1"}, summary[2])
}
