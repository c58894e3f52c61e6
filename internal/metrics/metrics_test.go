package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	m := New()

	m.RecordAlert("accepted")
	m.RecordAlert("accepted")
	m.RecordAlert("ambiguous_input")
	m.RecordOrder("BTCUSDT", "BUY", "filled", 60, true)
	m.RecordOrder("BTCUSDT", "BUY", "rejected", 0, false)
	m.RecordRefresh("prices", 10*time.Millisecond, nil)
	m.RecordRefresh("prices", 10*time.Millisecond, errors.New("timeout"))
	m.RecordSinkError("redis")
	m.SetStore("balances", 3, -1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.alertsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersTotal.WithLabelValues("BTCUSDT", "BUY", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("prices", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkErrors.WithLabelValues("redis")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.storeEntries.WithLabelValues("balances")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.storeAge.WithLabelValues("balances")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.RecordStreamUpdate("ETHUSDT")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `alert_trader_stream_price_updates_total{symbol="ETHUSDT"} 1`))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAlert("x")
	m.RecordOrder("A", "BUY", "filled", 1, true)
	m.RecordRefresh("prices", 0, nil)
	m.SetStore("prices", 1, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
