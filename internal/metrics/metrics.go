// Package metrics exposes Prometheus instrumentation for the trader.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alert_trader"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	alertsTotal    *prometheus.CounterVec
	ordersTotal    *prometheus.CounterVec
	orderNotional  *prometheus.HistogramVec
	refreshTotal   *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec
	streamUpdates  *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec
	storeEntries   *prometheus.GaugeVec
	storeAge       *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Webhook alerts by outcome reason",
			},
			[]string{"outcome"},
		),
		ordersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Order log entries by symbol, side and status",
			},
			[]string{"symbol", "side", "status"},
		),
		orderNotional: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "order_notional",
				Help:      "Quote notional of filled orders",
				Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
			},
			[]string{"symbol"},
		),
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Store refresh attempts by store and result",
			},
			[]string{"store", "result"},
		),
		refreshLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Exchange round-trip time of store refreshes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store"},
		),
		streamUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_price_updates_total",
				Help:      "Prices applied from the websocket stream",
			},
			[]string{"symbol"},
		),
		sinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orderlog_sink_errors_total",
				Help:      "Failed order log mirror writes",
			},
			[]string{"sink"},
		),
		storeEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_entries",
				Help:      "Entries in each market store snapshot",
			},
			[]string{"store"},
		),
		storeAge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_age_seconds",
				Help:      "Seconds since the store snapshot was observed",
			},
			[]string{"store"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.alertsTotal,
		m.ordersTotal,
		m.orderNotional,
		m.refreshTotal,
		m.refreshLatency,
		m.streamUpdates,
		m.sinkErrors,
		m.storeEntries,
		m.storeAge,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordAlert counts one webhook alert; outcome is "accepted" or a failure reason code.
func (m *Metrics) RecordAlert(outcome string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(outcome).Inc()
}

// RecordOrder counts an order log entry and observes filled notional.
func (m *Metrics) RecordOrder(symbol, side, status string, notional float64, hasNotional bool) {
	if m == nil {
		return
	}
	m.ordersTotal.WithLabelValues(symbol, side, status).Inc()
	if hasNotional && status == "filled" {
		m.orderNotional.WithLabelValues(symbol).Observe(notional)
	}
}

// RecordRefresh counts a refresh attempt and its latency.
func (m *Metrics) RecordRefresh(store string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshTotal.WithLabelValues(store, result).Inc()
	m.refreshLatency.WithLabelValues(store).Observe(took.Seconds())
}

// RecordStreamUpdate counts one streamed price applied to the store.
func (m *Metrics) RecordStreamUpdate(symbol string) {
	if m == nil {
		return
	}
	m.streamUpdates.WithLabelValues(symbol).Inc()
}

// RecordSinkError counts a failed mirror write.
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// SetStore publishes the size and age of a store snapshot. A negative age
// means the store was never loaded and is reported as zero.
func (m *Metrics) SetStore(store string, entries int, age float64) {
	if m == nil {
		return
	}
	if age < 0 {
		age = 0
	}
	m.storeEntries.WithLabelValues(store).Set(float64(entries))
	m.storeAge.WithLabelValues(store).Set(age)
}
