// Package metrics holds the Prometheus collectors exported on /metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "otcdesk"

// Metrics bundles every collector the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	rpcRequests      *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	catalogOrders    *prometheus.GaugeVec
	failedReads      prometheus.Counter
	partialSnapshots prometheus.Counter
	trades           *prometheus.CounterVec
	priceRequests    *prometheus.CounterVec
	notifications    prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Ledger RPC calls by operation and result.",
		}, []string{"op", "result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_refresh_duration_seconds",
			Help:      "Wall time of a full catalog refresh.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		catalogOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_orders",
			Help:      "Orders in the current snapshot by raw status.",
		}, []string{"status"}),
		failedReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_failed_reads_total",
			Help:      "Order reads that were dropped from a snapshot.",
		}),
		partialSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_partial_snapshots_total",
			Help:      "Snapshots published with at least one missing order.",
		}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Finished trade attempts by outcome.",
		}, []string{"outcome"}),
		priceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_feed_requests_total",
			Help:      "Price feed batch requests by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_delivered_total",
			Help:      "Notifications pushed to external channels.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rpcRequests,
		m.refreshDuration,
		m.catalogOrders,
		m.failedReads,
		m.partialSnapshots,
		m.trades,
		m.priceRequests,
		m.notifications,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RPC(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.rpcRequests.WithLabelValues(op, result).Inc()
}

// Refresh records one completed catalog refresh.
func (m *Metrics) Refresh(d time.Duration, active, completed, cancelled, failed int) {
	if m == nil {
		return
	}
	m.refreshDuration.Observe(d.Seconds())
	m.catalogOrders.WithLabelValues("active").Set(float64(active))
	m.catalogOrders.WithLabelValues("completed").Set(float64(completed))
	m.catalogOrders.WithLabelValues("cancelled").Set(float64(cancelled))
	if failed > 0 {
		m.failedReads.Add(float64(failed))
		m.partialSnapshots.Inc()
	}
}

func (m *Metrics) Trade(outcome string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PriceRequest(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.priceRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) NotificationDelivered() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}
