package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockroom"

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	sheetsRequests *prometheus.CounterVec
	sheetsDuration *prometheus.HistogramVec
	sessionEvents  *prometheus.CounterVec
	items          prometheus.Gauge
	lowStockItems  prometheus.Gauge
}

// NewMetrics creates and registers every collector
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sheetsRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sheets",
				Name:      "requests_total",
				Help:      "Spreadsheet API calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		sheetsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sheets",
				Name:      "request_duration_seconds",
				Help:      "Spreadsheet API call latency",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
			},
			[]string{"operation"},
		),
		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "events_total",
				Help:      "Session lifecycle events",
			},
			[]string{"event"},
		),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "items",
			Help:      "Items held in memory after the last change",
		}),
		lowStockItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "low_stock_items",
			Help:      "Items below their effective low stock threshold",
		}),
	}

	m.registry.MustRegister(m.sheetsRequests, m.sheetsDuration, m.sessionEvents, m.items, m.lowStockItems)
	return m
}

// ObserveSheets records one spreadsheet API call
func (m *Metrics) ObserveSheets(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.sheetsRequests.WithLabelValues(operation, outcome).Inc()
	m.sheetsDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// SessionEvent counts a session lifecycle event such as sign_in or refresh_failed
func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}

// SetInventory publishes the current item counts
func (m *Metrics) SetInventory(items, lowStock int) {
	if m == nil {
		return
	}
	m.items.Set(float64(items))
	m.lowStockItems.Set(float64(lowStock))
}

// Registry exposes the underlying registry for tests and custom exporters
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
