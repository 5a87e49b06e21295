// Package metrics holds the relay's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics groups every instrument the relay updates.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal          prometheus.Counter
	UpdatesSent         prometheus.Counter
	SendFailures        prometheus.Counter
	ActiveConnections   prometheus.Gauge
	RejectedConnections *prometheus.CounterVec
}

// New registers the instruments on a fresh registry so tests can build as many
// instances as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulator ticks dispatched",
		}),
		UpdatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_sent_total",
			Help:      "Price updates queued to subscribers",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Price updates that could not be queued to a subscriber",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Authenticated websocket sessions",
		}),
		RejectedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "Websocket handshakes closed before activation",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.TicksTotal,
		m.UpdatesSent,
		m.SendFailures,
		m.ActiveConnections,
		m.RejectedConnections,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
