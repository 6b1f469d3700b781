package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries the server's Prometheus instruments on a private
// registry, exposed only when a metrics address is configured.
type Metrics struct {
	registry *prometheus.Registry

	DatagramsIn  prometheus.Counter
	DatagramsOut prometheus.Counter
	LogApplied   prometheus.Counter
	LogDeduped   prometheus.Counter
	Sessions     prometheus.Gauge
}

// NewMetrics builds and registers the instrument set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		DatagramsIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "parity_datagrams_received_total",
			Help: "Datagrams received on the responder socket.",
		}),
		DatagramsOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "parity_datagrams_sent_total",
			Help: "Datagrams sent to session members.",
		}),
		LogApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "parity_log_entries_applied_total",
			Help: "Change-log entries applied to a ledger.",
		}),
		LogDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "parity_log_entries_deduplicated_total",
			Help: "Change-log entries dropped as already processed.",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parity_sessions",
			Help: "Sessions currently held in memory.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
