// Package metrics exposes exchange counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exchange"

// Metrics holds the exchange's collectors, registered on their own
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	IntentsSubmitted *prometheus.CounterVec
	IntentsRejected  *prometheus.CounterVec
	Trades           prometheus.Counter
	TradedQuantity   prometheus.Counter
	Anomalies        *prometheus.CounterVec
	RestingIntents   *prometheus.GaugeVec
	PublishFailures  prometheus.Counter
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		IntentsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_submitted_total",
			Help:      "Intents accepted for matching, by side.",
		}, []string{"side"}),
		IntentsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_rejected_total",
			Help:      "Intents rejected before or during matching, by reason.",
		}, []string{"reason"}),
		Trades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades.",
		}),
		TradedQuantity: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_quantity_total",
			Help:      "Sum of executed trade quantities.",
		}),
		Anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_anomalies_total",
			Help:      "Resting intents evicted after a failed settlement, by reason.",
		}, []string{"reason"}),
		RestingIntents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_intents",
			Help:      "Intents resting on the book, by side.",
		}, []string{"side"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Trade batches that could not be published.",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
