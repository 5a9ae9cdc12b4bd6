// Package metrics holds the Prometheus collectors shared by the server and the consumer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shortlink"

// Redirect outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomeNotFound = "not_found"
	OutcomeExpired  = "expired"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	Shortened          prometheus.Counter
	Redirects          *prometheus.CounterVec
	ClicksRecorded     prometheus.Counter
	ClicksFailed       prometheus.Counter
	ClicksDeadLettered prometheus.Counter
	ClicksDropped      prometheus.Counter
	LedgerDrift        prometheus.Counter
	FeedReconnects     prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Shortened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "shortened_total",
			Help: "Mappings created.",
		}),
		Redirects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "redirects_total",
			Help: "Redirect lookups by outcome.",
		}, []string{"outcome"}),
		ClicksRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "clicks_recorded_total",
			Help: "Click tasks committed to the ledger.",
		}),
		ClicksFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "clicks_failed_attempts_total",
			Help: "Failed click recording attempts, retried or not.",
		}),
		ClicksDeadLettered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "clicks_dead_lettered_total",
			Help: "Click tasks abandoned after exhausting retries.",
		}),
		ClicksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "clicks_dropped_total",
			Help: "Click tasks that could not be dispatched.",
		}),
		LedgerDrift: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_drift_total",
			Help: "Ledger reads whose counters disagreed.",
		}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_reconnects_total",
			Help: "Live feed transport reconnect attempts.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
