// Package observability holds the Prometheus instrumentation shared by
// the collector and ingest paths.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters for event collection.
type Metrics struct {
	DeparturesFetched prometheus.Counter
	DeparturesStored  prometheus.Counter
	FetchErrors       *prometheus.CounterVec // label: station
	IngestMessages    prometheus.Counter
	IngestErrors      prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		DeparturesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbahn_tracker",
			Name:      "departures_fetched_total",
			Help:      "Total departures returned by the polling feed.",
		}),
		DeparturesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbahn_tracker",
			Name:      "departures_stored_total",
			Help:      "Total normalized departures upserted into the store.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sbahn_tracker",
			Name:      "fetch_errors_total",
			Help:      "Total per-station fetch failures, skipped without aborting the batch.",
		}, []string{"station"}),
		IngestMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbahn_tracker",
			Name:      "ingest_messages_total",
			Help:      "Total departure payloads received over NATS.",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbahn_tracker",
			Name:      "ingest_errors_total",
			Help:      "Total NATS payloads that failed to decode or store.",
		}),
	}

	prometheus.MustRegister(
		m.DeparturesFetched,
		m.DeparturesStored,
		m.FetchErrors,
		m.IngestMessages,
		m.IngestErrors,
	)
	return m
}

// NewTestMetrics creates metrics bound to a private registry so tests
// can instantiate them repeatedly.
func NewTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		DeparturesFetched: prometheus.NewCounter(prometheus.CounterOpts{Name: "departures_fetched_total"}),
		DeparturesStored:  prometheus.NewCounter(prometheus.CounterOpts{Name: "departures_stored_total"}),
		FetchErrors:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fetch_errors_total"}, []string{"station"}),
		IngestMessages:    prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_messages_total"}),
		IngestErrors:      prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_errors_total"}),
	}
	reg.MustRegister(m.DeparturesFetched, m.DeparturesStored, m.FetchErrors, m.IngestMessages, m.IngestErrors)
	return m
}
