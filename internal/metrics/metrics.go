// Package metrics exposes Prometheus collectors for the storage, write
// pipeline, tenant search and outbox components.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantdb"

// Metrics implements the observer interfaces of the sqlite adapters and the
// use cases. Collectors live on their own registry so tests can build as
// many instances as they like.
type Metrics struct {
	reg *prometheus.Registry

	statements       *prometheus.HistogramVec
	slowStatements   *prometheus.CounterVec
	commits          *prometheus.HistogramVec
	commitErrors     *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	probes           *prometheus.CounterVec
	outbox           *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		statements: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "statement_duration_seconds",
			Help:      "SQL statement duration by operation.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
		slowStatements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_statements_total",
			Help:      "Statements that exceeded the slow threshold.",
		}, []string{"op"}),
		commits: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_transaction_duration_seconds",
			Help:      "Write transaction duration by scope (tenant or master).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),
		commitErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_transaction_errors_total",
			Help:      "Write transactions that rolled back.",
		}, []string{"scope"}),
		dispatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_dispatch_failures_total",
			Help:      "Post-commit event dispatches that returned an error.",
		}, []string{"scope"}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_search_probes_total",
			Help:      "Per-tenant probes made by cross-tenant searches, by outcome.",
		}, []string{"outcome"}),
		outbox: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox publish attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveStatement(op string, d time.Duration, slow bool) {
	m.statements.WithLabelValues(op).Observe(d.Seconds())
	if slow {
		m.slowStatements.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) ObserveCommit(scope string, d time.Duration, err error) {
	m.commits.WithLabelValues(scope).Observe(d.Seconds())
	if err != nil {
		m.commitErrors.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) ObserveDispatchFailure(scope string) {
	m.dispatchFailures.WithLabelValues(scope).Inc()
}

func (m *Metrics) ObserveProbe(outcome string) {
	m.probes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveOutbox(outcome string) {
	m.outbox.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
