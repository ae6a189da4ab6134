package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the execution core.
type Metrics struct {
	// Run metrics
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram

	// Node metrics
	nodesTotal   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	retriesTotal *prometheus.CounterVec

	// Governance metrics
	policyDenials      *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec

	// Ledger metrics
	auditEntriesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequor_runs_total",
				Help: "Total graph runs by final status",
			},
			[]string{"status"},
		),

		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sequor_run_duration_seconds",
				Help:    "Wall-clock duration of graph runs",
				Buckets: prometheus.DefBuckets,
			},
		),

		nodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequor_nodes_total",
				Help: "Total node executions by operation and outcome",
			},
			[]string{"operation", "status"},
		),

		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sequor_node_duration_seconds",
				Help:    "Node invocation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequor_retries_total",
				Help: "Retry attempts by operation",
			},
			[]string{"operation"},
		),

		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequor_policy_denials_total",
				Help: "Admission denials by rule id",
			},
			[]string{"rule"},
		),

		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequor_breaker_transitions_total",
				Help: "Circuit breaker state transitions by operation and new state",
			},
			[]string{"operation", "state"},
		),

		auditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequor_audit_entries_total",
				Help: "Ledger entries appended by action kind",
			},
			[]string{"action"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.nodesTotal,
		m.nodeDuration,
		m.retriesTotal,
		m.policyDenials,
		m.breakerTransitions,
		m.auditEntriesTotal,
	)

	return m
}

// RecordRun records the completion of one graph run.
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordNode records one node execution.
func (m *Metrics) RecordNode(operation, status string, duration time.Duration) {
	m.nodesTotal.WithLabelValues(operation, status).Inc()
	if duration > 0 {
		m.nodeDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordRetries adds retry attempts consumed by an operation.
func (m *Metrics) RecordRetries(operation string, count int) {
	if count > 0 {
		m.retriesTotal.WithLabelValues(operation).Add(float64(count))
	}
}

// RecordPolicyDenial counts an admission denial by its rule id.
func (m *Metrics) RecordPolicyDenial(rule string) {
	m.policyDenials.WithLabelValues(rule).Inc()
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(operation, state string) {
	m.breakerTransitions.WithLabelValues(operation, state).Inc()
}

// RecordAuditEntry counts a ledger append.
func (m *Metrics) RecordAuditEntry(action string) {
	m.auditEntriesTotal.WithLabelValues(action).Inc()
}

// Handler returns the HTTP handler exposing this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for embedding applications.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
