// Package metrics exposes Prometheus collectors for transitions and tool adapters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "statecore"

// Transition outcome labels
const (
	OutcomeCommitted   = "committed"
	OutcomeRejected    = "rejected"
	OutcomeNotFound    = "not_found"
	OutcomeConflict    = "conflict"
	OutcomeTransaction = "transaction_error"
)

// Metrics holds every collector the core records into.
// All methods are safe on a nil receiver so instrumentation stays optional.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	PublishFailures    *prometheus.CounterVec
	AdapterExecutions  *prometheus.CounterVec
	AdapterDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg when reg is non-nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transition attempts by entity type, event and outcome.",
		}, []string{"entity_type", "event", "outcome"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Latency of ExecuteTransition including the commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity_type", "outcome"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Domain events that could not be published after commit.",
		}, []string{"entity_type"}),
		AdapterExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_executions_total",
			Help:      "Tool adapter executions by adapter type and result.",
		}, []string{"adapter_type", "result"}),
		AdapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_execution_duration_seconds",
			Help:      "Latency of tool adapter executions.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"adapter_type"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TransitionsTotal,
			m.TransitionDuration,
			m.PublishFailures,
			m.AdapterExecutions,
			m.AdapterDuration,
		)
	}
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveTransition records one transition attempt
func (m *Metrics) ObserveTransition(entityType, event, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(entityType, event, outcome).Inc()
	m.TransitionDuration.WithLabelValues(entityType, outcome).Observe(d.Seconds())
}

// ObservePublishFailure records an event that was committed but not published
func (m *Metrics) ObservePublishFailure(entityType string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(entityType).Inc()
}

// ObserveAdapter records one adapter execution
func (m *Metrics) ObserveAdapter(adapterType string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.AdapterExecutions.WithLabelValues(adapterType, result).Inc()
	m.AdapterDuration.WithLabelValues(adapterType).Observe(d.Seconds())
}
