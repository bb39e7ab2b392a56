// Package metrics exposes Prometheus collectors for the guard pipeline, the
// phase engine, and the policy guard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	validations        *prometheus.CounterVec
	validationDuration prometheus.Histogram
	guardFailures      *prometheus.CounterVec
	policyDecisions    *prometheus.CounterVec
	cycleEvents        *prometheus.CounterVec
	activeCycles       prometheus.Gauge
	phaseTransitions   *prometheus.CounterVec
	sinkErrors         *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turngov_validations_total",
				Help: "Total number of turn documents validated",
			},
			[]string{"result"},
		),
		validationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turngov_validation_duration_seconds",
				Help:    "Time spent running the guard pipeline",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		guardFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turngov_guard_failures_total",
				Help: "Total number of guard failures",
			},
			[]string{"guard"},
		),
		policyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turngov_policy_decisions_total",
				Help: "Total number of operation policy decisions",
			},
			[]string{"operation", "outcome"},
		),
		cycleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turngov_cycle_events_total",
				Help: "Total number of compliance cycle events",
			},
			[]string{"event"},
		),
		activeCycles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "turngov_active_cycles",
				Help: "Compliance cycles currently tracked",
			},
		),
		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turngov_phase_transitions_total",
				Help: "Total number of applied phase transitions",
			},
			[]string{"to"},
		),
		sinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turngov_sink_errors_total",
				Help: "Total number of swallowed audit sink errors",
			},
			[]string{"sink"},
		),
	}
	m.registry.MustRegister(
		m.validations,
		m.validationDuration,
		m.guardFailures,
		m.policyDecisions,
		m.cycleEvents,
		m.activeCycles,
		m.phaseTransitions,
		m.sinkErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveValidation(valid bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.validations.WithLabelValues(result).Inc()
	m.validationDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) GuardFailed(guardID string) {
	if m == nil {
		return
	}
	m.guardFailures.WithLabelValues(guardID).Inc()
}

// PolicyDecision counts one decision. Outcome is "forbidden", "confirm",
// or "allowed".
func (m *Metrics) PolicyDecision(operation, outcome string) {
	if m == nil {
		return
	}
	m.policyDecisions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) CycleEvent(event string) {
	if m == nil {
		return
	}
	m.cycleEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveCycles(n int) {
	if m == nil {
		return
	}
	m.activeCycles.Set(float64(n))
}

func (m *Metrics) PhaseTransition(to string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}
