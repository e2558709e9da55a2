// Package telemetry holds the Prometheus collectors for authorization
// decisions. A nil *Metrics records nothing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orgauthz"

const (
	OutcomeAllow     = "allow"
	OutcomeDeny      = "deny"
	OutcomeError     = "error"
	OutcomeAnonymous = "unauthenticated"
)

type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	DecisionDuration   *prometheus.HistogramVec
	PolicyCompilations *prometheus.CounterVec
	PolicyRules        prometheus.Gauge
	StoreErrorsTotal   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them when registerer is
// non-nil.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Authorization decisions by gate and outcome.",
			},
			[]string{"gate", "outcome"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Time spent deciding authorization requests.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"gate"},
		),
		PolicyCompilations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_compilations_total",
				Help:      "Policy engine compilations by result.",
			},
			[]string{"result"},
		),
		PolicyRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "policy_rules",
				Help:      "Number of rules in the active policy.",
			},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Membership store failures observed while deciding.",
			},
			[]string{"operation"},
		),
	}

	if registerer == nil {
		return m, nil
	}
	for _, collector := range []prometheus.Collector{
		m.DecisionsTotal,
		m.DecisionDuration,
		m.PolicyCompilations,
		m.PolicyRules,
		m.StoreErrorsTotal,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveDecision(gate string, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(gate, outcome).Inc()
	m.DecisionDuration.WithLabelValues(gate).Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePolicyCompilation(err error, rules int) {
	if m == nil {
		return
	}
	if err != nil {
		m.PolicyCompilations.WithLabelValues("error").Inc()
		return
	}
	m.PolicyCompilations.WithLabelValues("ok").Inc()
	m.PolicyRules.Set(float64(rules))
}

func (m *Metrics) ObserveStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(operation).Inc()
}
