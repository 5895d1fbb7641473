package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step attempt outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeForced    = "forced_failure"
	OutcomeFailed    = "failed"
)

// Metrics are the fee saga's Prometheus collectors.
type Metrics struct {
	StepAttempts *prometheus.CounterVec
	Sagas        *prometheus.CounterVec
	Duration     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feesaga_step_attempts_total",
			Help: "Attempts of retry-wrapped saga steps by outcome.",
		}, []string{"step", "outcome"}),
		Sagas: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feesaga_sagas_total",
			Help: "Fee saga invocations by outcome.",
		}, []string{"outcome"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "feesaga_saga_duration_seconds",
			Help:    "Time spent in one fee saga invocation.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

func (m *Metrics) stepAttempt(step, outcome string) {
	m.StepAttempts.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) saga(outcome string, started time.Time) {
	m.Sagas.WithLabelValues(outcome).Inc()
	m.Duration.Observe(time.Since(started).Seconds())
}
