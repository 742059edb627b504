package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Entitlement decision outcomes.
const (
	DecisionAllowed  = "allowed"
	DecisionBlocked  = "blocked"
	DecisionDegraded = "degraded"
)

// UsageMetrics tracks AI quota consumption and entitlement checks.
type UsageMetrics struct {
	operations     *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	clamped        prometheus.Counter
	recordFailures prometheus.Counter
	aiLatency      *prometheus.HistogramVec
}

// NewUsageMetrics registers the usage metrics on the provided registerer.
func NewUsageMetrics(reg prometheus.Registerer) *UsageMetrics {
	if reg == nil {
		return &UsageMetrics{}
	}
	m := &UsageMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_operations_total",
			Help:      "AI operations charged against user quotas.",
		}, []string{"kind"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_decisions_total",
			Help:      "Entitlement checks by outcome.",
		}, []string{"result"}),
		clamped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_clamped_total",
			Help:      "Usage accumulators read with a negative counter.",
		}),
		recordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_record_failures_total",
			Help:      "Usage increments that failed to persist.",
		}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Latency of AI provider calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.operations, m.decisions, m.clamped, m.recordFailures, m.aiLatency)
	return m
}

// IncOperation counts one charged AI operation.
func (m *UsageMetrics) IncOperation(kind string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncDecision counts one entitlement decision.
func (m *UsageMetrics) IncDecision(result string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *UsageMetrics) IncClamped() {
	if m == nil || m.clamped == nil {
		return
	}
	m.clamped.Inc()
}

func (m *UsageMetrics) IncRecordFailure() {
	if m == nil || m.recordFailures == nil {
		return
	}
	m.recordFailures.Inc()
}

// ObserveAI records how long a provider call took and how it ended.
func (m *UsageMetrics) ObserveAI(outcome string, duration time.Duration) {
	if m == nil || m.aiLatency == nil {
		return
	}
	m.aiLatency.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}
