package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReversalMetrics records reversal latency against the per-type SLA.
type ReversalMetrics struct {
	latency  *prometheus.HistogramVec
	breaches *prometheus.CounterVec
	outcomes *prometheus.CounterVec
}

func NewReversalMetrics(reg prometheus.Registerer) *ReversalMetrics {
	if reg == nil {
		return &ReversalMetrics{}
	}
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reversal_latency_seconds",
		Help:      "Time from fraud case creation to completed reversal.",
		Buckets:   []float64{60, 300, 900, 1800, 3600, 4 * 3600, 24 * 3600, 72 * 3600},
	}, []string{"type"})
	breaches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reversal_sla_breaches_total",
		Help:      "Reversals completed outside their SLA window.",
	}, []string{"type"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reversals_total",
		Help:      "Reversal attempts by type and outcome.",
	}, []string{"type", "outcome"})
	reg.MustRegister(latency, breaches, outcomes)
	return &ReversalMetrics{latency: latency, breaches: breaches, outcomes: outcomes}
}

// Completed observes a finished reversal and counts an SLA breach when took exceeds sla.
func (m *ReversalMetrics) Completed(reversalType string, took, sla time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	label := normalizeLabel(reversalType)
	m.latency.WithLabelValues(label).Observe(took.Seconds())
	m.outcomes.WithLabelValues(label, "completed").Inc()
	if sla > 0 && took > sla {
		m.breaches.WithLabelValues(label).Inc()
	}
}

func (m *ReversalMetrics) Failed(reversalType string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(reversalType), "failed").Inc()
}
