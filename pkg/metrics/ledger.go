package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks settlement outcomes.
type LedgerMetrics struct {
	settled     *prometheus.CounterVec
	failed      *prometheus.CounterVec
	latency     prometheus.Histogram
	riskScoring *prometheus.CounterVec
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	settled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "transactions_settled_total",
		Help:      "Transactions settled, by currency.",
	}, []string{"currency"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "transactions_failed_total",
		Help:      "Transactions rejected after validation, by error code.",
	}, []string{"code"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "settlement_duration_seconds",
		Help:      "Time from lock acquisition to commit.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
	riskScoring := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "risk_scoring_total",
		Help:      "Asynchronous risk scoring attempts, by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(settled, failed, latency, riskScoring)
	return &LedgerMetrics{settled: settled, failed: failed, latency: latency, riskScoring: riskScoring}
}

func (m *LedgerMetrics) Settled(currency string, took time.Duration) {
	if m == nil || m.settled == nil {
		return
	}
	m.settled.WithLabelValues(normalizeLabel(currency)).Inc()
	m.latency.Observe(took.Seconds())
}

func (m *LedgerMetrics) Failed(code string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(code)).Inc()
}

func (m *LedgerMetrics) RiskScored(outcome string) {
	if m == nil || m.riskScoring == nil {
		return
	}
	m.riskScoring.WithLabelValues(normalizeLabel(outcome)).Inc()
}
