package metrics

import "github.com/prometheus/client_golang/prometheus"

// BroadcasterMetrics exposes subscriber fan-out health.
type BroadcasterMetrics struct {
	dropped     prometheus.Counter
	published   prometheus.Counter
	subscribers prometheus.Gauge
	swept       prometheus.Counter
}

func NewBroadcasterMetrics(reg prometheus.Registerer) *BroadcasterMetrics {
	if reg == nil {
		return &BroadcasterMetrics{}
	}
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcaster_dropped_total",
		Help:      "Status updates dropped because a subscriber buffer was full.",
	})
	published := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcaster_published_total",
		Help:      "Status updates published.",
	})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broadcaster_subscribers",
		Help:      "Currently registered subscribers.",
	})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcaster_swept_total",
		Help:      "Stale subscribers removed by the sweep.",
	})
	reg.MustRegister(dropped, published, subscribers, swept)
	return &BroadcasterMetrics{dropped: dropped, published: published, subscribers: subscribers, swept: swept}
}

func (m *BroadcasterMetrics) Dropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}

func (m *BroadcasterMetrics) Published() {
	if m == nil || m.published == nil {
		return
	}
	m.published.Inc()
}

func (m *BroadcasterMetrics) SetSubscribers(n int) {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *BroadcasterMetrics) Swept(n int) {
	if m == nil || m.swept == nil {
		return
	}
	m.swept.Add(float64(n))
}
