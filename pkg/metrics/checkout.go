package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics tracks checkout submissions and order lifecycle moves.
type CheckoutMetrics struct {
	results     *prometheus.CounterVec
	duration    prometheus.Histogram
	transitions *prometheus.CounterVec
}

// NewCheckoutMetrics registers checkout metrics on reg.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "submissions_total",
		Help:      "Checkout submissions by source and result.",
	}, []string{"source", "result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "duration_seconds",
		Help:      "Checkout transaction duration.",
		Buckets:   prometheus.DefBuckets,
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "status_transitions_total",
		Help:      "Order status transitions by target status.",
	}, []string{"status"})
	reg.MustRegister(results, duration, transitions)
	return &CheckoutMetrics{results: results, duration: duration, transitions: transitions}
}

// ObserveSubmission records a checkout attempt.
func (m *CheckoutMetrics) ObserveSubmission(source, result string, took time.Duration) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
	m.duration.Observe(took.Seconds())
}

// ObserveTransition counts an order reaching status.
func (m *CheckoutMetrics) ObserveTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}
