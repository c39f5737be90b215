package metrics

import "github.com/prometheus/client_golang/prometheus"

// Cart flush outcomes.
const (
	CartFlushSynced   = "synced"
	CartFlushConflict = "conflict"
	CartFlushPending  = "pending"
	CartFlushFailed   = "failed"
)

// CartMetrics tracks the write-through cart sync path.
type CartMetrics struct {
	flushes   *prometheus.CounterVec
	opsFolded prometheus.Counter
	cache     *prometheus.CounterVec
}

// NewCartMetrics registers the cart sync metrics on reg.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	flushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cart",
		Name:      "flush_total",
		Help:      "Cart flush attempts by outcome.",
	}, []string{"outcome"})
	folded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cart",
		Name:      "ops_folded_total",
		Help:      "Pending cart operations folded into stored documents.",
	})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cart",
		Name:      "cache_lookups_total",
		Help:      "Cart cache lookups by result.",
	}, []string{"result"})
	reg.MustRegister(flushes, folded, cache)
	return &CartMetrics{flushes: flushes, opsFolded: folded, cache: cache}
}

// ObserveFlush counts a flush outcome.
func (m *CartMetrics) ObserveFlush(outcome string) {
	if m == nil || m.flushes == nil {
		return
	}
	m.flushes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AddFolded counts operations folded into the stored document.
func (m *CartMetrics) AddFolded(n int) {
	if m == nil || m.opsFolded == nil || n <= 0 {
		return
	}
	m.opsFolded.Add(float64(n))
}

// ObserveCache counts a cache hit or miss.
func (m *CartMetrics) ObserveCache(hit bool) {
	if m == nil || m.cache == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}
