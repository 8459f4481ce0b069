package gc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the Prometheus collectors of a heap.
type metrics struct {
	gatherer prometheus.Gatherer

	allocated   prometheus.Counter
	pinned      prometheus.Gauge
	collections *prometheus.CounterVec
	pauses      prometheus.Histogram
}

// newMetrics registers the heap collectors on reg. A nil reg means a
// private registry, available through Heap.Gatherer.
func newMetrics(h *Heap, reg prometheus.Registerer) *metrics {
	m := &metrics{
		allocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yoggc",
			Name:      "allocated_bytes_total",
			Help:      "Bytes allocated, headers included.",
		}),
		pinned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "yoggc",
			Name:      "pinned_handles",
			Help:      "Live entries of the pin table.",
		}),
		collections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yoggc",
			Name:      "collections_total",
			Help:      "Completed collections by kind.",
		}, []string{"kind"}),
		pauses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "yoggc",
			Name:      "pause_seconds",
			Help:      "Stop-the-world pause of each collection.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
	// The gauge functions run under the registry, outside of heap calls,
	// so they take the heap lock.
	live := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "yoggc",
		Name:      "live_bytes",
		Help:      "Bytes occupied by objects.",
	}, func() float64 {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, inUse := h.c.usage()
		return float64(inUse)
	})
	heap := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "yoggc",
		Name:      "heap_bytes",
		Help:      "Bytes reserved for the heap.",
	}, func() float64 {
		h.mu.Lock()
		defer h.mu.Unlock()
		sys, _ := h.c.usage()
		return float64(sys)
	})

	if reg == nil {
		r := prometheus.NewRegistry()
		reg, m.gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	for _, c := range []prometheus.Collector{m.allocated, m.pinned, m.collections, m.pauses, live, heap} {
		if err := reg.Register(c); err != nil {
			h.log.Warn("Cannot register metric", "err", err)
		}
	}
	return m
}

func (m *metrics) observe(minor bool, pause time.Duration) {
	kind := "major"
	if minor {
		kind = "minor"
	}
	m.collections.WithLabelValues(kind).Inc()
	m.pauses.Observe(pause.Seconds())
}

// Gatherer returns the registry the heap metrics are registered on, or
// nil when Options.Registerer is not a Gatherer.
func (h *Heap) Gatherer() prometheus.Gatherer {
	return h.metrics.gatherer
}
