package seedcache

import (
	m "github.com/vidmesh/vidmesh/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection

	SeedsAdded   prometheus.Counter
	SeedsEvicted prometheus.Counter
	BytesUsed    prometheus.Gauge
}

func newMetrics() metrics {
	subsystem := "seedcache"

	return metrics{
		SeedsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "seeds_added",
			Help:      "Total seed records inserted.",
		}),
		SeedsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "seeds_evicted",
			Help:      "Total seed records evicted by quota or channel limits.",
		}),
		BytesUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "bytes_used",
			Help:      "Current bytes of content kept seeding.",
		}),
	}
}

func (c *Cache) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}
