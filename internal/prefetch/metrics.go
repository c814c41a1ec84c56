package prefetch

import (
	m "github.com/vidmesh/vidmesh/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection

	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	CacheHits         prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "prefetch"

	return metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "sessions_started",
			Help:      "Total download sessions started.",
		}),
		SessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "sessions_completed",
			Help:      "Total download sessions that reached completion.",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "sessions_failed",
			Help:      "Total download sessions ending in an error.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "cache_hits",
			Help:      "Total starts satisfied entirely from local blocks.",
		}),
	}
}

func (t *Tracker) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(t.metrics)
}
