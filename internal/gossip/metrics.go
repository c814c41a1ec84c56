package gossip

import (
	m "github.com/vidmesh/vidmesh/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection

	EntriesAdded     prometheus.Counter
	AnnouncesRelayed prometheus.Counter
	SendsFailed      prometheus.Counter
	FeedSize         prometheus.Gauge
	PeersConnected   prometheus.Gauge
}

func newMetrics() metrics {
	subsystem := "gossip"

	return metrics{
		EntriesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "entries_added",
			Help:      "Total feed entries added on first sight.",
		}),
		AnnouncesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "announces_relayed",
			Help:      "Total announces relayed to other peers.",
		}),
		SendsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "sends_failed",
			Help:      "Total sends dropped because a peer channel was stale.",
		}),
		FeedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "feed_size",
			Help:      "Current number of visible feed entries.",
		}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "peers_connected",
			Help:      "Current number of peers with a gossip channel.",
		}),
	}
}

func (d *Directory) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(d.metrics)
}
