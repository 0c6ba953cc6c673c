package broker

import (
	"github.com/Thejuampi/minibroker/internal/topicstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "minibroker"

// metrics are registered on a per-server registry so several servers can
// coexist in one process (tests do).
type metrics struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	requests            *prometheus.CounterVec
	publishAccepted     prometheus.Counter
	publishDuplicates   prometheus.Counter
	pushDelivered       prometheus.Counter
	pushDropped         prometheus.Counter
	truncations         prometheus.Counter
	slowConsumers       prometheus.Counter
}

func newMetrics(store *topicstore.Store) *metrics {
	var registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var factory = promauto.With(registry)

	m := &metrics{
		registry: registry,
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted over TCP and WebSocket.",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Currently registered connections.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests handled, by command.",
		}, []string{"command"}),
		publishAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publish_accepted_total",
			Help:      "Publishes appended to a topic log.",
		}),
		publishDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publish_duplicates_total",
			Help:      "Publishes dropped because the message ID was seen before.",
		}),
		pushDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "push_delivered_total",
			Help:      "Push notifications queued to subscribers.",
		}),
		pushDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "push_dropped_total",
			Help:      "Push notifications dropped because a subscriber queue was full.",
		}),
		truncations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "log_truncations_total",
			Help:      "Topic logs cleared by retention.",
		}),
		slowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "slow_consumer_disconnects_total",
			Help:      "Connections closed because a reply could not be queued.",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "dedupe_ids",
		Help:      "Message IDs held by the deduplication set.",
	}, func() float64 {
		return float64(store.Stats().DedupeIDs)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "topics",
		Help:      "Known topics.",
	}, func() float64 {
		return float64(store.Stats().Topics)
	})

	return m
}
