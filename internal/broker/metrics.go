// ABOUTME: Prometheus instrumentation for the broker
// ABOUTME: Counts published messages, overload events, and live connections

package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broker_published_total",
		Help: "Messages delivered to subscriber queues.",
	})

	overloadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broker_overload_total",
		Help: "Publishes that hit the bounded wait on a full subscriber queue.",
	})

	liveConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_broker_live_connections",
		Help: "Currently registered subscriber connections.",
	})
)
