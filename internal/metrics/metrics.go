// Package metrics exposes the gateway's ambient Prometheus surface:
// connection and message counters plus a rate-limit denial counter,
// registered on a caller-supplied registry so tests can instantiate
// gateways without colliding on the process-global default.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every gauge and counter the gateway records.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	MessagesReceived  prometheus.Counter
	MessagesSent      prometheus.Counter
	RateLimitDenied   prometheus.Counter
	BusPublished      prometheus.Counter
	BusReceived       prometheus.Counter
}

// New registers the gateway's metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Number of currently open WebSocket connections on this instance",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_total",
			Help: "Total number of WebSocket connections accepted by this instance",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_received_total",
			Help: "Total inbound client frames dispatched to hub handlers",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_sent_total",
			Help: "Total outbound frames enqueued to local sockets",
		}),
		RateLimitDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ratelimit_denied_total",
			Help: "Total requests denied by the distributed rate limiter",
		}),
		BusPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_bus_published_total",
			Help: "Total messages published to the cross-instance event bus",
		}),
		BusReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_bus_received_total",
			Help: "Total messages received from the cross-instance event bus and dispatched",
		}),
	}
}
