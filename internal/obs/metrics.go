// Package obs exposes Prometheus metrics for the chat hub.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks live websocket connections on the hub.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_active",
		Help: "Currently connected chat clients.",
	})

	// MessagesTotal counts messages accepted through the send pipeline.
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_total",
		Help: "Messages classified, persisted, and broadcast.",
	})

	// EventsDropped counts events discarded because a client's outbound
	// buffer was full.
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_events_dropped_total",
		Help: "Outbound events dropped due to slow clients.",
	})

	// HubErrors counts failures surfaced to callers, labeled by kind.
	HubErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_hub_errors_total",
			Help: "Hub operation failures by kind.",
		},
		[]string{"kind"},
	)
)

// Init registers the hub metrics with the default registry. Call once at
// process start.
func Init() {
	prometheus.MustRegister(ConnectionsActive, MessagesTotal, EventsDropped, HubErrors)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
