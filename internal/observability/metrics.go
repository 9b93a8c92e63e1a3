package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. Each Metrics owns its
// own registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	HandshakesRejected  *prometheus.CounterVec
	PacketsReceived     prometheus.Counter
	PacketsSent         prometheus.Counter
	DeliveryErrors      prometheus.Counter
	DecodeErrors        *prometheus.CounterVec
	BusLaggedEvents     prometheus.Counter
	PlayersOnline       prometheus.Gauge
	ConnectionsOpen     prometheus.Gauge
	DatabaseUp          prometheus.Gauge
}

// NewMetrics creates and registers all gateway collectors.
//
// Postcondition: Returns a Metrics whose collectors are registered on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floe",
			Name:      "connections_accepted_total",
			Help:      "TCP connections accepted by the listener.",
		}),
		HandshakesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floe",
			Name:      "handshakes_rejected_total",
			Help:      "Handshakes that did not produce an authenticated player.",
		}, []string{"reason"}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floe",
			Name:      "packets_received_total",
			Help:      "XT packets decoded from authenticated connections.",
		}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floe",
			Name:      "packets_sent_total",
			Help:      "XT packets queued for authenticated connections.",
		}),
		DeliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floe",
			Name:      "delivery_errors_total",
			Help:      "Outbound packets that could not be delivered.",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floe",
			Name:      "decode_errors_total",
			Help:      "Inbound frames that failed to decode, by layer.",
		}, []string{"layer"}),
		BusLaggedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floe",
			Name:      "bus_lagged_events_total",
			Help:      "Events dropped for subscribers that fell behind.",
		}),
		PlayersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floe",
			Name:      "players_online",
			Help:      "Players present in the server state.",
		}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floe",
			Name:      "connections_registered",
			Help:      "Authenticated connections in the registry.",
		}),
		DatabaseUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floe",
			Name:      "database_up",
			Help:      "1 if the last account database health check succeeded.",
		}),
	}

	m.registry.MustRegister(
		m.ConnectionsAccepted,
		m.HandshakesRejected,
		m.PacketsReceived,
		m.PacketsSent,
		m.DeliveryErrors,
		m.DecodeErrors,
		m.BusLaggedEvents,
		m.PlayersOnline,
		m.ConnectionsOpen,
		m.DatabaseUp,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler returns the HTTP handler exposing the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
