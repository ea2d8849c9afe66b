// Package metrics exposes the prometheus collectors of the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections",
		Help: "Authenticated websocket connections in the registry.",
	})

	Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_evictions_total",
		Help: "Connections closed because the same user authenticated again.",
	})

	// Messages counts persisted messages by the path that created them.
	Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Messages persisted, by creation path.",
	}, []string{"path"})

	// Pushes counts frames handed to live connections by result
	// (ok, error, absent, queued).
	Pushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_pushes_total",
		Help: "Real-time push attempts, by result.",
	}, []string{"result"})

	Handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_handshakes_total",
		Help: "Websocket auth handshakes, by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(Connections, Evictions, Messages, Pushes, Handshakes)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
