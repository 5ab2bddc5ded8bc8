// Package metrics defines the Prometheus collectors exported by the chat
// server. Each Registry owns its own prometheus.Registry so tests can build
// as many as they like without colliding on the global default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery results recorded by the fan-out.
const (
	ResultDelivered = "delivered"
	ResultOffline   = "offline"
	ResultDropped   = "dropped"
)

// Registry groups every collector used by the server.
type Registry struct {
	reg *prometheus.Registry

	ConnectionsActive  prometheus.Gauge
	UsersOnline        prometheus.Gauge
	HandshakesRejected *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	HeartbeatsReaped   prometheus.Counter
	FramesReceived     *prometheus.CounterVec
	FramesRateLimited  prometheus.Counter
	TypingExpired      prometheus.Counter
}

// New creates a Registry with all collectors registered, including the Go
// runtime and process collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gochat_connections_active",
			Help: "Number of open WebSocket connections, including superseded ones not yet reaped",
		}),
		UsersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gochat_users_online",
			Help: "Number of users with a registered connection",
		}),
		HandshakesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_handshakes_rejected_total",
			Help: "WebSocket handshakes rejected, by reason",
		}, []string{"reason"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_deliveries_total",
			Help: "Outbound event deliveries attempted by the fan-out, by result",
		}, []string{"result"}),
		HeartbeatsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gochat_heartbeat_reaped_total",
			Help: "Connections terminated after missing a heartbeat",
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_frames_received_total",
			Help: "Inbound frames routed, by envelope type",
		}, []string{"type"}),
		FramesRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "gochat_frames_rate_limited_total",
			Help: "Inbound frames discarded by the per-connection rate limiter",
		}),
		TypingExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "gochat_typing_expired_total",
			Help: "Typing sessions stopped by timeout rather than an explicit stop",
		}),
	}
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
