// Package metrics defines the Prometheus collectors exported by the chat server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config selects where and under which names the collectors are registered.
type Config struct {
	// Namespace is the metrics namespace (default: "campuschat").
	Namespace string

	// Registry receives the collectors. Default: a fresh prometheus.Registry.
	Registry prometheus.Registerer
}

// Metrics holds every collector the realtime core updates.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	OnlineUsers       prometheus.Gauge
	Rejections        *prometheus.CounterVec
	MessagesPersisted prometheus.Counter
	SendFailures      *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	DeliveryFailures  *prometheus.CounterVec
	TypingSignals     *prometheus.CounterVec
}

// New registers the collectors on cfg.Registry.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "campuschat"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_connections",
			Help:      "Number of authenticated live WebSocket connections",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "online_users",
			Help:      "Number of users with at least one live connection",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "connection_rejections_total",
			Help:      "Connection attempts rejected before registration",
		}, []string{"reason"}),
		MessagesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "messages_persisted_total",
			Help:      "Direct messages appended to the message log",
		}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "send_failures_total",
			Help:      "Send attempts that failed before fan-out, by error kind",
		}, []string{"kind"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "deliveries_total",
			Help:      "Events enqueued to live connections, by event type",
		}, []string{"event"}),
		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "delivery_failures_total",
			Help:      "Per-connection pushes that were dropped, by event type",
		}, []string{"event"}),
		TypingSignals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "typing_signals_total",
			Help:      "Typing signals routed, by kind",
		}, []string{"kind"}),
	}
}
