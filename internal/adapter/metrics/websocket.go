package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for spectator connections and fan-out.
type WebSocketMetrics struct {
	ActiveConnections   prometheus.Gauge
	RejectedConnections *prometheus.CounterVec
	MessagesDelivered   prometheus.Counter
	MessagesDropped     prometheus.Counter
	SendDuration        prometheus.Histogram
	PingFailures        prometheus.Counter
	IdleDisconnects     prometheus.Counter
	Commands            *prometheus.CounterVec
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		RejectedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_connections_total",
			Help:      "Total number of refused WebSocket connections, by reason.",
		}, []string{"reason"}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_delivered_total",
			Help:      "Total number of events enqueued to connection queues.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_dropped_total",
			Help:      "Total number of events dropped because a connection queue was full or closed.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "send_duration_seconds",
			Help:      "Duration of a single WebSocket frame write.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		PingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "ping_failures_total",
			Help:      "Total number of failed keepalive pings.",
		}),
		IdleDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "idle_disconnects_total",
			Help:      "Total number of connections closed for inactivity.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "commands_total",
			Help:      "Total number of inbound commands, by kind and result code.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(m.ActiveConnections, m.RejectedConnections, m.MessagesDelivered, m.MessagesDropped,
		m.SendDuration, m.PingFailures, m.IdleDisconnects, m.Commands)
	return m
}
