package metrics

import "github.com/prometheus/client_golang/prometheus"

// RedisMetrics holds Prometheus metrics for the Redis event relay.
type RedisMetrics struct {
	Relayed             prometheus.Counter
	RelayDropped        prometheus.Counter
	RelayFailures       prometheus.Counter
	CircuitState        prometheus.Gauge
	CircuitStateChanges *prometheus.CounterVec
}

// NewRedisMetrics creates and registers relay metrics on the given registry.
func NewRedisMetrics(reg prometheus.Registerer) *RedisMetrics {
	m := &RedisMetrics{
		Relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_total",
			Help:      "Total number of events published to Redis.",
		}),
		RelayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Total number of events dropped because the relay queue was full.",
		}),
		RelayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "failures_total",
			Help:      "Total number of failed Redis publishes.",
		}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_state",
			Help:      "Redis circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		CircuitStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_state_changes_total",
			Help:      "Total number of Redis circuit breaker transitions, by new state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.Relayed, m.RelayDropped, m.RelayFailures, m.CircuitState, m.CircuitStateChanges)
	return m
}
