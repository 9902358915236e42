package metrics

import "github.com/prometheus/client_golang/prometheus"

// BettingMetrics holds Prometheus metrics for betting pools and settlement.
type BettingMetrics struct {
	PoolsCreated       prometheus.Counter
	Stakes             *prometheus.CounterVec
	StakeVolume        prometheus.Counter
	Terminations       *prometheus.CounterVec
	SettlementsQueued  prometheus.Gauge
	SettlementsWritten *prometheus.CounterVec
}

// NewBettingMetrics creates and registers betting metrics on the given registry.
func NewBettingMetrics(reg prometheus.Registerer) *BettingMetrics {
	m := &BettingMetrics{
		PoolsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betting",
			Name:      "pools_created_total",
			Help:      "Total number of betting pools created.",
		}),
		Stakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betting",
			Name:      "stakes_total",
			Help:      "Total number of stake attempts, by result code.",
		}, []string{"result"}),
		StakeVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betting",
			Name:      "stake_volume_minor_units_total",
			Help:      "Sum of accepted stake amounts in minor units.",
		}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betting",
			Name:      "terminations_total",
			Help:      "Total number of pools reaching a terminal state, by status.",
		}, []string{"status"}),
		SettlementsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "queue_depth",
			Help:      "Number of outcomes waiting to be written to the ledger.",
		}),
		SettlementsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "writes_total",
			Help:      "Total number of ledger writes, by kind and result.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(m.PoolsCreated, m.Stakes, m.StakeVolume, m.Terminations, m.SettlementsQueued, m.SettlementsWritten)
	return m
}
