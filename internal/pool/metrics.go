package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Connection Pool's Prometheus instrumentation on an
// isolated registry, matching pkg/p2pnet/metrics.go's pattern of never
// registering against the global default registry.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveConnections   *prometheus.GaugeVec
	ReconnectTotal      *prometheus.CounterVec
	TrimmedTotal        prometheus.Counter
	HealthCheckFailures prometheus.Counter
	GateDecisionsTotal  *prometheus.CounterVec
}

// NewMetrics constructs and registers the pool's metric family on a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "p2pcore",
			Subsystem: "pool",
			Name:      "active_connections",
			Help:      "Connected entries tracked by the connection pool, by direction.",
		}, []string{"direction"}),
		ReconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2pcore",
			Subsystem: "pool",
			Name:      "reconnect_total",
			Help:      "Reconnect attempts by outcome (success, failure).",
		}, []string{"result"}),
		TrimmedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2pcore",
			Subsystem: "pool",
			Name:      "trimmed_total",
			Help:      "Connections removed by watermark trimming.",
		}),
		HealthCheckFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2pcore",
			Subsystem: "pool",
			Name:      "health_check_failures_total",
			Help:      "Peers that crossed the health-check failure threshold.",
		}),
		GateDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2pcore",
			Subsystem: "pool",
			Name:      "gate_decisions_total",
			Help:      "ConnectionGater decisions by stage and result.",
		}, []string{"stage", "result"}),
	}
	reg.MustRegister(m.ActiveConnections, m.ReconnectTotal, m.TrimmedTotal, m.HealthCheckFailures, m.GateDecisionsTotal)
	return m
}
