package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instrumentation for a relay server or
// client, registered against an isolated registry so tests never collide
// with the default global one.
type Metrics struct {
	Registry            *prometheus.Registry
	ReservationsActive   prometheus.Gauge
	ReservationsTotal    *prometheus.CounterVec
	CircuitsActive       prometheus.Gauge
	CircuitsTotal        *prometheus.CounterVec
	CircuitBytesRelayed  prometheus.Counter
}

// NewMetrics constructs Metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ReservationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2pcore_relay_reservations_active",
			Help: "Number of reservations currently held at this relay.",
		}),
		ReservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "p2pcore_relay_reservations_total",
			Help: "Total reservation requests by outcome.",
		}, []string{"outcome"}),
		CircuitsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2pcore_relay_circuits_active",
			Help: "Number of circuits currently being relayed.",
		}),
		CircuitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "p2pcore_relay_circuits_total",
			Help: "Total circuit requests by outcome.",
		}, []string{"outcome"}),
		CircuitBytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pcore_relay_circuit_bytes_total",
			Help: "Total bytes relayed across all circuits.",
		}),
	}
	reg.MustRegister(m.ReservationsActive, m.ReservationsTotal, m.CircuitsActive, m.CircuitsTotal, m.CircuitBytesRelayed)
	return m
}
