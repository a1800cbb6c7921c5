package plumtree

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instrumentation for a Router, registered
// against an isolated registry.
type Metrics struct {
	Registry         *prometheus.Registry
	MessagesReceived *prometheus.CounterVec
	GraftsTotal      prometheus.Counter
	PrunesTotal      prometheus.Counter
	EagerPeers       *prometheus.GaugeVec
	LazyPeers        *prometheus.GaugeVec
}

// NewMetrics constructs Metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "p2pcore_plumtree_messages_total",
			Help: "Total gossip messages processed by outcome.",
		}, []string{"outcome"}),
		GraftsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pcore_plumtree_grafts_total",
			Help: "Total GRAFT messages sent.",
		}),
		PrunesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pcore_plumtree_prunes_total",
			Help: "Total PRUNE messages sent.",
		}),
		EagerPeers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "p2pcore_plumtree_eager_peers",
			Help: "Number of eager peers per topic.",
		}, []string{"topic"}),
		LazyPeers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "p2pcore_plumtree_lazy_peers",
			Help: "Number of lazy peers per topic.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.MessagesReceived, m.GraftsTotal, m.PrunesTotal, m.EagerPeers, m.LazyPeers)
	return m
}
