package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "sectionnet"

// Metrics are the prometheus collectors of a node. Each node registers them
// on its own registry so that several nodes can run in one process.
type Metrics struct {
	Generation  prometheus.Gauge
	Members     prometheus.Gauge
	Elders      prometheus.Gauge
	Messages    *prometheus.CounterVec
	Decisions   *prometheus.CounterVec
	DkgSessions *prometheus.CounterVec
	Approvals   prometheus.Counter
	Relocations prometheus.Counter
	SendErrors  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "section_generation",
			Help:      "Generation of the current section authority.",
		}),
		Members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "section_members",
			Help:      "Number of joined members of the section.",
		}),
		Elders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "section_elders",
			Help:      "Number of elders in the current section authority.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Messages received, by kind.",
		}, []string{"kind"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decisions_total",
			Help:      "Membership decisions committed, by proposal kind.",
		}, []string{"kind"}),
		DkgSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dkg_sessions_total",
			Help:      "Key generation sessions, by outcome.",
		}, []string{"outcome"}),
		Approvals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "join_approvals_total",
			Help:      "Candidates approved while this node was an elder.",
		}),
		Relocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relocations_total",
			Help:      "Members voted out as relocated while this node was an elder.",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_errors_total",
			Help:      "Messages that could not be delivered.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Generation,
			m.Members,
			m.Elders,
			m.Messages,
			m.Decisions,
			m.DkgSessions,
			m.Approvals,
			m.Relocations,
			m.SendErrors,
		)
	}

	return m
}
