package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "council"

// Metrics groups the engine's Prometheus collectors on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	ProposalsCreated  prometheus.Counter
	ProposalsResolved *prometheus.CounterVec
	VotesCast         *prometheus.CounterVec
	XPAwarded         prometheus.Counter
	CommandErrors     *prometheus.CounterVec
	OpenProposals     prometheus.Gauge
	TickDuration      prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ProposalsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "proposals_created_total",
			Help:      "Proposals opened after a criticality choice.",
		}),
		ProposalsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "proposals_resolved_total",
			Help:      "Proposals resolved, by final status.",
		}, []string{"status"}),
		VotesCast: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "votes_total",
			Help:      "Vote mutations, by kind (yes, no, lock).",
		}, []string{"kind"}),
		XPAwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "xp_awarded_total",
			Help:      "Experience points granted to voters.",
		}),
		CommandErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "command_errors_total",
			Help:      "Commands that ended in an error, by command.",
		}, []string{"command"}),
		OpenProposals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "open_proposals",
			Help:      "Open proposals seen by the last deadline sweep.",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "deadline_tick_seconds",
			Help:      "Duration of deadline sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
