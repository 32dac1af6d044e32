package app

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	sessionsCreated  prometheus.Counter
	answers          *prometheus.CounterVec
	roundAdvances    *prometheus.CounterVec
	versionConflicts prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trivia",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trivia",
			Name:      "answers_total",
			Help:      "Answers recorded, by correctness and source.",
		}, []string{"correct", "source"}),
		roundAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trivia",
			Name:      "round_advances_total",
			Help:      "Round advances, by trigger.",
		}, []string{"trigger"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trivia",
			Name:      "session_version_conflicts_total",
			Help:      "Optimistic concurrency conflicts on session writes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sessionsCreated, m.answers, m.roundAdvances, m.versionConflicts)
	}
	return m
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
