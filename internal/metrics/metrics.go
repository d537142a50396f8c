package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Reconciliations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roster", Name: "reconciliations_total", Help: "Applied roster updates",
	})
	RosterOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster", Name: "student_outcomes_total", Help: "Per-student reconciliation outcomes",
	}, []string{"outcome"})
	Compensations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roster", Name: "join_compensations_total", Help: "Joins reverted after losing the capacity race",
	})
	LifecycleTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster", Name: "lifecycle_transitions_total", Help: "Applied lifecycle transitions",
	}, []string{"entity", "mode"})
	PolicyDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster", Name: "policy_denials_total", Help: "Lifecycle transitions denied by policy",
	}, []string{"entity", "mode"})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roster", Name: "handler_errors_total", Help: "HTTP handler system errors",
	})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roster", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Reconciliations, RosterOutcomes, Compensations,
		LifecycleTransitions, PolicyDenials, HandlerErrors, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }
