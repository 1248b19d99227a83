package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofwork",
		Name:      "sessions_created_total",
		Help:      "Sessions created, by experiment group.",
	}, []string{"group"})
	stateUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofwork",
		Name:      "state_updates_total",
		Help:      "Skills ranking state updates, by next phase and result.",
	}, []string{"phase", "result"})
	metricUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofwork",
		Name:      "metric_updates_total",
		Help:      "Effort metric updates, by result.",
	}, []string{"result"})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
