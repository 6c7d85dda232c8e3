package sla

import (
	"github.com/bissquit/incident-pager/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var escalations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "sla",
		Name:      "escalations_total",
		Help:      "Incidents escalated by the SLA watcher",
	},
	[]string{"result"},
)

func recordCheck(escalated, failed int) {
	escalations.WithLabelValues("escalated").Add(float64(escalated))
	escalations.WithLabelValues("failed").Add(float64(failed))
}
