package notifications

import (
	"time"

	"github.com/bissquit/incident-pager/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total sink deliveries by outcome",
		},
		[]string{"sink", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver one notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"sink"},
	)

	eventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "events_total",
			Help:      "Incident events seen by the dispatcher. Sum of sent_total per routed event should match the route count.",
		},
		[]string{"event_type", "result"},
	)
)

func recordSent(sink Sink, err error) {
	status := "sent"
	if err != nil {
		status = failureKind(err)
	}
	notificationsSent.WithLabelValues(string(sink), status).Inc()
}

func recordDuration(sink Sink, d time.Duration) {
	notificationSendDuration.WithLabelValues(string(sink)).Observe(d.Seconds())
}

func recordEvent(eventType, result string) {
	eventsDispatched.WithLabelValues(eventType, result).Inc()
}
