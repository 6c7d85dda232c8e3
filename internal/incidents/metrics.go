package incidents

import (
	"errors"

	"github.com/bissquit/incident-pager/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "incidents",
			Name:      "operations_total",
			Help:      "Lifecycle operations by outcome",
		},
		[]string{"operation", "result"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "incidents",
			Name:      "cache_lookups_total",
			Help:      "Incident cache lookups by result",
		},
		[]string{"result"},
	)

	eventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "incidents",
			Name:      "event_publish_failures_total",
			Help:      "Incident events that could not be published",
		},
		[]string{"event_type"},
	)
)

func recordOperation(operation string, err error) {
	result := "success"
	switch {
	case err == nil:
	case IsNotFound(err):
		result = "not_found"
	case errors.Is(err, ErrInvalidTransition):
		result = "invalid_transition"
	case errors.Is(err, ErrValidation):
		result = "validation_error"
	case errors.Is(err, ErrConditionNotMet):
		result = "skipped"
	default:
		result = "error"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}

func recordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

func recordPublishFailure(eventType string) {
	eventPublishFailures.WithLabelValues(eventType).Inc()
}
