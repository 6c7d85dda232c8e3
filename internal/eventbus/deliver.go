package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/bissquit/incident-pager/internal/pkg/metrics"
)

// RetryPolicy controls redelivery of a message whose handler failed.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultRetry doubles the delay from 100ms up to 30s.
var DefaultRetry = RetryPolicy{Initial: 100 * time.Millisecond, Max: 30 * time.Second}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Initial
	if d <= 0 {
		d = DefaultRetry.Initial
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	return d
}

// Deliver hands msg to h until it succeeds or ctx is done.
// A nil return means the message may be committed for the group.
func Deliver(ctx context.Context, group string, h Handler, msg Message, retry RetryPolicy) error {
	for attempt := 1; ; attempt++ {
		err := h(ctx, msg)
		if err == nil {
			metrics.EventsConsumed.WithLabelValues(msg.Topic, group, "ok").Inc()
			return nil
		}
		metrics.EventsConsumed.WithLabelValues(msg.Topic, group, "retry").Inc()

		wait := retry.delay(attempt)
		slog.Warn("event handler failed, redelivering",
			"topic", msg.Topic,
			"group", group,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
