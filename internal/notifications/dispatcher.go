package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/pkg/ctxlog"
)

// DefaultSinkTimeout bounds a single sink call when none is configured.
const DefaultSinkTimeout = 5 * time.Second

// Result is the outcome of one route.
type Result struct {
	Route   Route
	Address string
	Err     error
}

// Dispatcher fans incident events out to sinks according to a routing table.
type Dispatcher struct {
	senders     Senders
	routes      Routes
	targets     Targets
	renderer    *Renderer
	sinkTimeout time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRoutes replaces the default routing table.
func WithRoutes(routes Routes) DispatcherOption {
	return func(d *Dispatcher) { d.routes = routes }
}

// WithTargets replaces the default audience addresses.
func WithTargets(targets Targets) DispatcherOption {
	return func(d *Dispatcher) { d.targets = targets }
}

// WithSinkTimeout bounds every sink call. Non-positive values keep the default.
func WithSinkTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sinkTimeout = timeout
		}
	}
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(senders Senders, renderer *Renderer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		senders:     senders,
		routes:      DefaultRoutes(),
		targets:     DefaultTargets(),
		renderer:    renderer,
		sinkTimeout: DefaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers event over every route configured for its type. Routes run
// concurrently and independently; a failing sink never affects the others.
// Failures are logged and counted and reported in the returned results, never
// as an error. The error is only set when the event cannot be rendered.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.IncidentEvent) ([]Result, error) {
	log := ctxlog.FromContext(ctx).With(
		"event_id", event.EventID,
		"event_type", event.EventType,
		"incident_number", event.IncidentNumber,
	)

	routes := d.routes[event.EventType]
	if len(routes) == 0 {
		recordEvent(string(event.EventType), "skipped")
		log.Debug("no routes for event type")
		return nil, nil
	}

	msg, err := d.renderer.Render(event)
	if err != nil {
		recordEvent(string(event.EventType), "render_failed")
		return nil, fmt.Errorf("render event: %w", err)
	}

	results := make([]Result, len(routes))
	var wg sync.WaitGroup
	for i, route := range routes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.deliver(ctx, log, route, msg)
		}()
	}
	wg.Wait()

	recordEvent(string(event.EventType), "dispatched")
	return results, nil
}

func (d *Dispatcher) deliver(ctx context.Context, log *slog.Logger, route Route, msg Message) Result {
	res := Result{Route: route}

	addr, ok := d.targets.Address(route)
	if !ok {
		res.Err = fmt.Errorf("%s/%s: %w", route.Sink, route.Audience, ErrNoAddress)
		recordSent(route.Sink, res.Err)
		log.Warn("notification not routed", "sink", route.Sink, "audience", route.Audience, "error", res.Err)
		return res
	}
	res.Address = addr

	ctx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
	defer cancel()

	start := time.Now()
	res.Err = d.send(ctx, route.Sink, addr, msg)
	recordDuration(route.Sink, time.Since(start))
	recordSent(route.Sink, res.Err)

	if res.Err != nil {
		log.Error("failed to send notification",
			"sink", route.Sink,
			"audience", route.Audience,
			"target", addr,
			"kind", failureKind(res.Err),
			"error", res.Err,
		)
		return res
	}

	log.Info("notification sent", "sink", route.Sink, "audience", route.Audience, "target", addr)
	return res
}

func (d *Dispatcher) send(ctx context.Context, sink Sink, addr string, msg Message) error {
	switch sink {
	case SinkEmail:
		if d.senders.Email == nil {
			return fmt.Errorf("%s: %w", sink, ErrNoSender)
		}
		return d.senders.Email.SendEmail(ctx, addr, msg.Subject, msg.Text(sink))
	case SinkSMS:
		if d.senders.SMS == nil {
			return fmt.Errorf("%s: %w", sink, ErrNoSender)
		}
		return d.senders.SMS.SendSMS(ctx, addr, msg.Text(sink))
	case SinkChat:
		if d.senders.Chat == nil {
			return fmt.Errorf("%s: %w", sink, ErrNoSender)
		}
		return d.senders.Chat.SendChat(ctx, addr, msg.Text(sink))
	default:
		return fmt.Errorf("unknown sink %q: %w", sink, ErrNoSender)
	}
}
