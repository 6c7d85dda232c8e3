package notifications

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/eventbus"
	"github.com/bissquit/incident-pager/internal/pkg/ctxlog"
)

// DefaultGroup is the consumer group of the notifier process.
const DefaultGroup = "notification-service"

// Consumer feeds incident events from the bus to a Dispatcher.
type Consumer struct {
	subscriber eventbus.Subscriber
	dispatcher *Dispatcher
	topic      string
	group      string
}

// NewConsumer creates a new consumer. An empty group selects DefaultGroup.
func NewConsumer(subscriber eventbus.Subscriber, dispatcher *Dispatcher, topic, group string) *Consumer {
	if group == "" {
		group = DefaultGroup
	}
	return &Consumer{
		subscriber: subscriber,
		dispatcher: dispatcher,
		topic:      topic,
		group:      group,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("notification consumer started", "topic", c.topic, "group", c.group)
	err := c.subscriber.Subscribe(ctx, c.topic, c.group, c.Handle)
	slog.Info("notification consumer stopped", "topic", c.topic, "group", c.group)
	return err
}

// Handle dispatches one message. It never asks for redelivery: undecodable
// messages are skipped and sink failures are final.
func (c *Consumer) Handle(ctx context.Context, msg eventbus.Message) error {
	ctx = ctxlog.With(ctx,
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", msg.Key,
	)

	var event domain.IncidentEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		recordEvent("unknown", "undecodable")
		ctxlog.FromContext(ctx).Error("skipping undecodable event", "error", err)
		return nil
	}

	ctx = ctxlog.With(ctx, "event_id", event.EventID, "event_type", event.EventType)
	if _, err := c.dispatcher.Dispatch(ctx, event); err != nil {
		ctxlog.FromContext(ctx).Error("failed to dispatch event", "error", err)
	}
	return nil
}
