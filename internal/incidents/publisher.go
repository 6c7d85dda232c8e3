package incidents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/eventbus"
)

// DefaultEventsTopic is the topic incident events are published to.
const DefaultEventsTopic = "incident-events"

// EventPublisher emits incident events.
type EventPublisher interface {
	PublishIncidentEvent(ctx context.Context, event domain.IncidentEvent) error
}

// BusPublisher publishes incident events as JSON keyed by incident number,
// which keeps every incident's events in one partition.
type BusPublisher struct {
	bus   eventbus.Publisher
	topic string
}

// NewBusPublisher creates a publisher writing to topic.
func NewBusPublisher(bus eventbus.Publisher, topic string) *BusPublisher {
	if topic == "" {
		topic = DefaultEventsTopic
	}
	return &BusPublisher{bus: bus, topic: topic}
}

// PublishIncidentEvent serializes and publishes the event.
func (p *BusPublisher) PublishIncidentEvent(ctx context.Context, event domain.IncidentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal incident event: %w", err)
	}
	if err := p.bus.Publish(ctx, p.topic, event.IncidentNumber, payload); err != nil {
		return fmt.Errorf("publish incident event: %w", err)
	}
	return nil
}
