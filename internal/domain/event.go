package domain

import "time"

// EventType identifies the kind of incident mutation an event describes.
type EventType string

// Event types.
const (
	EventTypeCreated      EventType = "CREATED"
	EventTypeUpdated      EventType = "UPDATED"
	EventTypeAcknowledged EventType = "ACKNOWLEDGED"
	EventTypeResolved     EventType = "RESOLVED"
	EventTypeEscalated    EventType = "ESCALATED"
	EventTypeAssigned     EventType = "ASSIGNED"
	EventTypeClosed       EventType = "CLOSED"
)

// IsValid checks if the event type is known.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeCreated, EventTypeUpdated, EventTypeAcknowledged, EventTypeResolved,
		EventTypeEscalated, EventTypeAssigned, EventTypeClosed:
		return true
	}
	return false
}

// IncidentEvent is an immutable fact describing one accepted incident mutation.
type IncidentEvent struct {
	EventID        string          `json:"event_id"`
	EventType      EventType       `json:"event_type"`
	IncidentID     int64           `json:"incident_id"`
	IncidentNumber string          `json:"incident_number"`
	Title          string          `json:"title"`
	Severity       Severity        `json:"severity"`
	PreviousStatus *IncidentStatus `json:"previous_status"`
	NewStatus      IncidentStatus  `json:"new_status"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewIncidentEvent builds an event from the incident's state after the mutation.
func NewIncidentEvent(id string, eventType EventType, incident *Incident, previous *IncidentStatus, at time.Time) IncidentEvent {
	return IncidentEvent{
		EventID:        id,
		EventType:      eventType,
		IncidentID:     incident.ID,
		IncidentNumber: incident.IncidentNumber,
		Title:          incident.Title,
		Severity:       incident.Severity,
		PreviousStatus: clonePtr(previous),
		NewStatus:      incident.Status,
		Timestamp:      at,
	}
}
