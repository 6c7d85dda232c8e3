package notifications

import "github.com/bissquit/incident-pager/internal/domain"

// Audience names a group of recipients.
type Audience string

// Audiences.
const (
	AudienceOnCall          Audience = "on-call"
	AudienceManager         Audience = "manager"
	AudienceIncidents       Audience = "incidents"
	AudienceIncidentsUrgent Audience = "incidents-urgent"
)

// Route sends the rendered event over Sink to Audience.
type Route struct {
	Sink     Sink
	Audience Audience
}

// Routes maps event types to their routes. Event types without an entry
// produce no notifications.
type Routes map[domain.EventType][]Route

// DefaultRoutes returns the routing table.
func DefaultRoutes() Routes {
	return Routes{
		domain.EventTypeCreated: {
			{Sink: SinkEmail, Audience: AudienceOnCall},
			{Sink: SinkSMS, Audience: AudienceOnCall},
			{Sink: SinkChat, Audience: AudienceIncidents},
		},
		domain.EventTypeAcknowledged: {
			{Sink: SinkChat, Audience: AudienceIncidents},
		},
		domain.EventTypeResolved: {
			{Sink: SinkEmail, Audience: AudienceOnCall},
			{Sink: SinkChat, Audience: AudienceIncidents},
		},
		domain.EventTypeEscalated: {
			{Sink: SinkEmail, Audience: AudienceManager},
			{Sink: SinkSMS, Audience: AudienceManager},
			{Sink: SinkChat, Audience: AudienceIncidentsUrgent},
		},
		domain.EventTypeClosed: {
			{Sink: SinkChat, Audience: AudienceIncidents},
		},
	}
}

// Recipient holds the per-sink addresses of an audience.
type Recipient struct {
	Email string `koanf:"email"`
	Phone string `koanf:"phone"`
	Chat  string `koanf:"chat"`
}

// Targets resolves audiences to addresses.
type Targets map[Audience]Recipient

// DefaultTargets returns placeholder addresses for every audience.
func DefaultTargets() Targets {
	return Targets{
		AudienceOnCall:          {Email: "oncall-team@company.com", Phone: "+91-9999999999"},
		AudienceManager:         {Email: "manager@company.com", Phone: "+91-8888888888"},
		AudienceIncidents:       {Chat: "#incidents"},
		AudienceIncidentsUrgent: {Chat: "#incidents-urgent"},
	}
}

// Address returns where route delivers to.
func (t Targets) Address(route Route) (string, bool) {
	r, ok := t[route.Audience]
	if !ok {
		return "", false
	}

	var addr string
	switch route.Sink {
	case SinkEmail:
		addr = r.Email
	case SinkSMS:
		addr = r.Phone
	case SinkChat:
		addr = r.Chat
	}
	return addr, addr != ""
}
