package domain

import "time"

// IncidentStatus represents the lifecycle status of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusTriggered     IncidentStatus = "TRIGGERED"
	IncidentStatusAcknowledged  IncidentStatus = "ACKNOWLEDGED"
	IncidentStatusInvestigating IncidentStatus = "INVESTIGATING"
	IncidentStatusResolved      IncidentStatus = "RESOLVED"
	IncidentStatusClosed        IncidentStatus = "CLOSED"
	IncidentStatusEscalated     IncidentStatus = "ESCALATED"
)

// AllIncidentStatuses lists every status in declaration order.
var AllIncidentStatuses = []IncidentStatus{
	IncidentStatusTriggered,
	IncidentStatusAcknowledged,
	IncidentStatusInvestigating,
	IncidentStatusResolved,
	IncidentStatusClosed,
	IncidentStatusEscalated,
}

// ActiveIncidentStatuses are the statuses of incidents that still need attention.
var ActiveIncidentStatuses = []IncidentStatus{
	IncidentStatusTriggered,
	IncidentStatusAcknowledged,
	IncidentStatusInvestigating,
	IncidentStatusEscalated,
}

// transitions is the general transition table. CLOSED has no outgoing edges and
// is only reachable through the close operation, which checks for RESOLVED itself.
var transitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusTriggered:     {IncidentStatusAcknowledged, IncidentStatusEscalated},
	IncidentStatusAcknowledged:  {IncidentStatusInvestigating, IncidentStatusResolved, IncidentStatusEscalated},
	IncidentStatusInvestigating: {IncidentStatusResolved, IncidentStatusEscalated},
	IncidentStatusEscalated:     {IncidentStatusAcknowledged, IncidentStatusInvestigating, IncidentStatusResolved},
	IncidentStatusResolved:      {IncidentStatusClosed, IncidentStatusInvestigating},
	IncidentStatusClosed:        {},
}

// IsValid checks if the status is a known incident status.
func (s IncidentStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsActive reports whether the incident still needs attention.
func (s IncidentStatus) IsActive() bool {
	switch s {
	case IncidentStatusTriggered, IncidentStatusAcknowledged,
		IncidentStatusInvestigating, IncidentStatusEscalated:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the legal successors of s.
func (s IncidentStatus) AllowedTransitions() []IncidentStatus {
	allowed := transitions[s]
	out := make([]IncidentStatus, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransition reports whether current -> next is a legal transition.
func CanTransition(current, next IncidentStatus) bool {
	return current.CanTransitionTo(next)
}

// Severity represents the severity class of an incident.
type Severity string

// Severity classes, P1 being the most severe.
const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// SeverityInfo describes the response targets of a severity class.
type SeverityInfo struct {
	Description string
	AckSLA      time.Duration
	ResolveSLA  time.Duration
}

var severities = map[Severity]SeverityInfo{
	SeverityP1: {Description: "Critical", AckSLA: 5 * time.Minute, ResolveSLA: 60 * time.Minute},
	SeverityP2: {Description: "High", AckSLA: 15 * time.Minute, ResolveSLA: 240 * time.Minute},
	SeverityP3: {Description: "Medium", AckSLA: 60 * time.Minute, ResolveSLA: 1440 * time.Minute},
	SeverityP4: {Description: "Low", AckSLA: 240 * time.Minute, ResolveSLA: 4320 * time.Minute},
}

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	_, ok := severities[s]
	return ok
}

// Info returns the SLA targets of the severity. Unknown severities return a zero value.
func (s Severity) Info() SeverityInfo {
	return severities[s]
}

// AckSLA is the time allowed between trigger and acknowledgement.
func (s Severity) AckSLA() time.Duration {
	return severities[s].AckSLA
}

// ResolveSLA is the time allowed between trigger and resolution.
func (s Severity) ResolveSLA() time.Duration {
	return severities[s].ResolveSLA
}

// Incident is a tracked operational issue.
type Incident struct {
	ID              int64          `json:"id"`
	IncidentNumber  string         `json:"incident_number"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Severity        Severity       `json:"severity"`
	Status          IncidentStatus `json:"status"`
	AssigneeID      *int64         `json:"assignee_id"`
	AssigneeName    *string        `json:"assignee_name"`
	TeamID          *int64         `json:"team_id"`
	TeamName        *string        `json:"team_name"`
	EscalationLevel int            `json:"escalation_level"`
	SLABreach       bool           `json:"sla_breach"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	ClosedAt        *time.Time     `json:"closed_at"`
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	cp := *i
	cp.AssigneeID = clonePtr(i.AssigneeID)
	cp.AssigneeName = clonePtr(i.AssigneeName)
	cp.TeamID = clonePtr(i.TeamID)
	cp.TeamName = clonePtr(i.TeamName)
	cp.AcknowledgedAt = clonePtr(i.AcknowledgedAt)
	cp.ResolvedAt = clonePtr(i.ResolvedAt)
	cp.ClosedAt = clonePtr(i.ClosedAt)
	return &cp
}

// AssignTo denormalizes the user as assignee. When withTeam is set the user's
// team replaces the incident's team as well.
func (i *Incident) AssignTo(u *User, withTeam bool) {
	id := u.ID
	name := u.Username
	i.AssigneeID = &id
	i.AssigneeName = &name
	if withTeam {
		i.TeamID = clonePtr(u.TeamID)
		i.TeamName = clonePtr(u.TeamName)
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
