// Package incidents implements the incident lifecycle: creation, status
// transitions guarded by the status machine, a cache-aside read path and
// event emission for every accepted mutation.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/identity"
	"github.com/bissquit/incident-pager/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// Service implements incident business logic.
type Service struct {
	repo       Repository
	users      identity.Directory
	cache      *Cache
	events     EventPublisher
	numbers    *NumberGenerator
	now        func() time.Time
	newEventID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps and incident numbers.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new incident service.
func NewService(repo Repository, users identity.Directory, cache *Cache, events EventPublisher, numbers *NumberGenerator, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		users:   users,
		cache:   cache,
		events:  events,
		numbers: numbers,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
		newEventID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.numbers.now = s.now
	return s
}

// SeedNumberGenerator creates a generator continuing after the stored incident count.
func SeedNumberGenerator(ctx context.Context, repo Repository) (*NumberGenerator, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count incidents: %w", err)
	}
	ctxlog.FromContext(ctx).Info("initialized incident counter", "count", count)
	return NewNumberGenerator(count), nil
}

// CreateInput holds data for creating an incident.
type CreateInput struct {
	Title       string
	Description string
	Severity    domain.Severity
	AssigneeID  *int64
	TeamID      *int64
}

// UpdateInput holds a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Title       *string
	Description *string
	Severity    *domain.Severity
	AssigneeID  *int64
	TeamID      *int64
}

// Create registers a new TRIGGERED incident.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Incident, error) {
	incident, err := s.create(ctx, input)
	recordOperation("create", err)
	return incident, err
}

func (s *Service) create(ctx context.Context, input CreateInput) (*domain.Incident, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationError("title is required")
	}
	if input.Severity == "" {
		return nil, validationError("severity is required")
	}
	if !input.Severity.IsValid() {
		return nil, validationError("unknown severity %q", input.Severity)
	}

	now := s.now()
	incident := &domain.Incident{
		IncidentNumber: s.numbers.Next(),
		Title:          input.Title,
		Description:    input.Description,
		Severity:       input.Severity,
		Status:         domain.IncidentStatusTriggered,
		TeamID:         input.TeamID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if input.AssigneeID != nil {
		user, err := s.findOptionalUser(ctx, *input.AssigneeID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			incident.AssignTo(user, true)
		}
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("incident created",
		"incident_id", incident.ID,
		"incident_number", incident.IncidentNumber,
		"severity", incident.Severity,
	)

	ctx = context.WithoutCancel(ctx)
	s.emit(ctx, domain.EventTypeCreated, incident, nil, now)
	s.cache.Put(ctx, incident)

	return incident, nil
}

// GetByID returns an incident, preferring the cache.
func (s *Service) GetByID(ctx context.Context, id int64) (*domain.Incident, error) {
	if incident, ok := s.cache.Get(ctx, id); ok {
		return incident, nil
	}

	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.Fill(ctx, incident)
	return incident, nil
}

// ListAll returns one page of all incidents in the requested order.
func (s *Service) ListAll(ctx context.Context, req PageRequest) (*Page, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, req)
}

// ListByFilters returns one page of incidents matching filters, newest first.
func (s *Service) ListByFilters(ctx context.Context, filters Filters) (*Page, error) {
	filters, err := filters.normalize()
	if err != nil {
		return nil, err
	}
	return s.repo.ListByFilters(ctx, filters)
}

// ListActive returns every incident that is neither RESOLVED nor CLOSED.
func (s *Service) ListActive(ctx context.Context) ([]*domain.Incident, error) {
	return s.repo.ListByStatuses(ctx, domain.ActiveIncidentStatuses)
}

// Update applies a partial update without touching the status.
// A new assignee only replaces the assignee; the team is set from TeamID alone.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (*domain.Incident, error) {
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		recordOperation("update", ErrValidation)
		return nil, validationError("title must not be empty")
	}
	if input.Severity != nil && !input.Severity.IsValid() {
		recordOperation("update", ErrValidation)
		return nil, validationError("unknown severity %q", *input.Severity)
	}

	var assignee *domain.User
	if input.AssigneeID != nil {
		user, err := s.findOptionalUser(ctx, *input.AssigneeID)
		if err != nil {
			recordOperation("update", err)
			return nil, err
		}
		assignee = user
	}

	return s.apply(ctx, "update", id, domain.EventTypeUpdated, false, func(incident *domain.Incident, _ time.Time) error {
		if input.Title != nil {
			incident.Title = *input.Title
		}
		if input.Description != nil {
			incident.Description = *input.Description
		}
		if input.Severity != nil {
			incident.Severity = *input.Severity
		}
		if assignee != nil {
			incident.AssignTo(assignee, false)
		}
		if input.TeamID != nil {
			teamID := *input.TeamID
			incident.TeamID = &teamID
		}
		return nil
	})
}

// Acknowledge moves the incident to ACKNOWLEDGED and optionally takes ownership for userID.
func (s *Service) Acknowledge(ctx context.Context, id int64, userID *int64) (*domain.Incident, error) {
	var assignee *domain.User
	if userID != nil {
		user, err := s.findOptionalUser(ctx, *userID)
		if err != nil {
			recordOperation("acknowledge", err)
			return nil, err
		}
		assignee = user
	}

	return s.apply(ctx, "acknowledge", id, domain.EventTypeAcknowledged, true, func(incident *domain.Incident, now time.Time) error {
		if err := transition(incident, domain.IncidentStatusAcknowledged); err != nil {
			return err
		}
		if incident.AcknowledgedAt == nil {
			incident.AcknowledgedAt = &now
		}
		if assignee != nil {
			incident.AssignTo(assignee, false)
		}
		return nil
	})
}

// Investigate moves the incident to INVESTIGATING.
func (s *Service) Investigate(ctx context.Context, id int64) (*domain.Incident, error) {
	return s.apply(ctx, "investigate", id, domain.EventTypeUpdated, true, func(incident *domain.Incident, _ time.Time) error {
		return transition(incident, domain.IncidentStatusInvestigating)
	})
}

// Resolve moves the incident to RESOLVED, appending the resolution note to the description.
func (s *Service) Resolve(ctx context.Context, id int64, resolution *string) (*domain.Incident, error) {
	return s.apply(ctx, "resolve", id, domain.EventTypeResolved, true, func(incident *domain.Incident, now time.Time) error {
		if err := transition(incident, domain.IncidentStatusResolved); err != nil {
			return err
		}
		if incident.ResolvedAt == nil {
			incident.ResolvedAt = &now
		}
		if resolution != nil {
			incident.Description += "\n\nResolution: " + *resolution
		}
		return nil
	})
}

// Close moves a RESOLVED incident to the terminal CLOSED status.
func (s *Service) Close(ctx context.Context, id int64) (*domain.Incident, error) {
	return s.apply(ctx, "close", id, domain.EventTypeClosed, true, func(incident *domain.Incident, now time.Time) error {
		if incident.Status != domain.IncidentStatusResolved {
			return &InvalidTransitionError{From: incident.Status, To: domain.IncidentStatusClosed}
		}
		incident.Status = domain.IncidentStatusClosed
		if incident.ClosedAt == nil {
			incident.ClosedAt = &now
		}
		return nil
	})
}

// Assign hands the incident to a user and the user's team.
// It does not look at the status, so even CLOSED incidents can be reassigned.
func (s *Service) Assign(ctx context.Context, id, assigneeID int64) (*domain.Incident, error) {
	user, err := s.users.FindUser(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			// An unknown incident takes precedence over an unknown user.
			if _, getErr := s.repo.GetByID(ctx, id); getErr != nil {
				err = getErr
			}
		} else {
			err = fmt.Errorf("find user: %w", err)
		}
		recordOperation("assign", err)
		return nil, err
	}

	return s.apply(ctx, "assign", id, domain.EventTypeAssigned, false, func(incident *domain.Incident, _ time.Time) error {
		incident.AssignTo(user, true)
		return nil
	})
}

// Escalate raises the escalation level and marks the SLA as breached.
// It bypasses the status machine and is accepted from any status, CLOSED included.
func (s *Service) Escalate(ctx context.Context, id int64) (*domain.Incident, error) {
	return s.EscalateIf(ctx, id, func(*domain.Incident) bool { return true })
}

// EscalateIf escalates like Escalate, but only when cond accepts the record
// as read under the per-record lock. Otherwise it returns ErrConditionNotMet
// and emits nothing. Concurrent callers with the same condition on a flag
// that escalation sets therefore escalate at most once.
func (s *Service) EscalateIf(ctx context.Context, id int64, cond func(*domain.Incident) bool) (*domain.Incident, error) {
	return s.apply(ctx, "escalate", id, domain.EventTypeEscalated, true, func(incident *domain.Incident, _ time.Time) error {
		if !cond(incident) {
			return ErrConditionNotMet
		}
		incident.Status = domain.IncidentStatusEscalated
		incident.EscalationLevel++
		incident.SLABreach = true
		return nil
	})
}

// apply runs fn under the store's per-record lock. On success the cached copy
// is evicted and one event of eventType is emitted.
func (s *Service) apply(
	ctx context.Context,
	operation string,
	id int64,
	eventType domain.EventType,
	withPrevious bool,
	fn func(incident *domain.Incident, now time.Time) error,
) (*domain.Incident, error) {
	now := s.now()
	var previous domain.IncidentStatus

	incident, err := s.repo.Update(ctx, id, func(incident *domain.Incident) error {
		previous = incident.Status
		if err := fn(incident, now); err != nil {
			return err
		}
		incident.UpdatedAt = now
		return nil
	})
	recordOperation(operation, err)
	if err != nil {
		return nil, err
	}

	var prev *domain.IncidentStatus
	if withPrevious {
		prev = &previous
	}

	logger := ctxlog.FromContext(ctx)
	if eventType == domain.EventTypeEscalated {
		logger.Warn("incident escalated",
			"incident_number", incident.IncidentNumber,
			"previous_status", previous,
			"escalation_level", incident.EscalationLevel,
		)
	} else {
		logger.Info("incident "+pastTense[operation],
			"incident_number", incident.IncidentNumber,
			"previous_status", previous,
			"status", incident.Status,
		)
	}

	ctx = context.WithoutCancel(ctx)
	s.cache.Evict(ctx, id)
	s.emit(ctx, eventType, incident, prev, now)

	return incident, nil
}

func (s *Service) emit(ctx context.Context, eventType domain.EventType, incident *domain.Incident, previous *domain.IncidentStatus, at time.Time) {
	event := domain.NewIncidentEvent(s.newEventID(), eventType, incident, previous, at)
	if err := s.events.PublishIncidentEvent(ctx, event); err != nil {
		recordPublishFailure(string(eventType))
		ctxlog.FromContext(ctx).Error("failed to publish incident event",
			"event_id", event.EventID,
			"event_type", eventType,
			"incident_number", incident.IncidentNumber,
			"error", err,
		)
	}
}

// findOptionalUser resolves a user, returning nil without error when the user is unknown.
func (s *Service) findOptionalUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.FindUser(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			ctxlog.FromContext(ctx).Debug("ignoring unknown user", "user_id", id)
			return nil, nil
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

var pastTense = map[string]string{
	"update":      "updated",
	"acknowledge": "acknowledged",
	"investigate": "under investigation",
	"resolve":     "resolved",
	"close":       "closed",
	"assign":      "assigned",
}

func transition(incident *domain.Incident, next domain.IncidentStatus) error {
	if !incident.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{From: incident.Status, To: next}
	}
	incident.Status = next
	return nil
}
