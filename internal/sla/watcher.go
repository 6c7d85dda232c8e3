// Package sla escalates incidents whose acknowledgement or resolution SLA
// has elapsed.
package sla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/incidents"
	"github.com/bissquit/incident-pager/internal/pkg/ctxlog"
	"github.com/bissquit/incident-pager/internal/pkg/schedule"
)

// Incidents is the part of the lifecycle service the watcher drives.
// EscalateIf evaluates cond on the locked record and returns
// incidents.ErrConditionNotMet when it no longer holds.
type Incidents interface {
	ListActive(ctx context.Context) ([]*domain.Incident, error)
	EscalateIf(ctx context.Context, id int64, cond func(*domain.Incident) bool) (*domain.Incident, error)
}

// Breach names the SLA an incident missed.
type Breach string

// Breaches.
const (
	BreachAck     Breach = "ack"
	BreachResolve Breach = "resolve"
)

// Watcher periodically escalates incidents that breached their SLA.
type Watcher struct {
	incidents Incidents
	now       func() time.Time
}

// NewWatcher creates a new SLA watcher.
func NewWatcher(incidents Incidents) *Watcher {
	return &Watcher{incidents: incidents, now: time.Now}
}

// Run checks on spec until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, spec string) error {
	return schedule.Run(ctx, "sla-watcher", spec, func(ctx context.Context) error {
		_, err := w.Check(ctx)
		return err
	})
}

// Check escalates every active incident that breached an SLA and has not
// been flagged yet. It returns the number of escalated incidents. A failed
// escalation does not stop the others. The breach is checked again under
// the record lock, so an incident acknowledged or escalated by someone else
// since ListActive is skipped.
func (w *Watcher) Check(ctx context.Context) (int, error) {
	active, err := w.incidents.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active incidents: %w", err)
	}

	now := w.now()
	var (
		escalated int
		errs      []error
	)
	for _, incident := range active {
		breach, ok := Breached(incident, now)
		if !ok {
			continue
		}

		ictx := ctxlog.With(ctx, "sla_breach", breach)
		_, err := w.incidents.EscalateIf(ictx, incident.ID, func(current *domain.Incident) bool {
			_, ok := Breached(current, now)
			return ok
		})
		if errors.Is(err, incidents.ErrConditionNotMet) {
			ctxlog.FromContext(ictx).Debug("SLA breach no longer holds, skipped",
				"incident_number", incident.IncidentNumber)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("escalate %s: %w", incident.IncidentNumber, err))
			continue
		}
		escalated++
		ctxlog.FromContext(ictx).Warn("incident breached SLA, escalated",
			"incident_number", incident.IncidentNumber,
			"severity", incident.Severity,
			"age", now.Sub(incident.CreatedAt).Round(time.Second),
		)
	}

	recordCheck(escalated, len(errs))
	return escalated, errors.Join(errs...)
}

// Breached reports which SLA incident missed at now. Incidents already
// flagged, resolved or closed never breach again.
func Breached(incident *domain.Incident, now time.Time) (Breach, bool) {
	if incident.SLABreach || !incident.Status.IsActive() {
		return "", false
	}

	age := now.Sub(incident.CreatedAt)
	info := incident.Severity.Info()

	if incident.Status == domain.IncidentStatusTriggered && info.AckSLA > 0 && age > info.AckSLA {
		return BreachAck, true
	}
	if info.ResolveSLA > 0 && age > info.ResolveSLA {
		return BreachResolve, true
	}
	return "", false
}
