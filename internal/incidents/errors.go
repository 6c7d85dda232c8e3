package incidents

import (
	"errors"
	"fmt"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/identity"
)

// Incident service errors.
var (
	ErrValidation        = errors.New("validation failed")
	ErrIncidentNotFound  = errors.New("incident not found")
	ErrUserNotFound      = identity.ErrUserNotFound
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStore             = errors.New("incident store unavailable")
	ErrDuplicateNumber   = fmt.Errorf("%w: duplicate incident number", ErrStore)
	// ErrConditionNotMet is returned by EscalateIf when the condition no
	// longer holds for the locked record. Nothing was changed.
	ErrConditionNotMet = errors.New("escalation condition not met")
)

// InvalidTransitionError describes a rejected status change.
type InvalidTransitionError struct {
	From domain.IncidentStatus
	To   domain.IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsNotFound reports whether err is one of the not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIncidentNotFound) || errors.Is(err, ErrUserNotFound)
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
