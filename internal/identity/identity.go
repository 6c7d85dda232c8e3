// Package identity resolves responders and authenticates API callers.
package identity

import (
	"context"
	"errors"

	"github.com/bissquit/incident-pager/internal/domain"
)

// Identity errors.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidToken = errors.New("invalid token")
)

// Directory looks up users by id.
type Directory interface {
	FindUser(ctx context.Context, id int64) (*domain.User, error)
}
