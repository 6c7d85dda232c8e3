// Package memory provides an in-process user directory.
package memory

import (
	"context"
	"sync"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/identity"
)

// Directory keeps users in a map. Returned users are copies.
type Directory struct {
	mu    sync.RWMutex
	users map[int64]domain.User
}

// NewDirectory creates a directory preloaded with users.
func NewDirectory(users ...domain.User) *Directory {
	d := &Directory{users: make(map[int64]domain.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put adds or replaces a user.
func (d *Directory) Put(u domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// FindUser returns the user with the given id.
func (d *Directory) FindUser(_ context.Context, id int64) (*domain.User, error) {
	d.mu.RLock()
	u, ok := d.users[id]
	d.mu.RUnlock()
	if !ok {
		return nil, identity.ErrUserNotFound
	}

	if u.TeamID != nil {
		teamID := *u.TeamID
		u.TeamID = &teamID
	}
	if u.TeamName != nil {
		teamName := *u.TeamName
		u.TeamName = &teamName
	}
	return &u, nil
}
