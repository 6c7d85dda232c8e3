package incidents_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bissquit/incident-pager/internal/cache"
	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/identity"
	"github.com/bissquit/incident-pager/internal/incidents"
)

// mockDirectory implements identity.Directory for testing.
type mockDirectory struct {
	users map[int64]*domain.User
	err   error
}

func newMockDirectory(users ...*domain.User) *mockDirectory {
	d := &mockDirectory{users: make(map[int64]*domain.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (m *mockDirectory) FindUser(_ context.Context, id int64) (*domain.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// recordingPublisher implements incidents.EventPublisher and keeps every event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.IncidentEvent
	err    error
}

func (p *recordingPublisher) PublishIncidentEvent(_ context.Context, event domain.IncidentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) all() []domain.IncidentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.IncidentEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) last() domain.IncidentEvent {
	all := p.all()
	return all[len(all)-1]
}

// spyBackend wraps a cache.Backend and counts calls. When broken, every call fails.
type spyBackend struct {
	cache.Backend
	mu     sync.Mutex
	gets   int
	sets   int
	adds   int
	evicts int
	broken bool
}

var errBackendDown = errors.New("backend down")

func newSpyBackend() *spyBackend {
	return &spyBackend{Backend: cache.NewMemory(100, time.Hour)}
}

func (s *spyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return nil, errBackendDown
	}
	return s.Backend.Get(ctx, key)
}

func (s *spyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.sets++
	if bytes.Equal(value, incidents.Tombstone) {
		s.evicts++
	}
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return errBackendDown
	}
	return s.Backend.Set(ctx, key, value, ttl)
}

func (s *spyBackend) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	s.adds++
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return false, errBackendDown
	}
	return s.Backend.Add(ctx, key, value, ttl)
}

func (s *spyBackend) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return errBackendDown
	}
	return s.Backend.Delete(ctx, key)
}

// evictCount is the number of tombstones written.
func (s *spyBackend) evictCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicts
}

// countingRepository wraps a Repository and counts reads and writes.
type countingRepository struct {
	incidents.Repository
	mu      sync.Mutex
	gets    int
	updates int
	err     error
}

func (r *countingRepository) GetByID(ctx context.Context, id int64) (*domain.Incident, error) {
	r.mu.Lock()
	r.gets++
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Repository.GetByID(ctx, id)
}

func (r *countingRepository) Update(ctx context.Context, id int64, mutate incidents.MutateFunc) (*domain.Incident, error) {
	r.mu.Lock()
	r.updates++
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Repository.Update(ctx, id, mutate)
}

func (r *countingRepository) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}
