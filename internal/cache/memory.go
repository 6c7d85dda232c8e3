package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemorySize bounds the in-process cache when no size is configured.
const DefaultMemorySize = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Backend backed by an expirable LRU.
// The LRU's own TTL is the upper bound; shorter per-entry TTLs are checked on read.
type Memory struct {
	mu  sync.Mutex // makes Add atomic with respect to Set and Delete
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

// NewMemory creates an in-process cache holding at most size entries,
// none of which outlive maxTTL.
func NewMemory(size int, maxTTL time.Duration) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now: time.Now,
	}
}

// Get returns the value stored under key or ErrMiss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return nil, ErrMiss
	}
	return entry.value, nil
}

// live returns the entry under key unless it is absent or past its own TTL.
func (m *Memory) live(key string) (memoryEntry, bool) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.lru.Remove(key)
		return memoryEntry{}, false
	}
	return entry, true
}

// Set stores value under key. A non-positive ttl falls back to the cache-wide TTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Add(key, m.entry(value, ttl))
	return nil
}

// Add stores value under key only if no live entry exists.
func (m *Memory) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.lru.Add(key, m.entry(value, ttl))
	return true, nil
}

func (m *Memory) entry(value []byte, ttl time.Duration) memoryEntry {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	return entry
}

// Delete removes key. Deleting an absent key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Remove(key)
	return nil
}

// Len returns the number of cached entries, including ones not yet purged.
func (m *Memory) Len() int {
	return m.lru.Len()
}
