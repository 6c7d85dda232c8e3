package incidents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/bissquit/incident-pager/internal/cache"
	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/pkg/ctxlog"
)

// DefaultCacheTTL is how long a cached incident stays valid after it is stored.
const DefaultCacheTTL = 30 * time.Minute

// EvictionHold is how long an eviction blocks read-path repopulation. A read
// that loaded the record before the mutation committed cannot write it back
// while the hold lasts.
const EvictionHold = time.Minute

const cacheKeyPrefix = "incident:"

// tombstone marks an evicted key. It is not valid JSON.
var tombstone = []byte("\x00evicted")

// Cache is a cache-aside view of incidents keyed by id.
// Its methods never fail: backend and decoding errors are logged and degrade
// to a miss, so an unavailable cache only costs a store read.
type Cache struct {
	backend cache.Backend
	ttl     time.Duration
}

// NewCache creates an incident cache over backend.
func NewCache(backend cache.Backend, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{backend: backend, ttl: ttl}
}

// CacheKey returns the backend key for an incident id.
func CacheKey(id int64) string {
	return cacheKeyPrefix + strconv.FormatInt(id, 10)
}

// Get returns the cached incident, if any.
func (c *Cache) Get(ctx context.Context, id int64) (*domain.Incident, bool) {
	raw, err := c.backend.Get(ctx, CacheKey(id))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			ctxlog.FromContext(ctx).Warn("incident cache read failed", "incident_id", id, "error", err)
		}
		recordCacheLookup(false)
		return nil, false
	}
	if bytes.Equal(raw, tombstone) {
		recordCacheLookup(false)
		return nil, false
	}

	var incident domain.Incident
	if err := json.Unmarshal(raw, &incident); err != nil {
		ctxlog.FromContext(ctx).Warn("incident cache entry undecodable", "incident_id", id, "error", err)
		recordCacheLookup(false)
		return nil, false
	}

	recordCacheLookup(true)
	return &incident, true
}

// Put stores the projection of an incident that was just created, replacing
// whatever the key holds.
func (c *Cache) Put(ctx context.Context, incident *domain.Incident) {
	raw, ok := c.encode(ctx, incident)
	if !ok {
		return
	}
	if err := c.backend.Set(ctx, CacheKey(incident.ID), raw, c.ttl); err != nil {
		ctxlog.FromContext(ctx).Warn("incident cache write failed", "incident_id", incident.ID, "error", err)
	}
}

// Fill stores a projection loaded from the store after a miss. It only writes
// into an empty key, so it never replaces a newer entry or an eviction
// tombstone left by a concurrent mutation.
func (c *Cache) Fill(ctx context.Context, incident *domain.Incident) {
	raw, ok := c.encode(ctx, incident)
	if !ok {
		return
	}
	stored, err := c.backend.Add(ctx, CacheKey(incident.ID), raw, c.ttl)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("incident cache write failed", "incident_id", incident.ID, "error", err)
		return
	}
	if !stored {
		ctxlog.FromContext(ctx).Debug("incident cache fill skipped", "incident_id", incident.ID)
	}
}

// Evict replaces the cached projection with a tombstone for EvictionHold, or
// for the cache TTL if that is shorter.
func (c *Cache) Evict(ctx context.Context, id int64) {
	if err := c.backend.Set(ctx, CacheKey(id), tombstone, min(EvictionHold, c.ttl)); err != nil {
		ctxlog.FromContext(ctx).Warn("incident cache evict failed", "incident_id", id, "error", err)
	}
}

func (c *Cache) encode(ctx context.Context, incident *domain.Incident) ([]byte, bool) {
	raw, err := json.Marshal(incident)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("incident cache encode failed", "incident_id", incident.ID, "error", err)
		return nil, false
	}
	return raw, true
}
