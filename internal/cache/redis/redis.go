// Package redis provides a Redis implementation of cache.Backend.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-pager/internal/cache"
	goredis "github.com/redis/go-redis/v9"
)

// Config contains Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Backend implements cache.Backend on a Redis server.
type Backend struct {
	client goredis.UniversalClient
}

// New creates a backend using an existing client.
func New(client goredis.UniversalClient) *Backend {
	return &Backend{client: client}
}

// Connect opens a client and verifies the server is reachable.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Get returns the value stored under key or cache.ErrMiss.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cache.ErrMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores value under key with the given TTL. Zero ttl means no expiry.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Add stores value under key with SET NX, reporting whether it was stored.
func (b *Backend) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
