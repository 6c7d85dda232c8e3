package testutil

import (
	"context"
	"testing"

	"github.com/bissquit/incident-pager/internal/pkg/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewMigratedPool starts a postgres container, applies all migrations and
// returns a pool. Everything is torn down when the test ends.
func NewMigratedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	if err := postgres.Migrate(container.ConnectionString); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := postgres.Connect(ctx, postgres.Config{
		URL:          container.ConnectionString,
		MaxOpenConns: 10,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}
