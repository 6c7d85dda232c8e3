// Package postgres provides a durable event bus on top of PostgreSQL tables.
//
// Each topic is an append-only log split into partitions. A consumer group
// owns one offset row per partition; the row is locked with
// FOR UPDATE SKIP LOCKED while a message is delivered and its offset
// committed, so each partition has at most one active reader per group and
// other members skip it.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-pager/internal/eventbus"
	"github.com/bissquit/incident-pager/internal/pkg/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// Config contains bus configuration.
type Config struct {
	Partitions   int
	BatchSize    int
	PollInterval time.Duration
	Retry        eventbus.RetryPolicy
}

// DefaultConfig returns default bus configuration.
func DefaultConfig() Config {
	return Config{
		Partitions:   eventbus.DefaultPartitions,
		BatchSize:    100,
		PollInterval: time.Second,
		Retry:        eventbus.DefaultRetry,
	}
}

// Bus implements eventbus.Publisher and eventbus.Subscriber.
type Bus struct {
	db     *pgxpool.Pool
	config Config
}

// New creates a new PostgreSQL bus.
func New(db *pgxpool.Pool, config Config) *Bus {
	if config.Partitions <= 0 {
		config.Partitions = eventbus.DefaultPartitions
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &Bus{db: db, config: config}
}

// Publish appends payload to the partition owning key.
//
// Appends to one partition are serialized with a transaction-scoped advisory
// lock so that ids inside a partition become visible in increasing order and
// a reader never skips a row committed late.
func (b *Bus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	partition := eventbus.Partition(key, b.config.Partitions)

	err := pgx.BeginFunc(ctx, b.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), $2)`, topic, partition); err != nil {
			return fmt.Errorf("lock partition: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO event_log (topic, partition, msg_key, payload)
			VALUES ($1, $2, $3, $4)
		`, topic, partition, key, payload)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	metrics.EventsPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}

// Subscribe consumes topic as a member of group until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, topic, group string, handler eventbus.Handler) error {
	if err := b.ensureOffsets(ctx, topic, group); err != nil {
		return err
	}

	slog.Info("subscribed to event log",
		"topic", topic,
		"group", group,
		"partitions", b.config.Partitions,
		"poll_interval", b.config.PollInterval,
	)

	eg, ctx := errgroup.WithContext(ctx)
	for partition := range b.config.Partitions {
		eg.Go(func() error {
			b.run(ctx, topic, group, partition, handler)
			return nil
		})
	}
	return eg.Wait()
}

// Prune deletes log rows older than olderThan that every group has consumed.
func (b *Bus) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	tag, err := b.db.Exec(ctx, `
		DELETE FROM event_log e
		WHERE e.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM consumer_offsets o
			WHERE o.topic = e.topic
			  AND o.partition = e.partition
			  AND o.last_id < e.id
		  )
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune event log: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (b *Bus) ensureOffsets(ctx context.Context, topic, group string) error {
	batch := &pgx.Batch{}
	for partition := range b.config.Partitions {
		batch.Queue(`
			INSERT INTO consumer_offsets (group_id, topic, partition)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, group, topic, partition)
	}
	if err := b.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("register consumer group %s: %w", group, err)
	}
	return nil
}

func (b *Bus) run(ctx context.Context, topic, group string, partition int, handler eventbus.Handler) {
	ticker := time.NewTicker(b.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain without waiting while batches come back full.
		for {
			n, err := b.processBatch(ctx, topic, group, partition, handler)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("failed to process event batch",
					"topic", topic,
					"group", group,
					"partition", partition,
					"error", err,
				)
				break
			}
			if n < b.config.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processBatch delivers up to BatchSize messages of partition, one short
// transaction each. It returns how many were delivered; zero when another
// member holds the partition or the next message could not be delivered.
func (b *Bus) processBatch(ctx context.Context, topic, group string, partition int, handler eventbus.Handler) (int, error) {
	delivered := 0
	for delivered < b.config.BatchSize {
		ok, err := b.processOne(ctx, topic, group, partition, handler)
		if err != nil {
			return delivered, err
		}
		if !ok {
			break
		}
		delivered++
	}
	if ctx.Err() != nil {
		return delivered, ctx.Err()
	}
	return delivered, nil
}

// processOne claims the group's offset row for partition, delivers the next
// message past it and advances the offset in the same transaction, so the
// row lock is held for a single delivery. It reports whether a message was
// delivered and committed.
func (b *Bus) processOne(ctx context.Context, topic, group string, partition int, handler eventbus.Handler) (bool, error) {
	tx, err := b.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Warn("failed to rollback event delivery", "error", err)
		}
	}()

	var lastID int64
	err = tx.QueryRow(ctx, `
		SELECT last_id FROM consumer_offsets
		WHERE group_id = $1 AND topic = $2 AND partition = $3
		FOR UPDATE SKIP LOCKED
	`, group, topic, partition).Scan(&lastID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claim partition: %w", err)
	}

	msg := eventbus.Message{Topic: topic, Partition: partition}
	err = tx.QueryRow(ctx, `
		SELECT id, msg_key, payload, created_at FROM event_log
		WHERE topic = $1 AND partition = $2 AND id > $3
		ORDER BY id
		LIMIT 1
	`, topic, partition, lastID).Scan(&msg.Offset, &msg.Key, &msg.Payload, &msg.PublishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, tx.Commit(ctx)
		}
		return false, fmt.Errorf("fetch event: %w", err)
	}

	if err := eventbus.Deliver(ctx, group, handler, msg, b.config.Retry); err != nil {
		return false, nil
	}

	// The claim is lost with a cancelled ctx; commit progress on a detached one.
	commitCtx := context.WithoutCancel(ctx)
	_, err = tx.Exec(commitCtx, `
		UPDATE consumer_offsets SET last_id = $4, updated_at = NOW()
		WHERE group_id = $1 AND topic = $2 AND partition = $3
	`, group, topic, partition, msg.Offset)
	if err != nil {
		return false, fmt.Errorf("commit offset: %w", err)
	}
	if err := tx.Commit(commitCtx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
