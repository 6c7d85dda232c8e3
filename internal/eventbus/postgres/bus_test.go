//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-pager/internal/eventbus"
	"github.com/bissquit/incident-pager/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Partitions:   4,
		BatchSize:    5,
		PollInterval: 20 * time.Millisecond,
		Retry:        eventbus.RetryPolicy{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	}
}

type collector struct {
	mu   sync.Mutex
	msgs []eventbus.Message
	fail map[string]int
}

func (c *collector) handle(_ context.Context, msg eventbus.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	if c.fail[string(msg.Payload)] > 0 {
		c.fail[string(msg.Payload)]--
		return errors.New("sink down")
	}
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) payloads(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.msgs {
		if m.Key == key {
			out = append(out, string(m.Payload))
		}
	}
	return out
}

func subscribe(t *testing.T, b *Bus, group string, h eventbus.Handler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Subscribe(ctx, "incident-events", group, h))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func payload(key string, i int) []byte {
	return []byte(fmt.Sprintf(`{"key":%q,"seq":%d}`, key, i))
}

func TestBus_DeliversInKeyOrder(t *testing.T) {
	pool := testutil.NewMigratedPool(t)
	b := New(pool, testConfig())
	ctx := context.Background()

	c := &collector{}
	subscribe(t, b, "notifier", c.handle)

	for i := range 12 {
		require.NoError(t, b.Publish(ctx, "incident-events", "INC-1", payload("INC-1", i)))
		require.NoError(t, b.Publish(ctx, "incident-events", "INC-2", payload("INC-2", i)))
	}

	require.Eventually(t, func() bool { return c.count() == 24 }, 10*time.Second, 20*time.Millisecond)

	for _, key := range []string{"INC-1", "INC-2"} {
		got := c.payloads(key)
		require.Len(t, got, 12)
		for i, p := range got {
			assert.JSONEq(t, string(payload(key, i)), p)
		}
	}
}

func TestBus_ResumesFromCommittedOffset(t *testing.T) {
	pool := testutil.NewMigratedPool(t)
	b := New(pool, testConfig())
	ctx := context.Background()

	first := &collector{}
	stop := subscribe(t, b, "notifier", first.handle)
	for i := range 3 {
		require.NoError(t, b.Publish(ctx, "incident-events", "INC-1", payload("INC-1", i)))
	}
	require.Eventually(t, func() bool { return first.count() == 3 }, 10*time.Second, 20*time.Millisecond)
	stop()

	for i := 3; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "incident-events", "INC-1", payload("INC-1", i)))
	}

	second := &collector{}
	subscribe(t, b, "notifier", second.handle)
	require.Eventually(t, func() bool { return second.count() == 2 }, 10*time.Second, 20*time.Millisecond)

	got := second.payloads("INC-1")
	assert.JSONEq(t, string(payload("INC-1", 3)), got[0])
	assert.JSONEq(t, string(payload("INC-1", 4)), got[1])
}

func TestBus_RedeliversUntilHandled(t *testing.T) {
	pool := testutil.NewMigratedPool(t)
	b := New(pool, testConfig())
	ctx := context.Background()

	first := string(payload("INC-1", 0))
	c := &collector{fail: map[string]int{first: 2}}
	subscribe(t, b, "notifier", c.handle)

	require.NoError(t, b.Publish(ctx, "incident-events", "INC-1", payload("INC-1", 0)))
	require.NoError(t, b.Publish(ctx, "incident-events", "INC-1", payload("INC-1", 1)))

	require.Eventually(t, func() bool { return c.count() == 4 }, 10*time.Second, 20*time.Millisecond)
	got := c.payloads("INC-1")
	assert.JSONEq(t, first, got[0])
	assert.JSONEq(t, first, got[1])
	assert.JSONEq(t, first, got[2])
	assert.JSONEq(t, string(payload("INC-1", 1)), got[3])
}

func TestBus_CommitsEachMessageBeforeTheNext(t *testing.T) {
	pool := testutil.NewMigratedPool(t)
	b := New(pool, testConfig())
	ctx := context.Background()

	var (
		firstOffset = make(chan int64, 1)
		inSecond    = make(chan struct{})
		release     = make(chan struct{})
		calls       int
	)
	handler := func(_ context.Context, msg eventbus.Message) error {
		calls++
		switch calls {
		case 1:
			firstOffset <- msg.Offset
		case 2:
			close(inSecond)
			<-release
		}
		return nil
	}
	subscribe(t, b, "notifier", handler)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	require.NoError(t, b.Publish(ctx, "incident-events", "INC-1", payload("INC-1", 0)))
	require.NoError(t, b.Publish(ctx, "incident-events", "INC-1", payload("INC-1", 1)))

	var want int64
	select {
	case want = <-firstOffset:
	case <-time.After(10 * time.Second):
		t.Fatal("first message was not delivered")
	}
	select {
	case <-inSecond:
	case <-time.After(10 * time.Second):
		t.Fatal("second message was not delivered")
	}

	// The second delivery is still in progress; the first is already committed.
	var lastID int64
	err := pool.QueryRow(ctx, `
		SELECT last_id FROM consumer_offsets
		WHERE group_id = 'notifier' AND topic = 'incident-events' AND partition = $1
	`, eventbus.Partition("INC-1", testConfig().Partitions)).Scan(&lastID)
	require.NoError(t, err)
	assert.Equal(t, want, lastID)

	close(release)
}

func TestBus_MembersShareGroup(t *testing.T) {
	pool := testutil.NewMigratedPool(t)
	b := New(pool, testConfig())
	ctx := context.Background()

	c := &collector{}
	subscribe(t, b, "notifier", c.handle)
	subscribe(t, b, "notifier", c.handle)

	for i := range 20 {
		key := fmt.Sprintf("INC-%d", i%5)
		require.NoError(t, b.Publish(ctx, "incident-events", key, payload(key, i)))
	}

	require.Eventually(t, func() bool { return c.count() >= 20 }, 10*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 20, c.count())
}

func TestBus_Prune(t *testing.T) {
	pool := testutil.NewMigratedPool(t)
	b := New(pool, testConfig())
	ctx := context.Background()

	c := &collector{}
	stop := subscribe(t, b, "notifier", c.handle)
	for i := range 3 {
		require.NoError(t, b.Publish(ctx, "incident-events", "INC-1", payload("INC-1", i)))
	}
	require.Eventually(t, func() bool { return c.count() == 3 }, 10*time.Second, 20*time.Millisecond)
	stop()

	// a group that has not caught up keeps rows alive
	lagging := eventbus.Partition("INC-1", testConfig().Partitions)
	_, err := pool.Exec(ctx, `
		INSERT INTO consumer_offsets (group_id, topic, partition, last_id)
		VALUES ('audit', 'incident-events', $1, 0)
	`, lagging)
	require.NoError(t, err)

	deleted, err := b.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	_, err = pool.Exec(ctx, `DELETE FROM consumer_offsets WHERE group_id = 'audit'`)
	require.NoError(t, err)

	deleted, err = b.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted, "rows newer than the cutoff are kept")

	deleted, err = b.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}
