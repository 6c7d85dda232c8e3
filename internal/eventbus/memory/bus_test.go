package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-pager/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []eventbus.Message
}

func (c *collector) handle(_ context.Context, msg eventbus.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) payloads(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.msgs {
		if key == "" || m.Key == key {
			out = append(out, string(m.Payload))
		}
	}
	return out
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func subscribe(t *testing.T, b *Bus, group string, h eventbus.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, "incidents", group, h) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("subscription did not stop")
		}
	})
}

func publish(t *testing.T, b *Bus, key string, n int) {
	t.Helper()
	for i := range n {
		require.NoError(t, b.Publish(context.Background(), "incidents", key, []byte(fmt.Sprintf("%s-%d", key, i))))
	}
}

func TestBus_PerKeyOrder(t *testing.T) {
	b := New(WithPartitions(4))
	c := &collector{}
	subscribe(t, b, "notifier", c.handle)

	publish(t, b, "INC-1", 20)
	publish(t, b, "INC-2", 20)

	require.Eventually(t, func() bool { return c.count() == 40 }, 5*time.Second, 10*time.Millisecond)

	for _, key := range []string{"INC-1", "INC-2"} {
		got := c.payloads(key)
		require.Len(t, got, 20)
		for i, p := range got {
			assert.Equal(t, fmt.Sprintf("%s-%d", key, i), p)
		}
	}
}

func TestBus_GroupsAreIndependent(t *testing.T) {
	b := New()
	first, second := &collector{}, &collector{}
	subscribe(t, b, "notifier", first.handle)
	subscribe(t, b, "audit", second.handle)

	publish(t, b, "INC-1", 5)

	require.Eventually(t, func() bool { return first.count() == 5 && second.count() == 5 }, 5*time.Second, 10*time.Millisecond)
}

func TestBus_MembersShareGroup(t *testing.T) {
	b := New(WithPartitions(2))
	c := &collector{}
	subscribe(t, b, "notifier", c.handle)
	subscribe(t, b, "notifier", c.handle)

	publish(t, b, "INC-1", 10)
	publish(t, b, "INC-2", 10)

	require.Eventually(t, func() bool { return c.count() == 20 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 20, c.count())
}

func TestBus_LateSubscriberReadsFromStart(t *testing.T) {
	b := New()
	publish(t, b, "INC-1", 3)

	c := &collector{}
	subscribe(t, b, "notifier", c.handle)

	require.Eventually(t, func() bool { return c.count() == 3 }, 5*time.Second, 10*time.Millisecond)
}

func TestBus_RedeliversFailedMessage(t *testing.T) {
	b := New(WithPartitions(1), WithRetry(eventbus.RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond}))

	var mu sync.Mutex
	var seen []string
	failures := 0
	h := func(_ context.Context, msg eventbus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(msg.Payload))
		if string(msg.Payload) == "INC-1-0" && failures < 2 {
			failures++
			return errors.New("sink down")
		}
		return nil
	}
	subscribe(t, b, "notifier", h)

	publish(t, b, "INC-1", 2)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"INC-1-0", "INC-1-0", "INC-1-0", "INC-1-1"}, seen)
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New()
	b.Close()

	err := b.Publish(context.Background(), "incidents", "INC-1", []byte("x"))

	assert.ErrorIs(t, err, eventbus.ErrClosed)
}

func TestBus_MessageMetadata(t *testing.T) {
	b := New(WithPartitions(3))
	c := &collector{}
	subscribe(t, b, "notifier", c.handle)

	publish(t, b, "INC-9", 2)

	require.Eventually(t, func() bool { return c.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.msgs {
		assert.Equal(t, "incidents", m.Topic)
		assert.Equal(t, eventbus.Partition("INC-9", 3), m.Partition)
		assert.Equal(t, int64(i), m.Offset)
		assert.False(t, m.PublishedAt.IsZero())
	}
}

func retained(b *Bus, topicName string) int {
	b.mu.Lock()
	t := b.topicLocked(topicName)
	b.mu.Unlock()
	n := 0
	for _, p := range t.partitions {
		n += p.retained()
	}
	return n
}

func TestBus_TrimsMessagesEveryGroupConsumed(t *testing.T) {
	b := New(WithPartitions(1), WithRetention(0))
	c := &collector{}
	subscribe(t, b, "notifier", c.handle)

	publish(t, b, "INC-1", 5)
	publish(t, b, "INC-2", 5)

	require.Eventually(t, func() bool { return c.count() == 10 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return retained(b, "incidents") == 0 }, 5*time.Second, 10*time.Millisecond)

	// Offsets keep counting after the prefix is gone.
	publish(t, b, "INC-1", 1)
	require.Eventually(t, func() bool { return c.count() == 11 }, 5*time.Second, 10*time.Millisecond)
	c.mu.Lock()
	last := c.msgs[len(c.msgs)-1]
	c.mu.Unlock()
	assert.Equal(t, "INC-1-0", string(last.Payload))
	assert.Equal(t, int64(10), last.Offset)
}

func TestBus_LaggingGroupKeepsMessages(t *testing.T) {
	b := New(WithPartitions(1), WithRetention(0))
	b.mu.Lock()
	b.topicLocked("incidents").group("audit")
	b.mu.Unlock()

	notifier := &collector{}
	subscribe(t, b, "notifier", notifier.handle)
	publish(t, b, "INC-1", 4)

	require.Eventually(t, func() bool { return notifier.count() == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, retained(b, "incidents"))

	audit := &collector{}
	subscribe(t, b, "audit", audit.handle)

	require.Eventually(t, func() bool { return audit.count() == 4 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return retained(b, "incidents") == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestBus_RetentionKeepsRecentMessages(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	b := New(WithPartitions(1), WithRetention(time.Minute))
	b.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	c := &collector{}
	subscribe(t, b, "notifier", c.handle)
	publish(t, b, "INC-1", 3)
	require.Eventually(t, func() bool { return c.count() == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, retained(b, "incidents"))

	// A group joining within the retention still sees the consumed messages.
	late := &collector{}
	subscribe(t, b, "audit", late.handle)
	require.Eventually(t, func() bool { return late.count() == 3 }, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()
	publish(t, b, "INC-1", 1)

	require.Eventually(t, func() bool { return c.count() == 4 && late.count() == 4 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return retained(b, "incidents") == 1 }, 5*time.Second, 10*time.Millisecond)
}
