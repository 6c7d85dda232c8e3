// Package memory provides an in-process event bus for single-binary deployments and tests.
package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/bissquit/incident-pager/internal/eventbus"
	"github.com/bissquit/incident-pager/internal/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Option configures a Bus.
type Option func(*Bus)

// WithPartitions sets the partition count of every topic.
func WithPartitions(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.partitions = n
		}
	}
}

// DefaultRetention is how long a consumed message stays available to groups
// that subscribe later.
const DefaultRetention = time.Minute

// WithRetention sets how long messages every known group has consumed are kept.
func WithRetention(d time.Duration) Option {
	return func(b *Bus) {
		if d >= 0 {
			b.retention = d
		}
	}
}

// WithRetry sets the redelivery policy for failed handlers.
func WithRetry(p eventbus.RetryPolicy) Option {
	return func(b *Bus) { b.retry = p }
}

// Bus keeps every topic as partitioned in-memory logs. A message is dropped
// once every group known to its topic has committed past it and it is older
// than the retention. A group subscribing after that starts at the earliest
// retained message.
type Bus struct {
	mu         sync.Mutex
	topics     map[string]*topic
	partitions int
	retention  time.Duration
	retry      eventbus.RetryPolicy
	closed     bool
	now        func() time.Time
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics:     make(map[string]*topic),
		partitions: eventbus.DefaultPartitions,
		retention:  DefaultRetention,
		retry:      eventbus.DefaultRetry,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends payload to the partition owning key.
func (b *Bus) Publish(_ context.Context, topicName, key string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		metrics.EventsPublished.WithLabelValues(topicName, "error").Inc()
		return eventbus.ErrClosed
	}
	t := b.topicLocked(topicName)
	b.mu.Unlock()

	data := make([]byte, len(payload))
	copy(data, payload)

	idx := eventbus.Partition(key, len(t.partitions))
	t.partitions[idx].append(eventbus.Message{
		Topic:       topicName,
		Key:         key,
		Payload:     data,
		PublishedAt: b.now(),
	})
	b.trim(t, idx)

	metrics.EventsPublished.WithLabelValues(topicName, "ok").Inc()
	return nil
}

// Subscribe consumes topicName as a member of group until ctx is done.
// Each partition is owned by one member of a group at a time.
func (b *Bus) Subscribe(ctx context.Context, topicName, group string, handler eventbus.Handler) error {
	b.mu.Lock()
	t := b.topicLocked(topicName)
	b.mu.Unlock()

	g := t.group(group)

	eg, ctx := errgroup.WithContext(ctx)
	for i := range t.partitions {
		eg.Go(func() error {
			return b.consume(ctx, t, g, i, group, handler)
		})
	}

	err := eg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close rejects further publishes. Running subscriptions end with their contexts.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *Bus) consume(ctx context.Context, t *topic, g *groupState, idx int, group string, handler eventbus.Handler) error {
	p := t.partitions[idx]
	select {
	case g.claims[idx] <- struct{}{}:
	case <-ctx.Done():
		return nil
	}
	defer func() { <-g.claims[idx] }()

	for {
		offset := g.offset(idx)
		msg, ok, wait := p.at(offset)
		if !ok {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if err := eventbus.Deliver(ctx, group, handler, msg, b.retry); err != nil {
			return nil
		}
		g.commit(idx, msg.Offset+1)
		b.trim(t, idx)
	}
}

// trim drops the prefix of partition idx that every group has consumed and
// that is older than the retention.
func (b *Bus) trim(t *topic, idx int) {
	low, ok := t.lowestOffset(idx)
	if !ok {
		return
	}
	t.partitions[idx].trimBefore(low, b.now().Add(-b.retention))
}

func (b *Bus) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = newTopic(b.partitions)
		b.topics[name] = t
	}
	return t
}

type topic struct {
	partitions []*partition

	mu     sync.Mutex
	groups map[string]*groupState
}

func newTopic(n int) *topic {
	t := &topic{
		partitions: make([]*partition, n),
		groups:     make(map[string]*groupState),
	}
	for i := range t.partitions {
		t.partitions[i] = &partition{index: i, signal: make(chan struct{})}
	}
	return t
}

func (t *topic) group(name string) *groupState {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.groups[name]
	if !ok {
		g = &groupState{
			offsets: make([]int64, len(t.partitions)),
			claims:  make([]chan struct{}, len(t.partitions)),
		}
		for i := range g.claims {
			g.claims[i] = make(chan struct{}, 1)
			g.offsets[i] = t.partitions[i].first()
		}
		t.groups[name] = g
	}
	return g
}

// lowestOffset returns the smallest next offset of partition idx across all
// groups, or false when no group has subscribed yet.
func (t *topic) lowestOffset(idx int) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.groups) == 0 {
		return 0, false
	}
	low := int64(math.MaxInt64)
	for _, g := range t.groups {
		low = min(low, g.offset(idx))
	}
	return low, true
}

type partition struct {
	index int

	mu sync.Mutex
	// base is the offset of msgs[0].
	base   int64
	msgs   []eventbus.Message
	signal chan struct{}
}

func (p *partition) append(msg eventbus.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg.Partition = p.index
	msg.Offset = p.base + int64(len(p.msgs))
	p.msgs = append(p.msgs, msg)

	close(p.signal)
	p.signal = make(chan struct{})
}

// at returns the message at offset, or a channel closed on the next append.
// An offset that was trimmed resolves to the earliest retained message.
func (p *partition) at(offset int64) (eventbus.Message, bool, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := max(offset-p.base, 0)
	if i < int64(len(p.msgs)) {
		return p.msgs[i], true, nil
	}
	return eventbus.Message{}, false, p.signal
}

func (p *partition) first() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.base
}

func (p *partition) retained() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

// trimBefore drops leading messages with an offset below low published no
// later than cutoff.
func (p *partition) trimBefore(low int64, cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for n < len(p.msgs) && p.msgs[n].Offset < low && !p.msgs[n].PublishedAt.After(cutoff) {
		n++
	}
	if n == 0 {
		return
	}
	clear(p.msgs[:n])
	p.msgs = p.msgs[n:]
	p.base += int64(n)
}

type groupState struct {
	mu      sync.Mutex
	offsets []int64
	claims  []chan struct{}
}

func (g *groupState) offset(idx int) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offsets[idx]
}

func (g *groupState) commit(idx int, next int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offsets[idx] = next
}
