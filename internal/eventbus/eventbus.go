// Package eventbus defines a keyed, partitioned publish/subscribe channel with
// at-least-once delivery per consumer group.
//
// Messages published with the same key land in the same partition and are
// delivered to a consumer group in publication order. Partitions are consumed
// concurrently, so there is no ordering across keys.
package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultPartitions is the partition count used when none is configured.
const DefaultPartitions = 8

// ErrClosed is returned when publishing to a bus that has been shut down.
var ErrClosed = errors.New("event bus closed")

// Message is one delivered event.
type Message struct {
	Topic       string
	Partition   int
	Offset      int64
	Key         string
	Payload     []byte
	PublishedAt time.Time
}

// Handler processes one message. A returned error causes redelivery of the
// message to the same group.
type Handler func(ctx context.Context, msg Message) error

// Publisher appends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Subscriber consumes a topic as a member of a consumer group.
type Subscriber interface {
	// Subscribe blocks, feeding messages to handler until ctx is cancelled.
	Subscribe(ctx context.Context, topic, group string, handler Handler) error
}

// Partition maps a key onto one of n partitions.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}
