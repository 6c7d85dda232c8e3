package incidents

import (
	"fmt"
	"sync/atomic"
	"time"
)

// NumberGenerator issues human-readable incident numbers of the form
// INC-YYYYMMDD-NNNN.
//
// The sequence is an in-process counter seeded from the store's record count,
// so it is only unique within one process lifetime. After a restart or with
// several replicas the store's unique constraint is the backstop and a
// collision surfaces as ErrDuplicateNumber.
type NumberGenerator struct {
	counter atomic.Int64
	now     func() time.Time
}

// NewNumberGenerator creates a generator whose first number is seed+1.
func NewNumberGenerator(seed int64) *NumberGenerator {
	g := &NumberGenerator{now: time.Now}
	g.counter.Store(seed)
	return g
}

// Next returns the next incident number. Safe for concurrent use.
func (g *NumberGenerator) Next() string {
	seq := g.counter.Add(1)
	return fmt.Sprintf("INC-%s-%04d", g.now().UTC().Format("20060102"), seq)
}
