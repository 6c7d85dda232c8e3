package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}

	assert.Equal(t, 10*time.Millisecond, p.delay(1))
	assert.Equal(t, 20*time.Millisecond, p.delay(2))
	assert.Equal(t, 40*time.Millisecond, p.delay(3))
	assert.Equal(t, 50*time.Millisecond, p.delay(4))
	assert.Equal(t, 50*time.Millisecond, p.delay(10))

	assert.Equal(t, DefaultRetry.Initial, RetryPolicy{}.delay(1))
}

func TestDeliver_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	h := func(context.Context, Message) error {
		calls++
		if calls < 3 {
			return errors.New("sink down")
		}
		return nil
	}

	err := Deliver(context.Background(), "g", h, Message{Topic: "t"}, RetryPolicy{Initial: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDeliver_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := func(context.Context, Message) error {
		calls++
		cancel()
		return errors.New("sink down")
	}

	err := Deliver(ctx, "g", h, Message{Topic: "t"}, RetryPolicy{Initial: time.Hour})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
