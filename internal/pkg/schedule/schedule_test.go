package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("@every 1m"))
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.Error(t, Validate("every minute"))
	assert.Error(t, Validate(""))
}

func TestRun_InvalidSpec(t *testing.T) {
	err := Run(context.Background(), "broken", "not a spec", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestRun_ExecutesUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, "test", "@every 1s", func(context.Context) error {
			runs.Add(1)
			return errors.New("logged, not fatal")
		})
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
