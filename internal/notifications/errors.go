package notifications

import (
	"errors"
	"fmt"
)

// Dispatch errors.
var (
	ErrNoSender  = errors.New("no sender configured for sink")
	ErrNoAddress = errors.New("no address configured for audience")
)

// SendError is returned by sinks. Retryable marks transient failures
// (timeouts, throttling, 5xx) as opposed to rejected requests. Deliveries are
// never retried; the flag only labels metrics and logs.
type SendError struct {
	Err       error
	Retryable bool
}

func (e *SendError) Error() string {
	return e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable send failure.
func Transient(format string, args ...any) *SendError {
	return &SendError{Err: fmt.Errorf(format, args...), Retryable: true}
}

// Permanent wraps err as a non-retryable send failure.
func Permanent(format string, args ...any) *SendError {
	return &SendError{Err: fmt.Errorf(format, args...), Retryable: false}
}

// failureKind labels an error for metrics.
func failureKind(err error) string {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		if sendErr.Retryable {
			return "transient"
		}
		return "permanent"
	}
	if errors.Is(err, ErrNoSender) || errors.Is(err, ErrNoAddress) {
		return "unrouted"
	}
	return "failed"
}
