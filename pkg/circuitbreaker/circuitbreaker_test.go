package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream unavailable")

func newTestBreaker(timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(Settings{
		Name:        "test",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     timeout,
	})
}

func TestExecutePassesThroughWhileClosed(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	calls := 0

	err := cb.Execute(func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestTripsOpenAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return errDownstream })
		assert.ErrorIs(t, err, errDownstream)
	}

	calls := 0
	err := cb.Execute(func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 0, calls, "open breaker must not invoke the call")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	require.Error(t, cb.Execute(func() error { return errDownstream }))
	require.Error(t, cb.Execute(func() error { return errDownstream }))
	require.NoError(t, cb.Execute(func() error { return nil }))

	// Two more failures stay under the threshold after the reset.
	require.Error(t, cb.Execute(func() error { return errDownstream }))
	require.Error(t, cb.Execute(func() error { return errDownstream }))

	err := cb.Execute(func() error { return nil })
	assert.NoError(t, err)
}

func TestReclosesAfterTimeout(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDownstream })
	}
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrOpen)

	time.Sleep(20 * time.Millisecond)

	// The first call after the timeout goes through and closes the
	// breaker again.
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.NoError(t, cb.Execute(func() error { return nil }))
}

func TestStaysOpenWhenTrialCallFails(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDownstream })
	}
	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(func() error { return errDownstream })
	require.ErrorIs(t, err, errDownstream)

	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrOpen)
}
