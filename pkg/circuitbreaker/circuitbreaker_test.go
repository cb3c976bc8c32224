package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errUpstream = errors.New("upstream unavailable")

func failing(_ context.Context) error { return errUpstream }
func succeeding(_ context.Context) error { return nil }

// tripBreaker drives cb into the open state by executing failing calls.
func tripBreaker(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		err := cb.Execute(context.Background(), failing)
		assert.ErrorIs(t, err, errUpstream)
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", WithFailureThreshold(3))

	tripBreaker(t, cb, 2)
	assert.Equal(t, StateClosed, cb.State(), "below threshold stays closed")

	tripBreaker(t, cb, 1)
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, cb.IsOpen())

	err := cb.Execute(context.Background(), succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen, "open circuit rejects without calling fn")
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := New("test", WithFailureThreshold(3))

	tripBreaker(t, cb, 2)
	assert.NoError(t, cb.Execute(context.Background(), succeeding))
	tripBreaker(t, cb, 2)

	assert.Equal(t, StateClosed, cb.State())
	counts := cb.Counts()
	assert.Equal(t, 5, counts.Requests)
	assert.Equal(t, 4, counts.TotalFailures)
	assert.Equal(t, 2, counts.ConsecutiveFailures)
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithTimeout(20*time.Millisecond),
		WithMaxHalfOpenRequests(2),
	)

	tripBreaker(t, cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	// First success transitions open -> half-open, second closes it.
	assert.NoError(t, cb.Execute(context.Background(), succeeding))
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeeding))
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.IsClosed())
}

func TestCircuitBreaker_FailureInHalfOpenReopens(t *testing.T) {
	cb := New("test",
		WithFailureThreshold(1),
		WithTimeout(10*time.Millisecond),
	)

	tripBreaker(t, cb, 1)
	time.Sleep(20 * time.Millisecond)

	tripBreaker(t, cb, 1)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(5),
		WithTimeout(10*time.Millisecond),
		WithMaxHalfOpenRequests(1),
	)

	tripBreaker(t, cb, 1)
	time.Sleep(20 * time.Millisecond)

	// First probe is admitted and leaves the breaker half-open.
	assert.NoError(t, cb.Execute(context.Background(), succeeding))
	assert.Equal(t, StateHalfOpen, cb.State())

	err := cb.Execute(context.Background(), succeeding)
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := New("callback",
		WithFailureThreshold(1),
		WithOnStateChange(func(name string, from, to State) {
			transitions = append(transitions, name+": "+from.String()+" -> "+to.String())
		}),
	)

	tripBreaker(t, cb, 1)
	assert.Equal(t, []string{"callback: closed -> open"}, transitions)
}

func TestCircuitBreaker_IsFailurePredicate(t *testing.T) {
	benign := errors.New("not found")
	cb := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, benign) }),
	)

	err := cb.Execute(context.Background(), func(_ context.Context) error { return benign })
	assert.ErrorIs(t, err, benign)
	assert.Equal(t, StateClosed, cb.State(), "benign errors do not trip the breaker")

	tripBreaker(t, cb, 1)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ExecuteWithFallback(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	tripBreaker(t, cb, 1)

	called := false
	err := cb.ExecuteWithFallback(context.Background(), succeeding, func(cause error) error {
		called = true
		assert.ErrorIs(t, cause, ErrCircuitOpen)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)

	// Non-breaker errors pass through without invoking the fallback.
	cb.Reset()
	err = cb.ExecuteWithFallback(context.Background(), failing, func(error) error {
		t.Fatal("fallback must not run for upstream errors")
		return nil
	})
	assert.ErrorIs(t, err, errUpstream)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	tripBreaker(t, cb, 1)
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.True(t, cb.IsClosed())
	assert.Equal(t, Counts{}, cb.Counts())
	assert.NoError(t, cb.Execute(context.Background(), succeeding))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestPresetBreakers(t *testing.T) {
	api := ChatAPIBreaker(nil)
	assert.Equal(t, "chat-api", api.Name())

	db := DatabaseBreaker(nil)
	assert.Equal(t, "database", db.Name())
}
