package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientFail(_ context.Context) error {
	return NewTransientError(errors.New("503"), 503)
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	calls := 0
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), transientFail)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Fatal("should not be called while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsTransient(err))
}

func TestCircuitBreaker_InvalidOutputDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		return NewInvalidOutputError(errors.New("bad json"), "{")
	})
	require.Error(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), transientFail)
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(_ context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), transientFail)
	_ = cb.Execute(context.Background(), transientFail)
	now = now.Add(11 * time.Second)

	_ = cb.Execute(context.Background(), transientFail)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_StateChangeAndReset(t *testing.T) {
	var changes []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(from, to CircuitState) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), transientFail)
	cb.Reset()
	assert.Equal(t, []string{"closed->open", "open->closed"}, changes)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(context.Background(), transientFail)
				return
			}
			_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
		}(i)
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestExecuteVal_ReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	v, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFromCircuitSettings(t *testing.T) {
	cfg := FromCircuitSettings(0, 0)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.ResetTimeout)

	cfg = FromCircuitSettings(2, 7)
	assert.Equal(t, 2, cfg.FailureThreshold)
	assert.Equal(t, 7*time.Second, cfg.ResetTimeout)
}
