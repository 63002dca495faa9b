package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err))
}

func TestDo_InvalidOutputNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return NewInvalidOutputError(errors.New("bad"), "x")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := fastRetry()
	cfg.MaxAttempts = 10
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("temporary"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("x"), 429)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("x"), 502)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestNextBackoff_Exponential(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, cfg.NextBackoff(0))
	assert.Equal(t, 200*time.Millisecond, cfg.NextBackoff(1))
	assert.Equal(t, 400*time.Millisecond, cfg.NextBackoff(2))
	assert.Equal(t, time.Second, cfg.NextBackoff(10))
}

func TestNextBackoff_JitterBounded(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, Multiplier: 2, JitterFraction: 0.5}
	for i := 0; i < 50; i++ {
		d := cfg.NextBackoff(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(5, 10, 100)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 100*time.Millisecond, cfg.MaxBackoff)

	def := FromSettings(0, 0, 0)
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
}
