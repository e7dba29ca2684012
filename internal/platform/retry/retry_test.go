package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/keyrelay/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	got, err := retry.Do(context.Background(), clockwork.NewRealClock(), fastPolicy, func(context.Context) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), clockwork.NewRealClock(), fastPolicy, func(context.Context) (struct{}, error) {
		calls++
		if calls < 3 {
			return struct{}{}, errors.New("transient")
		}
		return struct{}{}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	_, err := retry.Do(context.Background(), clockwork.NewRealClock(), fastPolicy, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	bad := errors.New("invalid URL")
	calls := 0
	_, err := retry.Do(context.Background(), clockwork.NewRealClock(), fastPolicy, func(context.Context) (int, error) {
		calls++
		return 0, retry.Permanent(bad)
	})

	assert.Equal(t, bad, err)
	assert.Equal(t, 1, calls)
}

func TestDo_BackoffDoublesUpToCap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var backoffs []time.Duration
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
		OnRetry: func(_ int, _ error, backoff time.Duration) {
			backoffs = append(backoffs, backoff)
		},
	}

	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(context.Background(), clock, policy, func(context.Context) (int, error) {
			return 0, errors.New("down")
		})
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for range 4 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(3 * time.Second)
	}

	require.Error(t, <-done)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, backoffs)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retry.Do(ctx, clockwork.NewFakeClock(), fastPolicy, func(context.Context) (int, error) {
		return 0, errors.New("down")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_InvalidPolicy(t *testing.T) {
	_, err := retry.Do(context.Background(), clockwork.NewRealClock(), retry.Policy{}, func(context.Context) (int, error) {
		return 0, nil
	})

	assert.Error(t, err)
}
