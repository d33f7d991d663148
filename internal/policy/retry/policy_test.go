package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type refusedErr struct{}

func (refusedErr) Error() string   { return "refused" }
func (refusedErr) Timeout() bool   { return false }
func (refusedErr) Temporary() bool { return false }

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialPolicy(3, time.Millisecond, 10*time.Millisecond)
	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(errors.New("boom"), 1))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", context.DeadlineExceeded), 1))
	require.True(t, p.ShouldRetry(timeoutErr{}, 1))
	require.False(t, p.ShouldRetry(refusedErr{}, 1))
	require.True(t, p.ShouldRetry(fmt.Errorf("get: %w", &RetryableStatusError{Code: 503}), 2))
	require.False(t, p.ShouldRetry(fmt.Errorf("get: %w", Permanent(errors.New("401"))), 1))
	require.NoError(t, Permanent(nil))
	require.EqualError(t, Permanent(errors.New("bad key")), "bad key")
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialPolicy(0, 0, 0)
	require.Equal(t, 3, p.MaxAttempts())
	require.Equal(t, 250*time.Millisecond, p.baseDelay)
	require.Equal(t, 5*time.Second, p.maxDelay)
}

func TestBackoffIsCapped(t *testing.T) {
	t.Parallel()

	p := NewExponentialPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := range 8 {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 400*time.Millisecond)
	}
	require.GreaterOrEqual(t, p.Backoff(6), 200*time.Millisecond)
}

func TestSleepHonoursContext(t *testing.T) {
	t.Parallel()

	p := NewExponentialPolicy(3, time.Second, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Sleep(ctx, 1), context.Canceled)
}

func TestRetryableStatusErrorMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "retryable upstream status 502", (&RetryableStatusError{Code: 502}).Error())
}
