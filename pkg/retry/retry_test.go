package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Exponential(3, time.Millisecond, 5*time.Millisecond), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Exponential(2, 0, 0), func() error {
		calls++
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("stop")
	calls := 0
	err := Do(context.Background(), Exponential(5, 0, 0), func() error {
		calls++
		return Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDoWithLog_ReportsDoublingDelays(t *testing.T) {
	var delays []time.Duration
	_ = DoWithLog(context.Background(), Exponential(4, time.Microsecond, time.Hour), "svc", func() error {
		return errors.New("fail")
	}, func(attempt int, err error, next time.Duration) {
		delays = append(delays, next)
	})

	assert.Equal(t, []time.Duration{time.Microsecond, 2 * time.Microsecond, 4 * time.Microsecond}, delays)
}

func TestDo_CancelledContextAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Exponential(3, time.Hour, time.Hour), func() error {
		calls++
		cancel()
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
