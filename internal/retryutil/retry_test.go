package retryutil

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	err := Do(context.Background(), Policy{MaxRetries: 3, BaseBackoff: time.Millisecond}, func(context.Context) error {
		if attempts.Add(1) <= 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, int32(3), attempts.Load())
}

func TestDo_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	boom := errors.New("boom")
	err := Do(context.Background(), Policy{MaxRetries: 2, BaseBackoff: time.Millisecond}, func(context.Context) error {
		attempts.Add(1)
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(3), attempts.Load())
}

func TestDo_TerminalStopsImmediately(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	err := Do(context.Background(), Policy{MaxRetries: 5, BaseBackoff: time.Millisecond}, func(context.Context) error {
		attempts.Add(1)
		return Terminal(errors.New("permanent"))
	})

	require.Error(t, err)
	require.True(t, IsTerminal(err))
	require.Equal(t, int32(1), attempts.Load())
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32
	err := Do(ctx, Policy{MaxRetries: 10, BaseBackoff: time.Hour}, func(context.Context) error {
		attempts.Add(1)
		cancel()
		return errors.New("transient")
	})

	require.Error(t, err)
	require.Equal(t, int32(1), attempts.Load())
}

func TestPolicyBackoffGrowsGeometrically(t *testing.T) {
	t.Parallel()

	p := Policy{BaseBackoff: 2 * time.Second, Multiplier: 1.5}
	require.Equal(t, 3*time.Second, p.Backoff(1))
	require.Equal(t, 4500*time.Millisecond, p.Backoff(2))

	capped := Policy{BaseBackoff: 2 * time.Second, Multiplier: 1.5, MaxBackoff: 3 * time.Second}
	require.Equal(t, 3*time.Second, capped.Backoff(5))
}

func TestPoll_ResolvesOncePredicateHolds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	err := Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		return calls.Add(1) >= 3, nil
	})

	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestPoll_TimesOut(t *testing.T) {
	t.Parallel()

	err := Poll(context.Background(), time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})

	require.ErrorIs(t, err, ErrPollTimeout)
}

func TestPoll_PropagatesPredicateError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		return false, boom
	})

	require.ErrorIs(t, err, boom)
}
