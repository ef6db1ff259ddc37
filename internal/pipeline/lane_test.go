package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/retryutil"
)

func startLane(t *testing.T, cfg LaneConfig) *Lane {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l := NewLane(cfg, zap.NewNop())
	go l.Run(ctx)
	return l
}

func TestLane_NoTaskLostOrDoubleCounted(t *testing.T) {
	t.Parallel()

	l := startLane(t, LaneConfig{Name: "test", Concurrency: 4})

	const total = 20
	chans := make([]<-chan error, 0, total)
	for i := 0; i < total; i++ {
		i := i
		chans = append(chans, l.Submit(func(context.Context) error {
			if i%5 == 0 {
				return retryutil.Terminal(errors.New("bad unit"))
			}
			return nil
		}))
	}
	for _, ch := range chans {
		<-ch
	}

	require.NoError(t, l.OnIdle(context.Background()))
	stats := l.Stats()
	require.Equal(t, total, stats.Completed+stats.Failed)
	require.Equal(t, 4, stats.Failed)
	require.Zero(t, stats.Pending)
	require.Zero(t, stats.Running)
}

func TestLane_ConcurrencyOneNeverOverlaps(t *testing.T) {
	t.Parallel()

	l := startLane(t, LaneConfig{Name: "serial", Concurrency: 1})

	var mu sync.Mutex
	var inFlight, maxInFlight int
	for i := 0; i < 8; i++ {
		l.Submit(func(context.Context) error {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		})
	}

	require.NoError(t, l.OnIdle(context.Background()))
	require.Equal(t, 1, maxInFlight)
}

func TestLane_PacingHonorsSpacingFloor(t *testing.T) {
	t.Parallel()

	const spacing = 100 * time.Millisecond
	l := startLane(t, LaneConfig{Name: "paced", Concurrency: 1, Spacing: spacing})

	var mu sync.Mutex
	var starts []time.Time
	record := func(context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil
	}
	l.Submit(record)
	l.Submit(record)

	require.NoError(t, l.OnIdle(context.Background()))
	require.Len(t, starts, 2)
	gap := starts[1].Sub(starts[0])
	// -20% jitter floor.
	require.GreaterOrEqual(t, gap, time.Duration(float64(spacing)*0.8))
}

func TestLane_RetrySucceedsWithoutFailedCount(t *testing.T) {
	t.Parallel()

	l := startLane(t, LaneConfig{Name: "retry", Concurrency: 1, MaxRetries: 3, BaseBackoff: time.Millisecond})

	var attempts atomic.Int32
	done := l.Submit(func(context.Context) error {
		if attempts.Add(1) <= 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, <-done)
	require.Equal(t, int32(3), attempts.Load())
	stats := l.Stats()
	require.Equal(t, 1, stats.Completed)
	require.Zero(t, stats.Failed)
}

func TestLane_RetryExhaustionPropagates(t *testing.T) {
	t.Parallel()

	l := startLane(t, LaneConfig{Name: "exhaust", Concurrency: 1, MaxRetries: 2, BaseBackoff: time.Millisecond})

	var attempts atomic.Int32
	boom := errors.New("boom")
	done := l.Submit(func(context.Context) error {
		attempts.Add(1)
		return boom
	})

	require.ErrorIs(t, <-done, boom)
	require.Equal(t, int32(3), attempts.Load())
	require.Equal(t, 1, l.Stats().Failed)
}

func TestLane_PriorityDrainsFirst(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l := NewLane(LaneConfig{Name: "prio", Concurrency: 1}, zap.NewNop())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	// Queue before the dispatcher starts so ordering is decided by the heap.
	l.Submit(record("low-1"))
	l.Submit(record("low-2"))
	l.SubmitPriority(10, record("high"))

	go l.Run(ctx)
	require.NoError(t, l.OnIdle(context.Background()))
	require.Equal(t, []string{"high", "low-1", "low-2"}, order)
}

func TestLane_OnIdleObservesLateSubmissions(t *testing.T) {
	t.Parallel()

	l := startLane(t, LaneConfig{Name: "late", Concurrency: 2})

	release := make(chan struct{})
	l.Submit(func(context.Context) error {
		<-release
		return nil
	})

	idle := make(chan error, 1)
	go func() { idle <- l.OnIdle(context.Background()) }()

	// Submit more work while OnIdle is already waiting.
	var ran atomic.Bool
	l.Submit(func(context.Context) error {
		ran.Store(true)
		return nil
	})
	close(release)

	require.NoError(t, <-idle)
	require.True(t, ran.Load())
	require.Equal(t, 2, l.Stats().Completed)
}

func TestLane_SubmitAfterStopFailsFast(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	l := NewLane(LaneConfig{Name: "stopped", Concurrency: 1}, zap.NewNop())
	go l.Run(ctx)
	cancel()

	require.Eventually(t, func() bool {
		err := <-l.Submit(func(context.Context) error { return nil })
		return errors.Is(err, ErrLaneStopped)
	}, time.Second, 5*time.Millisecond)
}
