// Package pipeline implements the rate-limited lanes and the multi-stage
// scheduler that drives the content-acquisition pipeline.
package pipeline

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/retryutil"
)

// ErrLaneStopped is returned for tasks submitted after the lane shut down.
var ErrLaneStopped = errors.New("lane stopped")

// LaneConfig describes one named lane. Immutable after construction.
type LaneConfig struct {
	Name        string
	Concurrency int
	Spacing     time.Duration
	Jitter      float64
	MaxRetries  int
	BaseBackoff time.Duration
}

func (c LaneConfig) withDefaults() LaneConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Jitter <= 0 {
		c.Jitter = 0.2
	}
	return c
}

type task struct {
	run      func(ctx context.Context) error
	priority int
	seq      uint64
	done     chan error
}

// Lane is a concurrency-bounded worker pool with inter-dispatch pacing and
// in-place retry. Dispatch order is priority first, then FIFO.
type Lane struct {
	cfg    LaneConfig
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskHeap
	seq     uint64
	stats   LaneStats
	stopped bool

	// lastDispatch is touched only by the dispatch loop goroutine.
	lastDispatch time.Time
}

// NewLane constructs a lane. Run must be called before tasks execute.
func NewLane(cfg LaneConfig, logger *zap.Logger) *Lane {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lane{
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("lane", cfg.Name)),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Submit queues a task at default priority and returns a channel that
// receives the terminal result exactly once.
func (l *Lane) Submit(run func(ctx context.Context) error) <-chan error {
	return l.SubmitPriority(0, run)
}

// SubmitPriority queues a task; higher priority drains before FIFO order.
func (l *Lane) SubmitPriority(priority int, run func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		done <- ErrLaneStopped
		return done
	}
	l.seq++
	heap.Push(&l.queue, &task{run: run, priority: priority, seq: l.seq, done: done})
	l.stats.Pending++
	metrics.SetLaneDepth(l.cfg.Name, l.stats.Pending, l.stats.Running)
	l.cond.Broadcast()
	l.mu.Unlock()
	return done
}

// Run dispatches queued tasks until the context finishes and all accepted
// work has drained. It blocks and is intended to run in its own goroutine.
func (l *Lane) Run(ctx context.Context) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-stop:
		}
	}()

	slots := make(chan struct{}, l.cfg.Concurrency)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var wg sync.WaitGroup

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			break
		}
		t := heap.Pop(&l.queue).(*task)
		l.mu.Unlock()

		if ctx.Err() != nil {
			l.finish(t, fmt.Errorf("lane %s canceled: %w", l.cfg.Name, ctx.Err()))
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			l.finish(t, fmt.Errorf("lane %s canceled: %w", l.cfg.Name, ctx.Err()))
			continue
		}

		l.pace(ctx, rng)
		l.markRunning()

		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			defer func() { <-slots }()
			policy := retryutil.Policy{
				MaxRetries:  l.cfg.MaxRetries,
				BaseBackoff: l.cfg.BaseBackoff,
				Multiplier:  1.5,
			}
			err := retryutil.Do(ctx, policy, t.run)
			l.finishRunning(t, err)
		}(t)
	}
	wg.Wait()
}

// pace sleeps so consecutive dispatches are at least Spacing apart, with a
// uniform +/-Jitter perturbation on the sleep. lastDispatch is updated once
// per dispatch, after the sleep.
func (l *Lane) pace(ctx context.Context, rng *rand.Rand) {
	if l.cfg.Spacing <= 0 || l.lastDispatch.IsZero() {
		l.lastDispatch = time.Now()
		return
	}
	elapsed := time.Since(l.lastDispatch)
	if elapsed >= l.cfg.Spacing {
		l.lastDispatch = time.Now()
		return
	}
	sleep := l.cfg.Spacing - elapsed
	factor := 1 + (rng.Float64()*2-1)*l.cfg.Jitter
	sleep = time.Duration(float64(sleep) * factor)
	if err := retryutil.Sleep(ctx, sleep); err == nil {
		metrics.ObserveDispatchDelay(l.cfg.Name, sleep)
	}
	l.lastDispatch = time.Now()
}

func (l *Lane) markRunning() {
	l.mu.Lock()
	l.stats.Pending--
	l.stats.Running++
	metrics.SetLaneDepth(l.cfg.Name, l.stats.Pending, l.stats.Running)
	l.cond.Broadcast()
	l.mu.Unlock()
}

// finish records the terminal result of a task that never started running.
func (l *Lane) finish(t *task, err error) {
	l.mu.Lock()
	l.stats.Pending--
	l.stats.Failed++
	metrics.SetLaneDepth(l.cfg.Name, l.stats.Pending, l.stats.Running)
	l.cond.Broadcast()
	l.mu.Unlock()
	metrics.ObserveLaneTask(l.cfg.Name, "failed")
	t.done <- err
}

func (l *Lane) finishRunning(t *task, err error) {
	l.mu.Lock()
	l.stats.Running--
	if err != nil {
		l.stats.Failed++
	} else {
		l.stats.Completed++
	}
	metrics.SetLaneDepth(l.cfg.Name, l.stats.Pending, l.stats.Running)
	l.cond.Broadcast()
	l.mu.Unlock()

	if err != nil {
		metrics.ObserveLaneTask(l.cfg.Name, "failed")
		l.logger.Warn("task failed terminally", zap.Error(err))
	} else {
		metrics.ObserveLaneTask(l.cfg.Name, "completed")
	}
	t.done <- err
}

// OnIdle blocks until the lane has zero pending and zero running tasks. It
// observes tasks submitted after the wait began; there is no lost wakeup
// because every state transition broadcasts on the lane condition.
func (l *Lane) OnIdle(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.cond.Broadcast()
		case <-stop:
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.stats.Pending+l.stats.Running > 0 {
		if ctx.Err() != nil {
			return fmt.Errorf("lane %s drain: %w", l.cfg.Name, ctx.Err())
		}
		l.cond.Wait()
	}
	return nil
}

// Stats returns a read-only snapshot of the lane counters.
func (l *Lane) Stats() LaneStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Name returns the lane's configured name.
func (l *Lane) Name() string { return l.cfg.Name }

// taskHeap orders tasks by priority (descending), then submission order.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
