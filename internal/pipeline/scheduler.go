package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Lane names used by the scheduler.
const (
	LaneList   = "list"
	LaneDetail = "detail"
	LaneMedia  = "media"
	LaneSync   = "sync"
)

// SchedulerConfig carries the per-lane configuration. Zero-valued fields are
// layered onto the documented defaults by DefaultSchedulerConfig callers.
type SchedulerConfig struct {
	List   LaneConfig
	Detail LaneConfig
	Media  LaneConfig
	Sync   LaneConfig
}

// DefaultSchedulerConfig returns the documented lane defaults:
// list={conc:1, spacing:5s}, detail={conc:2, spacing:3s},
// media={conc:3, spacing:1s}, sync={conc:2, spacing:500ms};
// all lanes retry 3 times with a 2s base backoff.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		List:   LaneConfig{Name: LaneList, Concurrency: 1, Spacing: 5 * time.Second, Jitter: 0.2, MaxRetries: 3, BaseBackoff: 2 * time.Second},
		Detail: LaneConfig{Name: LaneDetail, Concurrency: 2, Spacing: 3 * time.Second, Jitter: 0.2, MaxRetries: 3, BaseBackoff: 2 * time.Second},
		Media:  LaneConfig{Name: LaneMedia, Concurrency: 3, Spacing: time.Second, Jitter: 0.2, MaxRetries: 3, BaseBackoff: 2 * time.Second},
		Sync:   LaneConfig{Name: LaneSync, Concurrency: 2, Spacing: 500 * time.Millisecond, Jitter: 0.2, MaxRetries: 3, BaseBackoff: 2 * time.Second},
	}
}

// Scheduler composes the four pipeline lanes into one coordinated unit.
type Scheduler struct {
	list   *Lane
	detail *Lane
	media  *Lane
	sync   *Lane

	startOnce sync.Once
	logger    *zap.Logger
}

// NewScheduler builds the four lanes from cfg.
func NewScheduler(cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.List.Name = LaneList
	cfg.Detail.Name = LaneDetail
	cfg.Media.Name = LaneMedia
	cfg.Sync.Name = LaneSync
	return &Scheduler{
		list:   NewLane(cfg.List, logger),
		detail: NewLane(cfg.Detail, logger),
		media:  NewLane(cfg.Media, logger),
		sync:   NewLane(cfg.Sync, logger),
		logger: logger,
	}
}

// Start launches all lane dispatch loops. Subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for _, l := range s.lanes() {
			go l.Run(ctx)
		}
	})
}

// AddListTask submits work to the list lane.
func (s *Scheduler) AddListTask(run func(ctx context.Context) error) <-chan error {
	return s.list.Submit(run)
}

// AddDetailTask submits work to the detail lane.
func (s *Scheduler) AddDetailTask(run func(ctx context.Context) error) <-chan error {
	return s.detail.Submit(run)
}

// AddMediaTask submits work to the media lane.
func (s *Scheduler) AddMediaTask(run func(ctx context.Context) error) <-chan error {
	return s.media.Submit(run)
}

// AddSyncTask submits work to the sync lane.
func (s *Scheduler) AddSyncTask(run func(ctx context.Context) error) <-chan error {
	return s.sync.Submit(run)
}

// WaitForAll blocks until every lane reports zero pending and zero running
// tasks, or the context finishes.
func (s *Scheduler) WaitForAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.lanes() {
		g.Go(func() error { return l.OnIdle(gctx) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("wait for lanes: %w", err)
	}
	return nil
}

// Stats returns an aggregated snapshot plus per-lane detail. Pure read.
func (s *Scheduler) Stats() Snapshot {
	var snap Snapshot
	for _, l := range s.lanes() {
		snap.add(l.Name(), l.Stats())
	}
	return snap
}

func (s *Scheduler) lanes() []*Lane {
	return []*Lane{s.list, s.detail, s.media, s.sync}
}
