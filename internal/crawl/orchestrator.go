package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/antibot"
	"github.com/scrapeline/scrapeline/internal/fetch"
	"github.com/scrapeline/scrapeline/internal/ingest"
	"github.com/scrapeline/scrapeline/internal/pipeline"
	"github.com/scrapeline/scrapeline/internal/retryutil"
)

const (
	defaultChallengeInterval = 5 * time.Second
	defaultChallengeTimeout  = 60 * time.Second
	defaultDrainTimeout      = 10 * time.Minute
	defaultStatsInterval     = 30 * time.Second
	defaultPayloadType       = "crawl_item"
	defaultMediaKeyPrefix    = "media"
)

// Config tunes one orchestrator run.
type Config struct {
	StartURL     string
	SyncEndpoint string
	PayloadType  string

	// MaxItems and MaxPages are global stop conditions; zero means unlimited.
	// Once tripped no new work is submitted, in-flight tasks finish.
	MaxItems int
	MaxPages int

	MediaKeyPrefix    string
	ChallengeInterval time.Duration
	ChallengeTimeout  time.Duration
	DrainTimeout      time.Duration
	StatsInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PayloadType == "" {
		c.PayloadType = defaultPayloadType
	}
	if c.MediaKeyPrefix == "" {
		c.MediaKeyPrefix = defaultMediaKeyPrefix
	}
	if c.ChallengeInterval <= 0 {
		c.ChallengeInterval = defaultChallengeInterval
	}
	if c.ChallengeTimeout <= 0 {
		c.ChallengeTimeout = defaultChallengeTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = defaultStatsInterval
	}
	return c
}

// Deps collects the orchestrator's collaborators. Probe, Records, and
// Publisher are optional; the rest are required.
type Deps struct {
	Scheduler  *pipeline.Scheduler
	Browser    Browser
	Detector   *antibot.Detector
	Strategies *Registry
	Media      MediaProcessor
	Syncer     Syncer

	Probe     fetch.Fetcher
	Records   RecordStore
	Publisher Publisher

	Logger *zap.Logger
}

// Orchestrator drives a whole crawl: list pages through the list lane,
// discovered items through the detail lane, resolved items through the media
// and sync lanes.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	mu       sync.Mutex
	pages    int
	items    int
	stopped  bool
	fatalErr error
	abort    context.CancelFunc
}

// New validates the collaborators and creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.StartURL == "" {
		return nil, fmt.Errorf("start url is required")
	}
	if cfg.SyncEndpoint == "" {
		return nil, fmt.Errorf("sync endpoint is required")
	}
	if deps.Scheduler == nil || deps.Browser == nil || deps.Detector == nil ||
		deps.Strategies == nil || deps.Media == nil || deps.Syncer == nil {
		return nil, fmt.Errorf("scheduler, browser, detector, strategies, media, and syncer are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  deps.Logger,
	}, nil
}

// Run executes the crawl until all lanes drain, a stop condition trips, the
// context is canceled, or a fatal condition aborts the run.
//
// Context cancellation is a graceful stop: no new tasks are submitted,
// in-flight tasks finish, and the drain is bounded by DrainTimeout. Work
// already synced stays synced; the remote upsert is idempotent by slug.
func (o *Orchestrator) Run(ctx context.Context) error {
	strategy, err := o.deps.Strategies.Match(o.cfg.StartURL)
	if err != nil {
		return err
	}
	o.log.Info("starting crawl",
		zap.String("url", o.cfg.StartURL),
		zap.String("strategy", strategy.Name()))

	if err := o.deps.Browser.Launch(ctx); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer o.deps.Browser.Close()

	// Lanes run on a context detached from the caller's so a graceful stop
	// can drain in-flight work; abort cancels it on fatal conditions.
	laneCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.mu.Lock()
	o.abort = cancel
	o.mu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() {
		o.log.Info("stop requested, draining lanes")
		o.markStopped()
	})
	defer stopWatch()

	o.deps.Scheduler.Start(laneCtx)

	statsDone := make(chan struct{})
	go o.statsLoop(laneCtx, statsDone)
	defer func() {
		cancel()
		<-statsDone
	}()

	o.submitListPage(strategy, o.cfg.StartURL)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), o.cfg.DrainTimeout)
	defer drainCancel()
	if err := o.deps.Scheduler.WaitForAll(drainCtx); err != nil {
		return fmt.Errorf("drain pipeline: %w", err)
	}

	if fatal := o.fatal(); fatal != nil {
		return fatal
	}
	o.logStats("crawl finished")
	return nil
}

// submitListPage enqueues one list page unless a stop condition holds.
func (o *Orchestrator) submitListPage(strategy Strategy, pageURL string) {
	if !o.allowPage() {
		return
	}
	o.deps.Scheduler.AddListTask(func(ctx context.Context) error {
		page, err := o.fetchPage(ctx, pageURL)
		if err != nil {
			return err
		}
		result, err := strategy.ListPage(page)
		if err != nil {
			return fmt.Errorf("extract list page: %w", err)
		}
		for _, itemURL := range result.ItemURLs {
			if !o.allowItem() {
				break
			}
			o.submitDetail(strategy, itemURL)
		}
		if result.NextURL != "" {
			o.submitListPage(strategy, result.NextURL)
		}
		return nil
	})
}

func (o *Orchestrator) submitDetail(strategy Strategy, itemURL string) {
	o.deps.Scheduler.AddDetailTask(func(ctx context.Context) error {
		page, err := o.fetchPage(ctx, itemURL)
		if err != nil {
			return err
		}
		item, err := strategy.DetailPage(page)
		if err != nil {
			return fmt.Errorf("extract detail page: %w", err)
		}
		o.scheduleItem(item)
		return nil
	})
}

// scheduleItem routes a resolved item onward: through the media lane when it
// carries media URLs, straight to the sync lane otherwise. The sync task is
// submitted from inside the media task so the pipeline never looks idle
// between the two stages.
func (o *Orchestrator) scheduleItem(item CrawlItem) {
	if o.isStopped() {
		return
	}
	if len(item.MediaURLs) == 0 {
		o.submitSync(item, nil)
		return
	}
	item = item.Clone()
	o.deps.Scheduler.AddMediaTask(func(ctx context.Context) error {
		stored, err := o.processMedia(ctx, item)
		if err != nil {
			return err
		}
		o.submitSync(item, stored)
		return nil
	})
}

// processMedia runs every source URL of the item through the media pipeline.
// Individual source failures are tolerated; only a total wipeout fails the
// task.
func (o *Orchestrator) processMedia(ctx context.Context, item CrawlItem) (map[string]string, error) {
	stored := make(map[string]string)
	var firstErr error
	for i, src := range item.MediaURLs {
		base := item.Slug
		if i > 0 {
			base = fmt.Sprintf("%s-%d", item.Slug, i+1)
		}
		variants, err := o.deps.Media.Process(ctx, src, o.cfg.MediaKeyPrefix, base)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			o.log.Warn("media source failed",
				zap.String("slug", item.Slug),
				zap.String("source", src),
				zap.Error(err))
			continue
		}
		for _, v := range variants {
			key := v.Key
			if i > 0 {
				key = fmt.Sprintf("%s-%d", v.Key, i+1)
			}
			stored[key] = v.URL
		}
	}
	if len(stored) == 0 && firstErr != nil {
		return nil, fmt.Errorf("media for %s: %w", item.Slug, firstErr)
	}
	return stored, nil
}

func (o *Orchestrator) submitSync(item CrawlItem, mediaURLs map[string]string) {
	o.deps.Scheduler.AddSyncTask(func(ctx context.Context) error {
		payload := ingest.Payload{
			Type: o.cfg.PayloadType,
			Data: syncData{CrawlItem: item, Media: mediaURLs},
		}
		result, err := o.deps.Syncer.Sync(ctx, o.cfg.SyncEndpoint, payload)
		if err != nil {
			// A single item's permanent sync failure must not halt the
			// crawl: log it and let the lane mark the task failed.
			if retryutil.IsTerminal(err) {
				o.log.Warn("sync failed permanently",
					zap.String("slug", item.Slug),
					zap.Error(err))
			}
			return err
		}
		if !result.Success {
			o.log.Warn("ingestion rejected record",
				zap.String("slug", item.Slug),
				zap.String("message", result.Message))
		}
		o.recordSynced(ctx, item, mediaURLs)
		return nil
	})
}

// recordSynced mirrors the synced item into the local store and emits the
// completion event. Both are best-effort; the sync itself already succeeded.
func (o *Orchestrator) recordSynced(ctx context.Context, item CrawlItem, mediaURLs map[string]string) {
	if o.deps.Records != nil {
		if err := o.deps.Records.Upsert(ctx, item, mediaURLs, time.Now().UTC()); err != nil {
			o.log.Warn("record store upsert failed",
				zap.String("slug", item.Slug),
				zap.Error(err))
		}
	}
	if o.deps.Publisher != nil {
		if _, err := o.deps.Publisher.Publish(ctx, "crawl.item.synced", syncData{CrawlItem: item, Media: mediaURLs}); err != nil {
			o.log.Warn("publish completion event failed",
				zap.String("slug", item.Slug),
				zap.Error(err))
		}
	}
}

// syncData is the Data half of the ingestion payload; the slug inside is the
// remote upsert key.
type syncData struct {
	CrawlItem
	Media map[string]string `json:"media,omitempty"`
}

// fetchPage retrieves a page, probing over plain HTTP first and promoting to
// the browser when the probe fails, returns a non-200, or the page looks like
// an anti-bot response. Hard blocks abort the run.
func (o *Orchestrator) fetchPage(ctx context.Context, pageURL string) (fetch.Result, error) {
	if o.deps.Probe != nil {
		page, err := o.deps.Probe.Fetch(ctx, pageURL)
		if err == nil {
			signal := o.deps.Detector.Classify(page.Title, page.Body)
			switch signal.Verdict {
			case antibot.VerdictHardBlock:
				return fetch.Result{}, o.fatalBlock(pageURL, signal.Diagnostic)
			case antibot.VerdictClean:
				if !signal.Suspicious && page.StatusCode == 200 {
					return page, nil
				}
			}
		} else {
			o.log.Debug("probe fetch failed, promoting to browser",
				zap.String("url", pageURL),
				zap.Error(err))
		}
	}

	page, err := o.deps.Browser.Fetch(ctx, pageURL)
	if err != nil {
		return fetch.Result{}, fmt.Errorf("browser fetch %s: %w", pageURL, err)
	}
	signal := o.deps.Detector.Classify(page.Title, page.Body)
	switch signal.Verdict {
	case antibot.VerdictHardBlock:
		return fetch.Result{}, o.fatalBlock(pageURL, signal.Diagnostic)
	case antibot.VerdictChallenge:
		err := o.deps.Detector.AwaitClean(ctx, o.cfg.ChallengeInterval, o.cfg.ChallengeTimeout,
			func(pollCtx context.Context) (string, string, error) {
				refetched, err := o.deps.Browser.Fetch(pollCtx, pageURL)
				if err != nil {
					return "", "", err
				}
				page = refetched
				return refetched.Title, refetched.Body, nil
			})
		if errors.Is(err, antibot.ErrHardBlock) {
			return fetch.Result{}, o.fatalBlock(pageURL, err.Error())
		}
		if err != nil {
			return fetch.Result{}, fmt.Errorf("challenge on %s: %w", pageURL, err)
		}
	}
	return page, nil
}

// fatalBlock records the hard block, halts submissions, and aborts the lanes.
// The returned error is terminal so the lane does not retry it.
func (o *Orchestrator) fatalBlock(pageURL, diagnostic string) error {
	err := fmt.Errorf("%s on %s: %w", diagnostic, pageURL, antibot.ErrHardBlock)
	o.mu.Lock()
	if o.fatalErr == nil {
		o.fatalErr = err
	}
	o.stopped = true
	abort := o.abort
	o.mu.Unlock()

	o.log.Error("hard block detected, aborting crawl",
		zap.String("url", pageURL),
		zap.String("diagnostic", diagnostic))
	if abort != nil {
		abort()
	}
	return retryutil.Terminal(err)
}

func (o *Orchestrator) allowPage() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	if o.cfg.MaxPages > 0 && o.pages >= o.cfg.MaxPages {
		return false
	}
	o.pages++
	return true
}

func (o *Orchestrator) allowItem() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	if o.cfg.MaxItems > 0 && o.items >= o.cfg.MaxItems {
		return false
	}
	o.items++
	return true
}

func (o *Orchestrator) markStopped() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

func (o *Orchestrator) fatal() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fatalErr
}

// statsLoop logs a per-lane snapshot periodically so partial-run health is
// observable before the run finishes.
func (o *Orchestrator) statsLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.logStats("pipeline progress")
		}
	}
}

func (o *Orchestrator) logStats(msg string) {
	snapshot := o.deps.Scheduler.Stats()
	fields := []zap.Field{
		zap.Int("completed", snapshot.Total.Completed),
		zap.Int("failed", snapshot.Total.Failed),
		zap.Int("pending", snapshot.Total.Pending),
		zap.Int("running", snapshot.Total.Running),
	}
	for name, lane := range snapshot.Lanes {
		fields = append(fields, zap.Any(name, lane))
	}
	o.log.Info(msg, fields...)
}
