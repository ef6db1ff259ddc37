package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/antibot"
	"github.com/scrapeline/scrapeline/internal/api"
	"github.com/scrapeline/scrapeline/internal/browser"
	"github.com/scrapeline/scrapeline/internal/config"
	"github.com/scrapeline/scrapeline/internal/crawl"
	"github.com/scrapeline/scrapeline/internal/fetch"
	"github.com/scrapeline/scrapeline/internal/ingest"
	"github.com/scrapeline/scrapeline/internal/logging"
	"github.com/scrapeline/scrapeline/internal/media"
	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/pipeline"
	publisher "github.com/scrapeline/scrapeline/internal/publisher/pubsub"
	"github.com/scrapeline/scrapeline/internal/records"
	"github.com/scrapeline/scrapeline/internal/storage"
	"github.com/scrapeline/scrapeline/internal/storage/gcs"
	"github.com/scrapeline/scrapeline/internal/storage/memory"
)

func newCrawlCmd() *cobra.Command {
	var (
		maxItems     int
		maxPages     int
		syncEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "crawl <start-url>",
		Short: "Crawl a site and sync extracted items",
		Long: `Starts a crawl at the given URL using the matching extraction
strategy from the sites configuration. Discovered items flow through the
detail, media, and sync lanes until every lane drains or a stop condition
trips. Interrupt signals stop new submissions and drain in-flight work.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd.Context(), args[0], crawlOverrides{
				maxItems:     maxItems,
				maxPages:     maxPages,
				syncEndpoint: syncEndpoint,
			})
		},
	}

	cmd.Flags().IntVar(&maxItems, "max-items", 0, "stop after this many items (0 = unlimited)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many list pages (0 = unlimited)")
	cmd.Flags().StringVar(&syncEndpoint, "sync-endpoint", "", "ingestion API endpoint (overrides config)")

	return cmd
}

type crawlOverrides struct {
	maxItems     int
	maxPages     int
	syncEndpoint string
}

func runCrawl(ctx context.Context, startURL string, overrides crawlOverrides) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := cfg.Strategies()
	if err != nil {
		return fmt.Errorf("build strategies: %w", err)
	}

	scheduler := pipeline.NewScheduler(cfg.SchedulerConfig(), logger)
	deps := crawl.Deps{
		Scheduler:  scheduler,
		Browser:    browser.NewSession(cfg.BrowserSessionConfig(), logger),
		Detector:   antibot.NewDetector(antibot.Config{}, logger),
		Strategies: registry,
		Media:      media.New(store, media.Config{}, logger),
		Syncer:     ingest.New(cfg.SyncClientConfig(), logger),
		Probe:      fetch.NewProbe(cfg.ProbeFetcherConfig(), logger),
		Logger:     logger,
	}

	if cfg.DB.DSN != "" {
		recordStore, err := records.New(ctx, records.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("init records store: %w", err)
		}
		defer recordStore.Close()
		deps.Records = recordStore
	}

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		defer func() { _ = client.Close() }()
		deps.Publisher = publisher.New(client.Topic(cfg.PubSub.TopicName))
	}

	orchCfg := cfg.OrchestratorConfig(startURL)
	if overrides.maxItems > 0 {
		orchCfg.MaxItems = overrides.maxItems
	}
	if overrides.maxPages > 0 {
		orchCfg.MaxPages = overrides.maxPages
	}
	if overrides.syncEndpoint != "" {
		orchCfg.SyncEndpoint = overrides.syncEndpoint
	}

	orchestrator, err := crawl.New(orchCfg, deps)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	shutdownServer := startStatsServer(cfg.Server.Port, scheduler, logger)
	defer shutdownServer()

	if err := orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("crawl command finished")
	return nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.BlobStore, func(), error) {
	if cfg.Storage.GCSBucket == "" {
		logger.Warn("no gcs bucket configured, storing media in memory")
		return memory.NewBlobStore(), func() {}, nil
	}
	client, err := gcsclient.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage client: %w", err)
	}
	store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("init blob store: %w", err)
	}
	return store, func() { _ = client.Close() }, nil
}

func startStatsServer(port int, scheduler *pipeline.Scheduler, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewServer(scheduler, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("stats server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("stats server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("stats server shutdown", zap.Error(err))
		}
	}
}
