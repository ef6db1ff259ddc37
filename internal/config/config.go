// Package config loads and validates scrapeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/scrapeline/scrapeline/internal/browser"
	"github.com/scrapeline/scrapeline/internal/crawl"
	"github.com/scrapeline/scrapeline/internal/fetch"
	"github.com/scrapeline/scrapeline/internal/ingest"
	"github.com/scrapeline/scrapeline/internal/pipeline"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Lanes   LanesConfig   `mapstructure:"lanes"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	Browser BrowserConfig `mapstructure:"browser"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Sites   []SiteConfig  `mapstructure:"sites"`
}

// SiteConfig declares one selector-driven extraction strategy.
type SiteConfig struct {
	Name        string `mapstructure:"name"`
	HostPattern string `mapstructure:"host_pattern"`
	ItemLink    string `mapstructure:"item_link"`
	NextLink    string `mapstructure:"next_link"`
	Title       string `mapstructure:"title"`
	Summary     string `mapstructure:"summary"`
	Media       string `mapstructure:"media"`
	ChapterLink string `mapstructure:"chapter_link"`
	Tags        string `mapstructure:"tags"`
}

// CrawlConfig governs orchestrator behavior and global stop conditions.
type CrawlConfig struct {
	MaxItems                int    `mapstructure:"max_items"`
	MaxPages                int    `mapstructure:"max_pages"`
	PayloadType             string `mapstructure:"payload_type"`
	MediaKeyPrefix          string `mapstructure:"media_key_prefix"`
	ChallengeIntervalSec    int    `mapstructure:"challenge_interval_seconds"`
	ChallengeTimeoutSec     int    `mapstructure:"challenge_timeout_seconds"`
	DrainTimeoutSec         int    `mapstructure:"drain_timeout_seconds"`
	StatsIntervalSec        int    `mapstructure:"stats_interval_seconds"`
}

// LaneOverride layers onto one lane's documented defaults; zero values keep
// the default.
type LaneOverride struct {
	Concurrency int     `mapstructure:"concurrency"`
	SpacingMs   int     `mapstructure:"spacing_ms"`
	Jitter      float64 `mapstructure:"jitter"`
	MaxRetries  int     `mapstructure:"max_retries"`
	BackoffMs   int     `mapstructure:"backoff_ms"`
}

// LanesConfig carries per-lane overrides.
type LanesConfig struct {
	List   LaneOverride `mapstructure:"list"`
	Detail LaneOverride `mapstructure:"detail"`
	Media  LaneOverride `mapstructure:"media"`
	Sync   LaneOverride `mapstructure:"sync"`
}

// ProbeConfig configures the plain-HTTP probe fetcher.
type ProbeConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	AcceptLanguage string  `mapstructure:"accept_language"`
	TimeoutSec     int     `mapstructure:"timeout_seconds"`
	DomainRPS      float64 `mapstructure:"domain_rps"`
	DomainBurst    int     `mapstructure:"domain_burst"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
}

// BrowserConfig configures the headless browser session.
type BrowserConfig struct {
	ExecPath       string      `mapstructure:"exec_path"`
	UserAgent      string      `mapstructure:"user_agent"`
	AcceptLanguage string      `mapstructure:"accept_language"`
	MaxPages       int         `mapstructure:"max_pages"`
	NavTimeoutSec  int         `mapstructure:"nav_timeout_seconds"`
	Proxy          ProxyConfig `mapstructure:"proxy"`
}

// ProxyConfig carries optional proxy credentials for the browser.
type ProxyConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SyncConfig points at the remote ingestion API.
type SyncConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// StorageConfig selects the media content store.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls the optional local records database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion-event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the stats HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.payload_type", "crawl_item")
	v.SetDefault("crawl.media_key_prefix", "media")
	v.SetDefault("crawl.challenge_interval_seconds", 5)
	v.SetDefault("crawl.challenge_timeout_seconds", 60)
	v.SetDefault("crawl.drain_timeout_seconds", 600)
	v.SetDefault("crawl.stats_interval_seconds", 30)
	v.SetDefault("probe.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("probe.accept_language", "en-US,en;q=0.9")
	v.SetDefault("probe.timeout_seconds", 20)
	v.SetDefault("probe.domain_rps", 1)
	v.SetDefault("probe.domain_burst", 1)
	v.SetDefault("browser.max_pages", 2)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("sync.timeout_seconds", 15)
	v.SetDefault("db.table", "crawl_items")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Probe.TimeoutSec <= 0 {
		return fmt.Errorf("probe.timeout_seconds must be > 0")
	}
	if c.Browser.MaxPages <= 0 {
		return fmt.Errorf("browser.max_pages must be > 0")
	}
	for name, lane := range map[string]LaneOverride{
		"list": c.Lanes.List, "detail": c.Lanes.Detail,
		"media": c.Lanes.Media, "sync": c.Lanes.Sync,
	} {
		if lane.Jitter < 0 || lane.Jitter >= 1 {
			return fmt.Errorf("lanes.%s.jitter must be in [0, 1)", name)
		}
	}
	return nil
}

// SchedulerConfig layers the lane overrides onto the documented defaults.
func (c Config) SchedulerConfig() pipeline.SchedulerConfig {
	base := pipeline.DefaultSchedulerConfig()
	base.List = applyOverride(base.List, c.Lanes.List)
	base.Detail = applyOverride(base.Detail, c.Lanes.Detail)
	base.Media = applyOverride(base.Media, c.Lanes.Media)
	base.Sync = applyOverride(base.Sync, c.Lanes.Sync)
	return base
}

func applyOverride(base pipeline.LaneConfig, o LaneOverride) pipeline.LaneConfig {
	if o.Concurrency > 0 {
		base.Concurrency = o.Concurrency
	}
	if o.SpacingMs > 0 {
		base.Spacing = time.Duration(o.SpacingMs) * time.Millisecond
	}
	if o.Jitter > 0 {
		base.Jitter = o.Jitter
	}
	if o.MaxRetries > 0 {
		base.MaxRetries = o.MaxRetries
	}
	if o.BackoffMs > 0 {
		base.BaseBackoff = time.Duration(o.BackoffMs) * time.Millisecond
	}
	return base
}

// OrchestratorConfig assembles the crawl configuration for a start URL.
func (c Config) OrchestratorConfig(startURL string) crawl.Config {
	return crawl.Config{
		StartURL:          startURL,
		SyncEndpoint:      c.Sync.Endpoint,
		PayloadType:       c.Crawl.PayloadType,
		MaxItems:          c.Crawl.MaxItems,
		MaxPages:          c.Crawl.MaxPages,
		MediaKeyPrefix:    c.Crawl.MediaKeyPrefix,
		ChallengeInterval: time.Duration(c.Crawl.ChallengeIntervalSec) * time.Second,
		ChallengeTimeout:  time.Duration(c.Crawl.ChallengeTimeoutSec) * time.Second,
		DrainTimeout:      time.Duration(c.Crawl.DrainTimeoutSec) * time.Second,
		StatsInterval:     time.Duration(c.Crawl.StatsIntervalSec) * time.Second,
	}
}

// ProbeFetcherConfig assembles the probe fetcher configuration.
func (c Config) ProbeFetcherConfig() fetch.ProbeConfig {
	return fetch.ProbeConfig{
		UserAgent:      c.Probe.UserAgent,
		AcceptLanguage: c.Probe.AcceptLanguage,
		Timeout:        time.Duration(c.Probe.TimeoutSec) * time.Second,
		DomainRPS:      c.Probe.DomainRPS,
		DomainBurst:    c.Probe.DomainBurst,
		MaxBodyBytes:   c.Probe.MaxBodyBytes,
	}
}

// BrowserSessionConfig assembles the browser session configuration.
func (c Config) BrowserSessionConfig() browser.Config {
	return browser.Config{
		ExecPath:          c.Browser.ExecPath,
		UserAgent:         c.Browser.UserAgent,
		AcceptLanguage:    c.Browser.AcceptLanguage,
		MaxPages:          c.Browser.MaxPages,
		NavigationTimeout: time.Duration(c.Browser.NavTimeoutSec) * time.Second,
		Proxy: browser.ProxyConfig{
			URL:      c.Browser.Proxy.URL,
			Username: c.Browser.Proxy.Username,
			Password: c.Browser.Proxy.Password,
		},
	}
}

// Strategies builds the extraction dispatch table from the sites section.
func (c Config) Strategies() (*crawl.Registry, error) {
	registry := crawl.NewRegistry()
	for _, site := range c.Sites {
		s, err := crawl.NewGenericStrategy(site.Name, crawl.SelectorConfig{
			HostPattern: site.HostPattern,
			ItemLink:    site.ItemLink,
			NextLink:    site.NextLink,
			Title:       site.Title,
			Summary:     site.Summary,
			Media:       site.Media,
			ChapterLink: site.ChapterLink,
			Tags:        site.Tags,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(s)
	}
	return registry, nil
}

// SyncClientConfig assembles the ingestion client configuration.
func (c Config) SyncClientConfig() ingest.Config {
	return ingest.Config{
		APIKey:  c.Sync.APIKey,
		Timeout: time.Duration(c.Sync.TimeoutSec) * time.Second,
	}
}
