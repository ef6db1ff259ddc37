package crawl

import (
	"context"
	"time"

	"github.com/scrapeline/scrapeline/internal/fetch"
	"github.com/scrapeline/scrapeline/internal/ingest"
	"github.com/scrapeline/scrapeline/internal/media"
)

// Strategy is the per-site extraction collaborator. Implementations parse
// already-fetched pages; they never perform network I/O themselves.
type Strategy interface {
	Name() string
	Matches(url string) bool
	ListPage(page fetch.Result) (ListResult, error)
	DetailPage(page fetch.Result) (CrawlItem, error)
}

// Browser supplies rendered pages for URLs the probe fetcher cannot serve.
type Browser interface {
	Launch(ctx context.Context) error
	Close()
	Fetch(ctx context.Context, url string) (fetch.Result, error)
}

// MediaProcessor turns one source media URL into stored variants.
type MediaProcessor interface {
	Process(ctx context.Context, srcURL, keyPrefix, base string) ([]media.Variant, error)
}

// Syncer pushes a finished record to the remote ingestion API.
type Syncer interface {
	Sync(ctx context.Context, endpoint string, payload ingest.Payload) (*ingest.Result, error)
}

// RecordStore persists synced items locally. Optional collaborator.
type RecordStore interface {
	Upsert(ctx context.Context, item CrawlItem, media map[string]string, syncedAt time.Time) error
}

// Publisher emits completion events. Optional collaborator.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
