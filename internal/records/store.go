// Package records provides Postgres-backed persistence for synced crawl items.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrapeline/scrapeline/internal/crawl"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for crawl item rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store upserts crawl items into Postgres, keyed by slug.
type Store struct {
	pool  execCloser
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawl_items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert writes one crawl item row, replacing any previous row with the same
// slug. media maps variant key to the stored public URL.
func (s *Store) Upsert(ctx context.Context, item crawl.CrawlItem, media map[string]string, syncedAt time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("records store is not configured")
	}
	if item.Slug == "" {
		return fmt.Errorf("item slug is required")
	}
	mediaJSON, err := json.Marshal(normalizeMedia(media))
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}
	chaptersJSON, err := json.Marshal(item.Chapters)
	if err != nil {
		return fmt.Errorf("marshal chapters: %w", err)
	}
	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	slug,
	title,
	url,
	summary,
	media,
	chapters,
	tags,
	synced_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (slug) DO UPDATE SET
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	summary = EXCLUDED.summary,
	media = EXCLUDED.media,
	chapters = EXCLUDED.chapters,
	tags = EXCLUDED.tags,
	synced_at = EXCLUDED.synced_at`, s.table)

	args := []any{
		item.Slug,
		item.Title,
		item.URL,
		item.Summary,
		mediaJSON,
		chaptersJSON,
		tagsJSON,
		syncedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert crawl item: %w", err)
	}
	return nil
}

func normalizeMedia(m map[string]string) map[string]string {
	if len(m) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
