package records

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/scrapeline/scrapeline/internal/crawl"
)

func TestUpsertWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "crawl_items")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	item := crawl.CrawlItem{
		Slug:    "one-piece",
		Title:   "One Piece",
		URL:     "https://example.com/comic/one-piece",
		Summary: "Pirates.",
		Chapters: []crawl.Chapter{
			{Number: 1, Title: "Romance Dawn", URL: "https://example.com/comic/one-piece/1"},
		},
		Tags: []string{"adventure"},
	}

	mock.ExpectExec("INSERT INTO crawl_items").
		WithArgs(
			item.Slug,
			item.Title,
			item.URL,
			item.Summary,
			[]byte(`{"thumb":"https://cdn.example.com/one-piece_thumb.jpg"}`),
			[]byte(`[{"number":1,"title":"Romance Dawn","url":"https://example.com/comic/one-piece/1"}]`),
			[]byte(`["adventure"]`),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Upsert(context.Background(), item,
		map[string]string{"thumb": "https://cdn.example.com/one-piece_thumb.jpg"}, now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresSlug(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "crawl_items")
	require.NoError(t, err)

	err = store.Upsert(context.Background(), crawl.CrawlItem{}, nil, time.Now())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad;table")
	require.Error(t, err)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "crawl_items", store.table)
}
