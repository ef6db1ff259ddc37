// Package fetch defines the page fetching contract shared by the probe
// fetcher and the browser session.
package fetch

import (
	"context"
	"net/http"
	"time"
)

// Result is a fetched page ready for classification and extraction.
type Result struct {
	URL        string
	Title      string
	Body       string
	StatusCode int
	Headers    http.Header
	Duration   time.Duration
	Rendered   bool
}

// Fetcher retrieves a page. Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Result, error)
}
