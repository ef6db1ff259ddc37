// Package ingest pushes finished crawl records to the remote ingestion API.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/retryutil"
)

const defaultTimeout = 15 * time.Second

// Payload is the typed upsert envelope the ingestion API accepts. The remote
// endpoint is idempotent keyed by a natural key carried inside Data, so
// re-sending the same payload results in one logical record.
type Payload struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Result is the ingestion API's response to an accepted upsert.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Config tunes the sync client.
type Config struct {
	APIKey  string
	Timeout time.Duration
}

// Client posts payloads to the ingestion API. Transient failures (timeouts,
// refused connections, 429/5xx gateway statuses) come back as plain errors so
// the enclosing lane's retry policy re-runs them; everything else is marked
// terminal via retryutil.Terminal.
type Client struct {
	httpClient *http.Client
	apiKey     string
	logger     *zap.Logger
}

// New creates a sync client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKey:     cfg.APIKey,
		logger:     logger,
	}
}

// Sync posts payload to endpoint and decodes the upsert result.
func (c *Client) Sync(ctx context.Context, endpoint string, payload Payload) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		metrics.ObserveSync("terminal")
		return nil, retryutil.Terminal(fmt.Errorf("marshal sync payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		metrics.ObserveSync("terminal")
		return nil, retryutil.Terminal(fmt.Errorf("build sync request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveSync("retryable")
		return nil, fmt.Errorf("post sync payload: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if isRetryableStatus(resp.StatusCode) {
			metrics.ObserveSync("retryable")
			return nil, fmt.Errorf("sync %s: transient status %d", payload.Type, resp.StatusCode)
		}
		metrics.ObserveSync("terminal")
		return nil, retryutil.Terminal(fmt.Errorf("sync %s: status %d", payload.Type, resp.StatusCode))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.ObserveSync("terminal")
		return nil, retryutil.Terminal(fmt.Errorf("decode sync response: %w", err))
	}
	metrics.ObserveSync("success")
	c.logger.Debug("record synced",
		zap.String("type", payload.Type),
		zap.Bool("success", result.Success))
	return &result, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// isRetryableStatus reports whether the ingestion API status is one of the
// transient classes worth re-running.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
