package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// ProbeConfig controls the lightweight non-rendering fetcher.
type ProbeConfig struct {
	UserAgent      string
	Timeout        time.Duration
	DomainRPS      float64
	DomainBurst    int
	AllowRevisit   bool
	MaxBodyBytes   int
	AcceptLanguage string
}

// Probe fetches pages without JavaScript execution using colly. Pages that
// turn out to be challenge interstitials are re-fetched through the browser
// session by the orchestrator.
type Probe struct {
	base    *colly.Collector
	limiter *DomainLimiter
	logger  *zap.Logger
	accept  string
}

// NewProbe builds a Probe with sane defaults.
func NewProbe(cfg ProbeConfig, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.9"
	}

	opts := []colly.CollectorOption{
		colly.UserAgent(cfg.UserAgent),
		colly.ParseHTTPErrorResponse(),
		colly.AllowURLRevisit(),
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	base := colly.NewCollector(opts...)
	base.SetRequestTimeout(cfg.Timeout)

	return &Probe{
		base:    base,
		limiter: NewDomainLimiter(cfg.DomainRPS, cfg.DomainBurst),
		logger:  logger,
		accept:  cfg.AcceptLanguage,
	}
}

// Fetch retrieves the URL and returns the raw document. Network-level
// failures return an error; HTTP error statuses return a Result so the
// anti-bot detector can inspect interstitial bodies.
func (p *Probe) Fetch(ctx context.Context, url string) (Result, error) {
	if err := p.limiter.Wait(ctx, url); err != nil {
		return Result{}, err
	}

	c := p.base.Clone()
	var res Result
	var captured bool

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", p.accept)
	})
	c.OnResponse(func(r *colly.Response) {
		res.URL = r.Request.URL.String()
		res.StatusCode = r.StatusCode
		res.Body = string(r.Body)
		res.Headers = headersFromResponse(r)
		captured = true
	})

	start := time.Now()
	if err := c.Visit(url); err != nil {
		return Result{}, fmt.Errorf("probe fetch %s: %w", url, err)
	}
	c.Wait()
	res.Duration = time.Since(start)

	if !captured {
		return Result{}, fmt.Errorf("probe fetch %s: no response captured", url)
	}
	res.Title = extractTitle(res.Body)
	return res, nil
}

func headersFromResponse(r *colly.Response) http.Header {
	h := http.Header{}
	if r.Headers == nil {
		return h
	}
	for key, values := range *r.Headers {
		for _, v := range values {
			h.Add(key, v)
		}
	}
	return h
}

func extractTitle(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
