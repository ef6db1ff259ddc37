// Package media downloads source images once and fans the stream out into
// parallel variant chains that resize, re-encode, and upload to a blob store.
package media

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/storage"

	_ "image/gif"
	_ "image/png"
)

const (
	defaultTimeout         = 60 * time.Second
	defaultMaxConnsPerHost = 16
)

// VariantSpec describes one output rendition. Width zero means the source
// bytes are stored untouched.
type VariantSpec struct {
	Key     string
	Width   int
	Quality int
}

// Variant is one successfully stored rendition.
type Variant struct {
	Key   string
	Width int
	URL   string
}

// DefaultVariantSpecs returns the standard rendition set.
func DefaultVariantSpecs() []VariantSpec {
	return []VariantSpec{
		{Key: "thumb", Width: 300, Quality: 80},
		{Key: "preview", Width: 800, Quality: 85},
		{Key: "original", Width: 0, Quality: 90},
	}
}

// Config tunes the media pipeline.
type Config struct {
	Specs           []VariantSpec
	Timeout         time.Duration
	MaxConnsPerHost int
}

func (c Config) withDefaults() Config {
	if len(c.Specs) == 0 {
		c.Specs = DefaultVariantSpecs()
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	return c
}

// Pipeline fetches a source image and produces every configured variant from
// a single download.
type Pipeline struct {
	client *http.Client
	store  storage.BlobStore
	specs  []VariantSpec
	logger *zap.Logger
}

// New creates a media pipeline uploading into store.
func New(store storage.BlobStore, cfg Config, logger *zap.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 8,
				MaxConnsPerHost:     cfg.MaxConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		store:  store,
		specs:  cfg.Specs,
		logger: logger,
	}
}

type chainResult struct {
	url string
	err error
}

// Process downloads srcURL once and runs every variant chain against the
// shared stream. Variants that fail are logged and skipped; Process only
// returns an error when the source fetch fails or no variant succeeds.
func (p *Pipeline) Process(ctx context.Context, srcURL, keyPrefix, base string) ([]Variant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", srcURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch media %s: unexpected status %d", srcURL, resp.StatusCode)
	}

	readers := fanOut(resp.Body, len(p.specs))
	results := make([]chainResult, len(p.specs))

	var wg sync.WaitGroup
	for i, spec := range p.specs {
		wg.Add(1)
		go func(i int, spec VariantSpec, pr *io.PipeReader) {
			defer wg.Done()
			url, err := p.runChain(ctx, spec, pr, objectKey(keyPrefix, base, spec))
			results[i] = chainResult{url: url, err: err}
		}(i, spec, readers[i])
	}
	wg.Wait()

	variants := make([]Variant, 0, len(p.specs))
	var firstErr error
	for i, spec := range p.specs {
		if results[i].err != nil {
			metrics.ObserveMediaVariant(spec.Key, "failed")
			p.logger.Warn("media variant failed",
				zap.String("source", srcURL),
				zap.String("variant", spec.Key),
				zap.Error(results[i].err))
			if firstErr == nil {
				firstErr = results[i].err
			}
			continue
		}
		metrics.ObserveMediaVariant(spec.Key, "stored")
		variants = append(variants, Variant{Key: spec.Key, Width: spec.Width, URL: results[i].url})
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("all %d media variants failed for %s: %w", len(p.specs), srcURL, firstErr)
	}
	return variants, nil
}

// runChain consumes one fan-out branch and uploads the finished rendition.
func (p *Pipeline) runChain(ctx context.Context, spec VariantSpec, pr *io.PipeReader, key string) (string, error) {
	defer pr.Close()

	if spec.Width <= 0 {
		url, err := p.store.Put(ctx, key, "image/jpeg", pr)
		if err != nil {
			return "", fmt.Errorf("store original: %w", err)
		}
		return url, nil
	}

	img, _, err := image.Decode(pr)
	if err != nil {
		return "", fmt.Errorf("decode source: %w", err)
	}
	// Release the broadcaster; the remaining source bytes are not needed.
	pr.Close()

	scaled := resizeToWidth(img, spec.Width)

	encR, encW := io.Pipe()
	go func() {
		encW.CloseWithError(jpeg.Encode(encW, scaled, &jpeg.Options{Quality: spec.Quality}))
	}()
	url, err := p.store.Put(ctx, key, "image/jpeg", encR)
	if err != nil {
		encR.CloseWithError(err)
		return "", fmt.Errorf("store %s variant: %w", spec.Key, err)
	}
	return url, nil
}

// resizeToWidth scales img down to the target width preserving aspect ratio.
// Sources already at or below the target are returned as-is, never upscaled.
func resizeToWidth(img image.Image, width int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= width {
		return img
	}
	height := int(math.Round(float64(bounds.Dy()) * float64(width) / float64(bounds.Dx())))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func objectKey(prefix, base string, spec VariantSpec) string {
	return path.Join(prefix, fmt.Sprintf("%s_%s.jpg", base, spec.Key))
}
