package crawl

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scrapeline/scrapeline/internal/fetch"
)

// SelectorConfig drives the generic selector-based strategy. Selectors are
// standard CSS; empty optional selectors disable that extraction.
type SelectorConfig struct {
	// HostPattern is matched as a substring of the URL host.
	HostPattern string

	// List page selectors.
	ItemLink string
	NextLink string

	// Detail page selectors. Title falls back to the document title.
	Title       string
	Summary     string
	Media       string
	ChapterLink string
	Tags        string
}

// GenericStrategy extracts list and detail pages with configured CSS
// selectors. Sites with regular markup need no custom code, only a
// SelectorConfig.
type GenericStrategy struct {
	name string
	cfg  SelectorConfig
}

// NewGenericStrategy creates a selector-driven strategy.
func NewGenericStrategy(name string, cfg SelectorConfig) (*GenericStrategy, error) {
	if cfg.HostPattern == "" {
		return nil, fmt.Errorf("strategy %s: host pattern is required", name)
	}
	if cfg.ItemLink == "" {
		return nil, fmt.Errorf("strategy %s: item link selector is required", name)
	}
	return &GenericStrategy{name: name, cfg: cfg}, nil
}

// Name returns the strategy identifier.
func (s *GenericStrategy) Name() string { return s.name }

// Matches reports whether the URL's host contains the configured pattern.
func (s *GenericStrategy) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Host, s.cfg.HostPattern)
}

// ListPage extracts item links and the next-page link.
func (s *GenericStrategy) ListPage(page fetch.Result) (ListResult, error) {
	doc, base, err := s.parse(page)
	if err != nil {
		return ListResult{}, err
	}

	var result ListResult
	seen := make(map[string]bool)
	doc.Find(s.cfg.ItemLink).Each(func(_ int, sel *goquery.Selection) {
		href := resolveHref(base, sel)
		if href != "" && !seen[href] {
			seen[href] = true
			result.ItemURLs = append(result.ItemURLs, href)
		}
	})
	if len(result.ItemURLs) == 0 {
		return ListResult{}, fmt.Errorf("list page %s: no items matched %q", page.URL, s.cfg.ItemLink)
	}
	if s.cfg.NextLink != "" {
		result.NextURL = resolveHref(base, doc.Find(s.cfg.NextLink).First())
	}
	return result, nil
}

// DetailPage extracts one CrawlItem.
func (s *GenericStrategy) DetailPage(page fetch.Result) (CrawlItem, error) {
	doc, base, err := s.parse(page)
	if err != nil {
		return CrawlItem{}, err
	}

	item := CrawlItem{
		Slug:  slugFromURL(page.URL),
		Title: strings.TrimSpace(page.Title),
		URL:   page.URL,
	}
	if s.cfg.Title != "" {
		if t := strings.TrimSpace(doc.Find(s.cfg.Title).First().Text()); t != "" {
			item.Title = t
		}
	}
	if s.cfg.Summary != "" {
		item.Summary = strings.TrimSpace(doc.Find(s.cfg.Summary).First().Text())
	}
	if s.cfg.Media != "" {
		doc.Find(s.cfg.Media).Each(func(_ int, sel *goquery.Selection) {
			if src := resolveImageSrc(base, sel); src != "" {
				item.MediaURLs = append(item.MediaURLs, src)
			}
		})
	}
	if s.cfg.ChapterLink != "" {
		doc.Find(s.cfg.ChapterLink).Each(func(_ int, sel *goquery.Selection) {
			href := resolveHref(base, sel)
			if href == "" {
				return
			}
			text := strings.TrimSpace(sel.Text())
			item.Chapters = append(item.Chapters, Chapter{
				Number: chapterNumber(text, href),
				Title:  text,
				URL:    href,
			})
		})
	}
	if s.cfg.Tags != "" {
		doc.Find(s.cfg.Tags).Each(func(_ int, sel *goquery.Selection) {
			if tag := strings.TrimSpace(sel.Text()); tag != "" {
				item.Tags = append(item.Tags, tag)
			}
		})
	}

	if item.Title == "" {
		return CrawlItem{}, fmt.Errorf("detail page %s: no title extracted", page.URL)
	}
	return item, nil
}

func (s *GenericStrategy) parse(page fetch.Result) (*goquery.Document, *url.URL, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse page %s: %w", page.URL, err)
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse page url %s: %w", page.URL, err)
	}
	return doc, base, nil
}

func resolveHref(base *url.URL, sel *goquery.Selection) string {
	href, ok := sel.Attr("href")
	if !ok {
		return ""
	}
	return resolveRef(base, href)
}

// resolveImageSrc prefers lazy-load attributes over src, which on many sites
// holds only a placeholder.
func resolveImageSrc(base *url.URL, sel *goquery.Selection) string {
	for _, attr := range []string{"data-src", "data-lazy-src", "src"} {
		if raw, ok := sel.Attr(attr); ok && strings.TrimSpace(raw) != "" {
			return resolveRef(base, raw)
		}
	}
	return ""
}

func resolveRef(base *url.URL, raw string) string {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// slugFromURL returns the last non-empty path segment.
func slugFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return u.Host
}

var chapterNumberPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*$`)

// chapterNumber pulls a trailing number out of the link text, falling back
// to the last URL segment.
func chapterNumber(text, href string) float64 {
	for _, candidate := range []string{text, slugFromURL(href)} {
		if m := chapterNumberPattern.FindStringSubmatch(candidate); m != nil {
			if n, err := strconv.ParseFloat(m[1], 64); err == nil {
				return n
			}
		}
	}
	return 0
}
