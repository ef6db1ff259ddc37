// Package crawl drives the multi-stage content-acquisition pipeline: list
// pages fan out into detail fetches, resolved items fan out into media and
// sync work.
package crawl

// Chapter is one sub-item discovered on a detail page.
type Chapter struct {
	Number float64 `json:"number"`
	Title  string  `json:"title,omitempty"`
	URL    string  `json:"url"`
}

// CrawlItem is the record produced by detail extraction. Once handed to the
// media and sync lanes it is treated as immutable; pass copies via Clone when
// a lane needs to annotate it.
type CrawlItem struct {
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Summary   string    `json:"summary,omitempty"`
	MediaURLs []string  `json:"media_urls,omitempty"`
	Chapters  []Chapter `json:"chapters,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

// Clone returns a deep copy safe to hand to another lane.
func (i CrawlItem) Clone() CrawlItem {
	out := i
	out.MediaURLs = append([]string(nil), i.MediaURLs...)
	out.Chapters = append([]Chapter(nil), i.Chapters...)
	out.Tags = append([]string(nil), i.Tags...)
	return out
}

// ListResult is what a strategy extracts from one list page.
type ListResult struct {
	ItemURLs []string
	NextURL  string
}
