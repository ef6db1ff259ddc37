package crawl

import (
	"errors"
	"fmt"
)

// ErrNoStrategy signals that no registered strategy matches the start URL.
// It is fatal to the run: crawling an unsupported site is a configuration
// mistake, not a transient failure.
var ErrNoStrategy = errors.New("no extraction strategy matches url")

// Registry dispatches URLs to extraction strategies by pattern, first match
// wins.
type Registry struct {
	strategies []Strategy
}

// NewRegistry creates a registry over the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// Register appends a strategy to the dispatch table.
func (r *Registry) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
}

// Match returns the first strategy claiming the URL.
func (r *Registry) Match(url string) (Strategy, error) {
	for _, s := range r.strategies {
		if s.Matches(url) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoStrategy, url)
}
