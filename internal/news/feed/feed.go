// Package feed resolves filtered and personalized article listings.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/ikehi/GURUGEEKS/internal/news/store"
)

const (
	// DefaultPageSize applies when a request does not name a size.
	DefaultPageSize = 20
	// MaxPageSize caps how many articles one page may carry.
	MaxPageSize = 100
)

// Querier is the slice of the article store the engine needs.
type Querier interface {
	QueryArticles(ctx context.Context, filter store.Filter, page store.Page) ([]*store.Article, int, error)
}

// Engine turns feed requests into paginated results.
type Engine struct {
	store Querier
}

// NewEngine creates a feed engine over the given article source.
func NewEngine(q Querier) *Engine {
	return &Engine{store: q}
}

// PageRequest is the raw, unclamped pagination input from a client.
type PageRequest struct {
	Page int
	Size int
}

// clamp normalizes a page request to valid bounds.
func (r PageRequest) clamp() store.Page {
	p := store.Page{Number: r.Page, Size: r.Size}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Result is one page of a feed.
type Result struct {
	Articles []*store.Article `json:"articles"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Size     int              `json:"size"`
	Pages    int              `json:"pages"`
}

// Resolve returns one page of the feed under the given filter.
func (e *Engine) Resolve(ctx context.Context, filter store.Filter, req PageRequest) (*Result, error) {
	page := req.clamp()
	articles, total, err := e.store.QueryArticles(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("resolve feed: %w", err)
	}
	pages := total / page.Size
	if total%page.Size != 0 {
		pages++
	}
	return &Result{
		Articles: articles,
		Total:    total,
		Page:     page.Number,
		Size:     page.Size,
		Pages:    pages,
	}, nil
}

// Preference mirrors a user's saved personalization.
type Preference struct {
	Categories []string
	Sources    []string
	Authors    []string
	Language   string
	Country    string
}

// empty reports whether the preference restricts nothing. Language and
// country alone do not personalize a feed; with no list set, the feed
// falls back to the unfiltered listing.
func (p *Preference) empty() bool {
	return p == nil || (len(p.Categories) == 0 && len(p.Sources) == 0 && len(p.Authors) == 0)
}

// ResolvePersonalized returns a feed shaped by the user's preference.
// A missing or empty preference yields the plain unfiltered feed.
// An explicit date window applies on top of the preference.
func (e *Engine) ResolvePersonalized(ctx context.Context, pref *Preference, dateFrom, dateTo time.Time, req PageRequest) (*Result, error) {
	filter := store.Filter{DateFrom: dateFrom, DateTo: dateTo}
	if !pref.empty() {
		filter.Categories = lo.Uniq(pref.Categories)
		filter.Sources = lo.Uniq(pref.Sources)
		filter.Authors = lo.Uniq(pref.Authors)
		filter.Language = pref.Language
		filter.Country = pref.Country
	}
	return e.Resolve(ctx, filter, req)
}
