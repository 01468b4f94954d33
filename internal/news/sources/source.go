// Package sources defines the provider adapter interface and implementations
// for fetching news articles from external APIs.
package sources

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RawArticle is the canonical shape every adapter maps its provider's
// proprietary response into. Provider-specific fields are dropped.
type RawArticle struct {
	ExternalID  string    `json:"external_id,omitempty"` // provider-native ID, if any
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content,omitempty"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	SourceName  string    `json:"source_name"`
	SourceID    string    `json:"source_id,omitempty"`
	Author      string    `json:"author,omitempty"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Language    string    `json:"language,omitempty"`
	Country     string    `json:"country,omitempty"`
	Provider    string    `json:"provider"`
}

// Source is the interface that all provider adapters must implement.
type Source interface {
	// Name returns the provider slug (e.g. "guardian").
	Name() string

	// Fetch retrieves articles from this provider. Failures are
	// reported as *ProviderError.
	Fetch(ctx context.Context) ([]RawArticle, error)
}

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindAuth      ErrorKind = "auth"
	KindRateLimit ErrorKind = "rate_limit"
	KindMalformed ErrorKind = "malformed"
)

// ProviderError is an adapter-level failure. It is caught per-adapter by
// the ingestion scheduler and never fails a whole run.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// kindFromStatus maps an HTTP status code to an error kind.
func kindFromStatus(status int) ErrorKind {
	switch status {
	case 401, 403:
		return KindAuth
	case 429:
		return KindRateLimit
	default:
		return KindNetwork
	}
}

// Batch holds one adapter's successful fetch result.
type Batch struct {
	Provider string
	Items    []RawArticle
}

// Failure records one adapter's failed fetch.
type Failure struct {
	Provider string
	Err      error
}

// Registry holds all registered provider adapters in registration order.
// Registration order is significant: the normalizer breaks published_at
// ties between duplicate URLs in favor of the earlier-registered adapter.
type Registry struct {
	sources     []Source
	concurrency int
	timeout     time.Duration
}

// NewRegistry creates a registry that fetches with the given per-adapter
// timeout, running at most concurrency adapters at once.
func NewRegistry(timeout time.Duration, concurrency int) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Registry{concurrency: concurrency, timeout: timeout}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(s Source) {
	r.sources = append(r.sources, s)
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int { return len(r.sources) }

// FetchAll fetches from every registered adapter concurrently within a
// bounded pool. Each adapter gets an independent timeout; one adapter
// timing out or failing never cancels its siblings. Batches come back in
// registration order, successes and failures reported separately.
func (r *Registry) FetchAll(ctx context.Context) ([]Batch, []Failure) {
	type result struct {
		items []RawArticle
		err   error
	}

	results := make([]result, len(r.sources))
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for i, s := range r.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			items, err := src.Fetch(fetchCtx)
			results[i] = result{items: items, err: err}
		}(i, s)
	}
	wg.Wait()

	var batches []Batch
	var failures []Failure
	for i, s := range r.sources {
		if err := results[i].err; err != nil {
			failures = append(failures, Failure{Provider: s.Name(), Err: err})
			continue
		}
		batches = append(batches, Batch{Provider: s.Name(), Items: results[i].items})
	}
	return batches, failures
}
