// Package normalize converts raw provider articles into canonical records.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ikehi/GURUGEEKS/internal/news/sources"
	"github.com/ikehi/GURUGEEKS/internal/news/store"
)

// Normalizer turns provider batches into storable articles.
type Normalizer struct {
	FallbackLanguage string
	FallbackCountry  string
	logger           *slog.Logger
	now              func() time.Time
}

// New creates a normalizer with the given metadata fallbacks.
func New(language, country string) *Normalizer {
	if language == "" {
		language = "en"
	}
	if country == "" {
		country = "us"
	}
	return &Normalizer{
		FallbackLanguage: language,
		FallbackCountry:  country,
		logger:           slog.Default(),
		now:              time.Now,
	}
}

// Result carries the normalized articles plus drop accounting.
type Result struct {
	Articles []*store.Article
	Dropped  int
}

// Normalize validates and canonicalizes every batch, then collapses
// duplicate URLs across providers. When two providers report the same URL
// the more recently published record wins; on a tie the batch that was
// registered first keeps its version.
func (n *Normalizer) Normalize(batches []sources.Batch) Result {
	var result Result
	byURL := map[string]int{}

	for _, batch := range batches {
		for i := range batch.Items {
			article, ok := n.normalizeOne(batch.Provider, &batch.Items[i])
			if !ok {
				result.Dropped++
				continue
			}
			if idx, dup := byURL[article.URL]; dup {
				if article.PublishedAt.After(result.Articles[idx].PublishedAt) {
					result.Articles[idx] = article
				}
				result.Dropped++
				continue
			}
			byURL[article.URL] = len(result.Articles)
			result.Articles = append(result.Articles, article)
		}
	}
	return result
}

func (n *Normalizer) normalizeOne(provider string, raw *sources.RawArticle) (*store.Article, bool) {
	raw.Title = strings.TrimSpace(raw.Title)
	raw.Description = strings.TrimSpace(raw.Description)
	raw.Author = strings.TrimSpace(raw.Author)
	raw.URL = strings.TrimSpace(raw.URL)
	if raw.Title == "" || raw.URL == "" {
		n.logger.Warn("dropping article without title or url", "provider", provider)
		return nil, false
	}

	externalID := raw.ExternalID
	if externalID == "" {
		externalID = urlFingerprint(raw.URL)
	}
	externalID = provider + "_" + externalID

	publishedAt := raw.PublishedAt.UTC()
	now := n.now().UTC()
	if publishedAt.IsZero() || publishedAt.After(now) {
		publishedAt = now
	}

	language := raw.Language
	if language == "" {
		language = n.FallbackLanguage
	}
	country := raw.Country
	if country == "" {
		country = n.FallbackCountry
	}
	sourceName := raw.SourceName
	if sourceName == "" {
		sourceName = provider
	}

	return &store.Article{
		ExternalID:  externalID,
		Title:       raw.Title,
		Description: raw.Description,
		Content:     raw.Content,
		URL:         raw.URL,
		ImageURL:    raw.ImageURL,
		SourceName:  sourceName,
		SourceID:    raw.SourceID,
		Author:      raw.Author,
		Category:    raw.Category,
		Tags:        lo.Uniq(raw.Tags),
		PublishedAt: publishedAt,
		Language:    language,
		Country:     country,
	}, true
}

// urlFingerprint derives a stable identity for providers that do not
// supply one of their own.
func urlFingerprint(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}
