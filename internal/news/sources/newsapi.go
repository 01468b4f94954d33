package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// defaultNewsAPICategories mirrors the top-headlines categories the feed covers.
var defaultNewsAPICategories = []string{
	"general", "business", "technology", "sports", "entertainment", "health", "science",
}

// NewsAPISource fetches top headlines from newsapi.org.
type NewsAPISource struct {
	apiKey     string
	baseURL    string
	country    string
	categories []string
	pageSize   int
	maxPages   int
	client     *http.Client
	logger     *slog.Logger
}

// NewNewsAPISource creates a NewsAPI adapter.
func NewNewsAPISource(apiKey string) *NewsAPISource {
	return &NewsAPISource{
		apiKey:     apiKey,
		baseURL:    "https://newsapi.org/v2",
		country:    "us",
		categories: defaultNewsAPICategories,
		pageSize:   20,
		maxPages:   2,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
}

func (s *NewsAPISource) Name() string { return "newsapi" }

type newsAPIEnvelope struct {
	Status       string `json:"status"`
	TotalResults int    `json:"totalResults"`
	Message      string `json:"message"`
	Articles     []struct {
		Source struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"source"`
		Author      string `json:"author"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		URLToImage  string `json:"urlToImage"`
		PublishedAt string `json:"publishedAt"`
		Content     string `json:"content"`
	} `json:"articles"`
}

// Fetch walks top-headlines pages for every configured category.
func (s *NewsAPISource) Fetch(ctx context.Context) ([]RawArticle, error) {
	var articles []RawArticle
	for _, category := range s.categories {
		items, err := s.fetchCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		articles = append(articles, items...)
	}
	return articles, nil
}

func (s *NewsAPISource) fetchCategory(ctx context.Context, category string) ([]RawArticle, error) {
	var articles []RawArticle
	for page := 1; page <= s.maxPages; page++ {
		endpoint := fmt.Sprintf("%s/top-headlines?country=%s&category=%s&pageSize=%d&page=%d&apiKey=%s",
			s.baseURL, url.QueryEscape(s.country), url.QueryEscape(category), s.pageSize, page, url.QueryEscape(s.apiKey))

		var env newsAPIEnvelope
		if err := getJSON(ctx, s.client, s.Name(), endpoint, &env); err != nil {
			return nil, err
		}
		if env.Status != "ok" {
			return nil, &ProviderError{
				Provider: s.Name(),
				Kind:     KindMalformed,
				Err:      fmt.Errorf("api status %q: %s", env.Status, env.Message),
			}
		}

		for _, item := range env.Articles {
			if item.Title == "" || item.URL == "" {
				s.logger.Warn("skipping malformed newsapi item", "url", item.URL)
				continue
			}
			publishedAt, err := parseTime(item.PublishedAt)
			if err != nil {
				s.logger.Warn("skipping newsapi item with bad timestamp", "url", item.URL, "published_at", item.PublishedAt)
				continue
			}
			sourceName := item.Source.Name
			if sourceName == "" {
				sourceName = "NewsAPI"
			}
			articles = append(articles, RawArticle{
				Title:       item.Title,
				Description: item.Description,
				Content:     item.Content,
				URL:         item.URL,
				ImageURL:    item.URLToImage,
				SourceName:  sourceName,
				SourceID:    item.Source.ID,
				Author:      item.Author,
				Category:    category,
				PublishedAt: publishedAt,
				Language:    "en",
				Country:     s.country,
				Provider:    s.Name(),
			})
		}

		if page*s.pageSize >= env.TotalResults {
			break
		}
	}
	return articles, nil
}

// parseTime parses a provider timestamp. Empty values are allowed and
// resolved later by the normalizer; malformed non-empty values are not.
func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
