package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// NYTimesSource fetches articles from the New York Times newswire API.
// The newswire endpoint is aggressively rate limited, so requests are
// paced to at most one per second.
type NYTimesSource struct {
	apiKey   string
	baseURL  string
	section  string
	limit    int
	maxPages int
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewNYTimesSource creates a NYT newswire adapter.
func NewNYTimesSource(apiKey string) *NYTimesSource {
	return &NYTimesSource{
		apiKey:   apiKey,
		baseURL:  "https://api.nytimes.com/svc/news/v3/content",
		section:  "all",
		limit:    20,
		maxPages: 1,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		logger:   slog.Default(),
	}
}

func (s *NYTimesSource) Name() string { return "nytimes" }

type nytEnvelope struct {
	Status     string `json:"status"`
	NumResults int    `json:"num_results"`
	Results    []struct {
		SlugName      string   `json:"slug_name"`
		Section       string   `json:"section"`
		Title         string   `json:"title"`
		Abstract      string   `json:"abstract"`
		URL           string   `json:"url"`
		Byline        string   `json:"byline"`
		PublishedDate string   `json:"published_date"`
		DesFacet      []string `json:"des_facet"`
		Multimedia    []struct {
			URL string `json:"url"`
		} `json:"multimedia"`
	} `json:"results"`
}

// Fetch retrieves the latest newswire items, walking offsets up to the page cap.
func (s *NYTimesSource) Fetch(ctx context.Context) ([]RawArticle, error) {
	var articles []RawArticle
	for page := 0; page < s.maxPages; page++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Provider: s.Name(), Kind: KindNetwork, Err: err}
		}

		endpoint := fmt.Sprintf("%s/all/%s.json?api-key=%s&limit=%d&offset=%d",
			s.baseURL, url.PathEscape(s.section), url.QueryEscape(s.apiKey), s.limit, page*s.limit)

		var env nytEnvelope
		if err := getJSON(ctx, s.client, s.Name(), endpoint, &env); err != nil {
			return nil, err
		}
		if env.Status != "OK" {
			return nil, &ProviderError{
				Provider: s.Name(),
				Kind:     KindMalformed,
				Err:      fmt.Errorf("api status %q", env.Status),
			}
		}

		for _, item := range env.Results {
			if item.Title == "" || item.URL == "" {
				s.logger.Warn("skipping malformed nytimes item", "slug", item.SlugName)
				continue
			}
			publishedAt, err := parseTime(item.PublishedDate)
			if err != nil {
				s.logger.Warn("skipping nytimes item with bad timestamp", "url", item.URL, "published_date", item.PublishedDate)
				continue
			}
			var imageURL string
			if len(item.Multimedia) > 0 {
				imageURL = item.Multimedia[0].URL
			}
			articles = append(articles, RawArticle{
				ExternalID:  item.SlugName,
				Title:       item.Title,
				Description: item.Abstract,
				URL:         item.URL,
				ImageURL:    imageURL,
				SourceName:  "The New York Times",
				SourceID:    "nyt",
				Author:      item.Byline,
				Category:    item.Section,
				Tags:        item.DesFacet,
				PublishedAt: publishedAt,
				Language:    "en",
				Country:     "us",
				Provider:    s.Name(),
			})
		}

		if (page+1)*s.limit >= env.NumResults {
			break
		}
	}
	return articles, nil
}
