package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

var defaultGuardianSections = []string{
	"news", "sport", "culture", "business", "technology", "politics",
}

// GuardianSource fetches articles from the Guardian Content API.
type GuardianSource struct {
	apiKey   string
	baseURL  string
	sections []string
	pageSize int
	maxPages int
	client   *http.Client
	logger   *slog.Logger
}

// NewGuardianSource creates a Guardian adapter.
func NewGuardianSource(apiKey string) *GuardianSource {
	return &GuardianSource{
		apiKey:   apiKey,
		baseURL:  "https://content.guardianapis.com",
		sections: defaultGuardianSections,
		pageSize: 20,
		maxPages: 2,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
	}
}

func (s *GuardianSource) Name() string { return "guardian" }

type guardianEnvelope struct {
	Response struct {
		Status  string `json:"status"`
		Pages   int    `json:"pages"`
		Results []struct {
			ID                 string `json:"id"`
			SectionName        string `json:"sectionName"`
			WebPublicationDate string `json:"webPublicationDate"`
			WebURL             string `json:"webUrl"`
			Fields             struct {
				Headline  string `json:"headline"`
				TrailText string `json:"trailText"`
				BodyText  string `json:"bodyText"`
				Thumbnail string `json:"thumbnail"`
				Byline    string `json:"byline"`
			} `json:"fields"`
			Tags []struct {
				WebTitle string `json:"webTitle"`
			} `json:"tags"`
		} `json:"results"`
	} `json:"response"`
}

// Fetch walks the content search endpoint for every configured section.
func (s *GuardianSource) Fetch(ctx context.Context) ([]RawArticle, error) {
	var articles []RawArticle
	for _, section := range s.sections {
		items, err := s.fetchSection(ctx, section)
		if err != nil {
			return nil, err
		}
		articles = append(articles, items...)
	}
	return articles, nil
}

func (s *GuardianSource) fetchSection(ctx context.Context, section string) ([]RawArticle, error) {
	var articles []RawArticle
	for page := 1; page <= s.maxPages; page++ {
		endpoint := fmt.Sprintf("%s/search?section=%s&page-size=%d&page=%d&api-key=%s&show-fields=headline,trailText,bodyText,thumbnail,byline,firstPublicationDate&show-tags=keyword",
			s.baseURL, url.QueryEscape(section), s.pageSize, page, url.QueryEscape(s.apiKey))

		var env guardianEnvelope
		if err := getJSON(ctx, s.client, s.Name(), endpoint, &env); err != nil {
			return nil, err
		}
		if env.Response.Status != "ok" {
			return nil, &ProviderError{
				Provider: s.Name(),
				Kind:     KindMalformed,
				Err:      fmt.Errorf("api status %q", env.Response.Status),
			}
		}

		for _, item := range env.Response.Results {
			title := item.Fields.Headline
			if title == "" || item.WebURL == "" {
				s.logger.Warn("skipping malformed guardian item", "id", item.ID)
				continue
			}
			publishedAt, err := parseTime(item.WebPublicationDate)
			if err != nil {
				s.logger.Warn("skipping guardian item with bad timestamp", "id", item.ID, "published_at", item.WebPublicationDate)
				continue
			}
			tags := make([]string, 0, len(item.Tags))
			for _, tag := range item.Tags {
				if tag.WebTitle != "" {
					tags = append(tags, tag.WebTitle)
				}
			}
			articles = append(articles, RawArticle{
				ExternalID:  item.ID,
				Title:       title,
				Description: item.Fields.TrailText,
				Content:     item.Fields.BodyText,
				URL:         item.WebURL,
				ImageURL:    item.Fields.Thumbnail,
				SourceName:  "The Guardian",
				SourceID:    "guardian",
				Author:      item.Fields.Byline,
				Category:    item.SectionName,
				Tags:        tags,
				PublishedAt: publishedAt,
				Language:    "en",
				Country:     "gb",
				Provider:    s.Name(),
			})
		}

		if env.Response.Pages > 0 && page >= env.Response.Pages {
			break
		}
	}
	return articles, nil
}
