// Package scraper provides HTTP content fetching and article text extraction.
//
// It backs the on-demand content enrichment path: articles whose providers
// returned no usable body get their full text scraped from the canonical URL.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// MinContentLength is the minimum extracted length considered a usable body.
const MinContentLength = 200

// Domains that block automated requests or never carry article text.
var blockedDomains = []string{
	"youtube.com",
	"twitter.com",
	"facebook.com",
	"instagram.com",
	"tiktok.com",
	"linkedin.com",
}

// FetchOptions configures the behavior of a Fetch call.
type FetchOptions struct {
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// DefaultFetchOptions returns sensible defaults for fetching.
func DefaultFetchOptions() *FetchOptions {
	return &FetchOptions{
		UserAgent:  "Mozilla/5.0 (compatible; GuruGeeksBot/1.0; +https://github.com/ikehi/GURUGEEKS)",
		Timeout:    30 * time.Second,
		RetryCount: 2,
	}
}

// Fetcher defines the interface for fetching article content.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts *FetchOptions) (string, error)
}

// HTTPFetcher implements Fetcher using standard HTTP plus readability extraction.
// Consecutive fetches are paced by a rate limiter so target sites are not hammered.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher that leaves at least minInterval between requests.
func NewHTTPFetcher(minInterval time.Duration) *HTTPFetcher {
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Fetch retrieves a URL and extracts the main article text.
// It fails when the extracted text is too short to be a real article body.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string, opts *FetchOptions) (string, error) {
	if opts == nil {
		opts = DefaultFetchOptions()
	}
	if !Scrapable(pageURL) {
		return "", fmt.Errorf("url %s is not scrapable", pageURL)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	rawHTML, err := f.fetchHTML(ctx, pageURL, opts)
	if err != nil {
		return "", err
	}

	text := extractArticleText(rawHTML, pageURL)
	if len(text) < MinContentLength {
		return "", fmt.Errorf("extracted content too short (%d chars) for %s", len(text), pageURL)
	}
	return text, nil
}

func (f *HTTPFetcher) fetchHTML(ctx context.Context, pageURL string, opts *FetchOptions) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt <= opts.RetryCount; attempt++ {
		resp, lastErr = f.client.Do(req)
		if lastErr == nil {
			break
		}
		if attempt < opts.RetryCount {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, lastErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// extractArticleText runs readability first and falls back to plain
// HTML text extraction when readability finds nothing substantial.
func extractArticleText(rawHTML, pageURL string) string {
	parsed, _ := url.Parse(pageURL)
	if article, err := readability.FromReader(strings.NewReader(rawHTML), parsed); err == nil {
		if text := normalizeWhitespace(article.TextContent); len(text) >= MinContentLength {
			return text
		}
	}
	return normalizeWhitespace(ExtractText(rawHTML))
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// Scrapable reports whether a URL is worth attempting to scrape.
func Scrapable(pageURL string) bool {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, blocked := range blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return false
		}
	}
	return true
}

// ExtractText converts HTML to clean text, removing navigation/footer/scripts.
func ExtractText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return htmlContent
	}

	var sb strings.Builder
	extractTextFromNode(doc, &sb, map[string]bool{
		"script": true, "style": true, "nav": true, "footer": true,
		"header": true, "noscript": true, "svg": true, "iframe": true,
		"aside": true,
	})
	return strings.TrimSpace(sb.String())
}

func extractTextFromNode(n *html.Node, sb *strings.Builder, skipTags map[string]bool) {
	if n.Type == html.ElementNode {
		if skipTags[n.Data] {
			return
		}
		switch n.Data {
		case "br", "p", "div", "tr", "li", "h1", "h2", "h3", "h4":
			sb.WriteString("\n")
		}
	}

	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractTextFromNode(c, sb, skipTags)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "p", "li", "tr":
			sb.WriteString("\n")
		}
	}
}
