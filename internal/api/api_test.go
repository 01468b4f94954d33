package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ikehi/GURUGEEKS/internal/news/feed"
	"github.com/ikehi/GURUGEEKS/internal/news/ingest"
	"github.com/ikehi/GURUGEEKS/internal/news/normalize"
	"github.com/ikehi/GURUGEEKS/internal/news/sources"
	"github.com/ikehi/GURUGEEKS/internal/news/store"
	"github.com/ikehi/GURUGEEKS/internal/user"
	"github.com/ikehi/GURUGEEKS/pkg/scraper"
	"github.com/ikehi/GURUGEEKS/pkg/storage"
)

type stubFetcher struct {
	content string
	err     error
}

func (f *stubFetcher) Fetch(ctx context.Context, url string, opts *scraper.FetchOptions) (string, error) {
	return f.content, f.err
}

type testEnv struct {
	server   *httptest.Server
	articles *store.Store
	users    *user.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.Open(storage.Config{
		Driver: storage.SQLite,
		DSN:    filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, user.Schema); err != nil {
		t.Fatalf("migrate users: %v", err)
	}
	if err := db.Migrate(ctx, store.Schema); err != nil {
		t.Fatalf("migrate articles: %v", err)
	}

	users := user.NewStore(db)
	articles := store.NewStore(db)
	engine := feed.NewEngine(articles)
	scheduler := ingest.NewScheduler(sources.NewRegistry(time.Second, 1), normalize.New("en", "us"), articles, 0)

	srv := NewServer(users, articles, engine, scheduler,
		&stubFetcher{content: strings.Repeat("scraped article body text. ", 10)}, Config{JWTSecret: "test-secret"})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, articles: articles, users: users}
}

func (e *testEnv) seedArticles(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		a := &store.Article{
			ExternalID:  fmt.Sprintf("newsapi_%d", i),
			Title:       fmt.Sprintf("Story %d", i),
			URL:         fmt.Sprintf("http://example.com/%d", i),
			SourceName:  "CNN",
			Category:    "technology",
			PublishedAt: time.Now().UTC().Add(-time.Duration(i) * time.Hour),
			Language:    "en",
			Country:     "us",
		}
		if i%2 == 0 {
			a.SourceName = "The Guardian"
			a.Category = "sports"
		}
		if _, err := e.articles.UpsertArticle(context.Background(), a); err != nil {
			t.Fatalf("seed article %d: %v", i, err)
		}
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) register(t *testing.T, email, username string) string {
	t.Helper()
	resp, body := e.do(t, "POST", "/api/auth/register", "", map[string]string{
		"email": email, "username": username, "password": "longenough",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d: %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("register returned no token")
	}
	return token
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "reader@example.com", "reader")

	// Duplicate email is rejected.
	resp, _ := e.do(t, "POST", "/api/auth/register", "", map[string]string{
		"email": "reader@example.com", "username": "other", "password": "longenough",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register returned %d", resp.StatusCode)
	}

	// Short password is rejected.
	resp, _ = e.do(t, "POST", "/api/auth/register", "", map[string]string{
		"email": "new@example.com", "username": "new", "password": "short",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short password returned %d", resp.StatusCode)
	}

	resp, body := e.do(t, "POST", "/api/auth/login", "", map[string]string{
		"email": "reader@example.com", "password": "longenough",
	})
	if resp.StatusCode != http.StatusOK || body["token"] == "" {
		t.Fatalf("login failed: %d %v", resp.StatusCode, body)
	}

	resp, _ = e.do(t, "POST", "/api/auth/login", "", map[string]string{
		"email": "reader@example.com", "password": "wrongpassword",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password returned %d", resp.StatusCode)
	}
}

func TestListArticles_FilterAndPagination(t *testing.T) {
	e := newTestEnv(t)
	e.seedArticles(t, 25)

	resp, body := e.do(t, "GET", "/api/articles?page=1&size=10", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list returned %d", resp.StatusCode)
	}
	if body["total"].(float64) != 25 || body["pages"].(float64) != 3 {
		t.Fatalf("unexpected pagination: %v", body)
	}
	if n := len(body["articles"].([]interface{})); n != 10 {
		t.Fatalf("expected 10 articles on page, got %d", n)
	}

	resp, body = e.do(t, "GET", "/api/articles?sources=The+Guardian", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("filtered list returned %d", resp.StatusCode)
	}
	if body["total"].(float64) != 12 {
		t.Fatalf("expected 12 guardian articles, got %v", body["total"])
	}

	// Oversized size is clamped, not an error.
	resp, body = e.do(t, "GET", "/api/articles?size=5000", "", nil)
	if resp.StatusCode != http.StatusOK || body["size"].(float64) != feed.MaxPageSize {
		t.Fatalf("expected clamped size, got %d %v", resp.StatusCode, body["size"])
	}

	resp, _ = e.do(t, "GET", "/api/articles?date_from=banana", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed date returned %d", resp.StatusCode)
	}

	resp, _ = e.do(t, "GET", "/api/articles?page=banana", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed page returned %d", resp.StatusCode)
	}
	resp, _ = e.do(t, "GET", "/api/articles?page=0", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero page returned %d", resp.StatusCode)
	}
}

func TestSearchArticles(t *testing.T) {
	e := newTestEnv(t)
	a := &store.Article{
		ExternalID: "newsapi_x", Title: "Quantum breakthrough", URL: "http://example.com/q",
		SourceName: "CNN", PublishedAt: time.Now().UTC(), Language: "en", Country: "us",
	}
	if _, err := e.articles.UpsertArticle(context.Background(), a); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e.seedArticles(t, 2)

	resp, body := e.do(t, "GET", "/api/articles/search?q=quantum", "", nil)
	if resp.StatusCode != http.StatusOK || body["total"].(float64) != 1 {
		t.Fatalf("search: %d %v", resp.StatusCode, body)
	}

	resp, _ = e.do(t, "GET", "/api/articles/search", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("search without q returned %d", resp.StatusCode)
	}
}

func TestGetArticle(t *testing.T) {
	e := newTestEnv(t)
	e.seedArticles(t, 1)

	resp, body := e.do(t, "GET", "/api/articles/1", "", nil)
	if resp.StatusCode != http.StatusOK || body["title"] != "Story 1" {
		t.Fatalf("get article: %d %v", resp.StatusCode, body)
	}
	resp, _ = e.do(t, "GET", "/api/articles/999", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing article returned %d", resp.StatusCode)
	}
	resp, _ = e.do(t, "GET", "/api/articles/banana", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-numeric id returned %d", resp.StatusCode)
	}
}

func TestSavedArticlesFlow(t *testing.T) {
	e := newTestEnv(t)
	e.seedArticles(t, 3)
	token := e.register(t, "reader@example.com", "reader")

	// Auth required.
	resp, _ := e.do(t, "POST", "/api/articles/1/save", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated save returned %d", resp.StatusCode)
	}

	resp, _ = e.do(t, "POST", "/api/articles/1/save", token, map[string]string{"notes": "later"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("save returned %d", resp.StatusCode)
	}
	// Saving twice is idempotent.
	resp, _ = e.do(t, "POST", "/api/articles/1/save", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-save returned %d", resp.StatusCode)
	}
	// Saving a missing article is a 404.
	resp, _ = e.do(t, "POST", "/api/articles/999/save", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("save missing returned %d", resp.StatusCode)
	}

	resp, body := e.do(t, "GET", "/api/articles/saved/list", token, nil)
	if resp.StatusCode != http.StatusOK || body["total"].(float64) != 1 {
		t.Fatalf("saved list: %d %v", resp.StatusCode, body)
	}

	resp, body = e.do(t, "GET", "/api/articles/1/saved", token, nil)
	if resp.StatusCode != http.StatusOK || body["saved"] != true {
		t.Fatalf("is-saved check: %d %v", resp.StatusCode, body)
	}
	resp, body = e.do(t, "GET", "/api/articles/2/saved", token, nil)
	if resp.StatusCode != http.StatusOK || body["saved"] != false {
		t.Fatalf("is-saved for unsaved article: %d %v", resp.StatusCode, body)
	}

	resp, _ = e.do(t, "DELETE", "/api/articles/1/save", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unsave returned %d", resp.StatusCode)
	}
	resp, _ = e.do(t, "DELETE", "/api/articles/1/save", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second unsave returned %d", resp.StatusCode)
	}
}

func TestPersonalizedFeed(t *testing.T) {
	e := newTestEnv(t)
	e.seedArticles(t, 10)
	token := e.register(t, "reader@example.com", "reader")

	// Without a preference the feed is the unfiltered listing.
	resp, body := e.do(t, "GET", "/api/articles/personalized", token, nil)
	if resp.StatusCode != http.StatusOK || body["total"].(float64) != 10 {
		t.Fatalf("fallback feed: %d %v", resp.StatusCode, body)
	}

	resp, _ = e.do(t, "POST", "/api/users/preferences", token, map[string]interface{}{
		"preferred_sources": []string{"The Guardian"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create preferences returned %d", resp.StatusCode)
	}

	resp, body = e.do(t, "GET", "/api/articles/personalized", token, nil)
	if resp.StatusCode != http.StatusOK || body["total"].(float64) != 5 {
		t.Fatalf("personalized feed: %d %v", resp.StatusCode, body)
	}
}

func TestPreferencesLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token := e.register(t, "reader@example.com", "reader")

	// No saved preference yet: GET serves defaults, PUT is a 404.
	resp, body := e.do(t, "GET", "/api/users/preferences", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get preferences returned %d", resp.StatusCode)
	}
	if body["language"] != "en" || body["country"] != "us" {
		t.Fatalf("expected default preference, got %v", body)
	}
	resp, _ = e.do(t, "PUT", "/api/users/preferences", token, map[string]interface{}{
		"preferred_sources": []string{"CNN"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("update before create returned %d", resp.StatusCode)
	}

	resp, _ = e.do(t, "POST", "/api/users/preferences", token, map[string]interface{}{
		"preferred_categories": []string{"technology"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create preferences returned %d", resp.StatusCode)
	}
	// Creating twice is a conflict.
	resp, _ = e.do(t, "POST", "/api/users/preferences", token, map[string]interface{}{
		"preferred_categories": []string{"sports"},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second create returned %d", resp.StatusCode)
	}

	resp, _ = e.do(t, "PUT", "/api/users/preferences", token, map[string]interface{}{
		"preferred_sources": []string{"CNN"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update preferences returned %d", resp.StatusCode)
	}
	resp, body = e.do(t, "GET", "/api/users/preferences", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get after update returned %d", resp.StatusCode)
	}
	srcs, _ := body["preferred_sources"].([]interface{})
	cats, _ := body["preferred_categories"].([]interface{})
	if len(srcs) != 1 || len(cats) != 0 {
		t.Fatalf("update did not replace lists: %v", body)
	}
}

func TestRefreshToken(t *testing.T) {
	e := newTestEnv(t)
	token := e.register(t, "reader@example.com", "reader")

	resp, body := e.do(t, "POST", "/api/auth/refresh", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh returned %d", resp.StatusCode)
	}
	fresh, _ := body["token"].(string)
	if fresh == "" {
		t.Fatal("refresh returned no token")
	}
	resp, _ = e.do(t, "GET", "/api/users/me", fresh, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refreshed token rejected: %d", resp.StatusCode)
	}

	resp, _ = e.do(t, "POST", "/api/auth/refresh", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh without token returned %d", resp.StatusCode)
	}
}

func TestUpdateMe(t *testing.T) {
	e := newTestEnv(t)
	token := e.register(t, "reader@example.com", "reader")

	resp, body := e.do(t, "PUT", "/api/users/me", token, map[string]string{"full_name": "A Reader"})
	if resp.StatusCode != http.StatusOK || body["full_name"] != "A Reader" {
		t.Fatalf("update me: %d %v", resp.StatusCode, body)
	}

	resp, body = e.do(t, "GET", "/api/users/me", token, nil)
	if resp.StatusCode != http.StatusOK || body["full_name"] != "A Reader" {
		t.Fatalf("get me after update: %d %v", resp.StatusCode, body)
	}
	if _, leaked := body["hashed_password"]; leaked {
		t.Fatal("password hash must never appear in responses")
	}
}

func TestScrapeArticle(t *testing.T) {
	e := newTestEnv(t)
	e.seedArticles(t, 1)
	token := e.register(t, "reader@example.com", "reader")

	resp, body := e.do(t, "POST", "/api/articles/1/scrape-content", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape returned %d: %v", resp.StatusCode, body)
	}
	if body["scraped"] != true {
		t.Fatalf("expected scraped=true, got %v", body)
	}

	// Second call sees the stored content and does not fetch again.
	resp, body = e.do(t, "POST", "/api/articles/1/scrape-content", token, nil)
	if resp.StatusCode != http.StatusOK || body["scraped"] != false {
		t.Fatalf("expected already-has-content response, got %d %v", resp.StatusCode, body)
	}
}

func TestIngestEndpoints(t *testing.T) {
	e := newTestEnv(t)
	token := e.register(t, "reader@example.com", "reader")

	resp, body := e.do(t, "POST", "/api/ingest/trigger", token, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("trigger returned %d: %v", resp.StatusCode, body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, body = e.do(t, "GET", "/api/ingest/status", token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status returned %d", resp.StatusCode)
		}
		if body["state"] != string(ingest.Running) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ingestion did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.do(t, "GET", "/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", resp.StatusCode, body)
	}
}
