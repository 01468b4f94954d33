package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ikehi/GURUGEEKS/internal/user"
	"github.com/ikehi/GURUGEEKS/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(storage.Config{
		Driver: storage.SQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, user.Schema); err != nil {
		t.Fatalf("migrate users: %v", err)
	}
	if err := db.Migrate(ctx, Schema); err != nil {
		t.Fatalf("migrate articles: %v", err)
	}
	return NewStore(db)
}

func testArticle(n int) *Article {
	return &Article{
		ExternalID:  fmt.Sprintf("newsapi_%d", n),
		Title:       fmt.Sprintf("Story %d", n),
		Description: "a description",
		URL:         fmt.Sprintf("http://example.com/story/%d", n),
		SourceName:  "CNN",
		SourceID:    "cnn",
		Author:      "Jo Writer",
		Category:    "technology",
		Tags:        []string{"tech"},
		PublishedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour),
		Language:    "en",
		Country:     "us",
	}
}

func TestUpsertArticle_InsertUpdateUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testArticle(1)
	outcome, err := s.UpsertArticle(ctx, a)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if outcome != Inserted {
		t.Fatalf("expected Inserted, got %s", outcome)
	}

	// Same record again: no change.
	outcome, err = s.UpsertArticle(ctx, testArticle(1))
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if outcome != Unchanged {
		t.Fatalf("expected Unchanged, got %s", outcome)
	}

	// Changed title: update in place, no new row.
	changed := testArticle(1)
	changed.Title = "Story 1 (updated)"
	outcome, err = s.UpsertArticle(ctx, changed)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome != Updated {
		t.Fatalf("expected Updated, got %s", outcome)
	}

	count, err := s.CountArticles(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after repeated upserts, got %d", count)
	}
}

func TestUpsertArticle_MatchesByURLWhenExternalIDChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testArticle(1)
	if _, err := s.UpsertArticle(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Same URL arrives under a different external identity.
	other := testArticle(1)
	other.ExternalID = "guardian_xyz"
	other.SourceName = "The Guardian"
	outcome, err := s.UpsertArticle(ctx, other)
	if err != nil {
		t.Fatalf("upsert by url: %v", err)
	}
	if outcome != Updated {
		t.Fatalf("expected Updated via url match, got %s", outcome)
	}

	count, _ := s.CountArticles(ctx)
	if count != 1 {
		t.Fatalf("expected url match to reuse row, got %d rows", count)
	}
}

func TestUpsertArticle_EmptyContentDoesNotClearEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testArticle(1)
	if _, err := s.UpsertArticle(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.SetArticleContent(ctx, 1, "full scraped body text"); err != nil {
		t.Fatalf("set content: %v", err)
	}

	// Re-ingesting the same record (which has no content) must not wipe it.
	outcome, err := s.UpsertArticle(ctx, testArticle(1))
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if outcome != Unchanged {
		t.Fatalf("expected Unchanged, got %s", outcome)
	}

	got, err := s.GetArticleByID(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "full scraped body text" {
		t.Fatalf("enriched content was lost: %q", got.Content)
	}
}

func TestUpsertArticle_UnchangedKeepsScrapedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }
	if _, err := s.UpsertArticle(ctx, testArticle(1)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s.now = func() time.Time { return first.Add(time.Hour) }
	if _, err := s.UpsertArticle(ctx, testArticle(1)); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := s.GetArticleByID(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ScrapedAt.Equal(first) {
		t.Fatalf("unchanged upsert touched scraped_at: %v", got.ScrapedAt)
	}
}

func TestQueryArticles_FiltersAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		a := testArticle(i)
		if i%2 == 0 {
			a.SourceName = "The Guardian"
			a.SourceID = "guardian"
			a.Category = "sports"
		}
		if _, err := s.UpsertArticle(ctx, a); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	// Unfiltered pages partition the corpus.
	seen := map[int]bool{}
	total := 0
	for page := 1; ; page++ {
		articles, gotTotal, err := s.QueryArticles(ctx, Filter{}, Page{Number: page, Size: 10})
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		total = gotTotal
		if len(articles) == 0 {
			break
		}
		for _, a := range articles {
			if seen[a.ID] {
				t.Fatalf("article %d appeared on two pages", a.ID)
			}
			seen[a.ID] = true
		}
	}
	if total != 25 || len(seen) != 25 {
		t.Fatalf("pages do not partition corpus: total=%d seen=%d", total, len(seen))
	}

	// Source filter.
	articles, gotTotal, err := s.QueryArticles(ctx,
		Filter{Sources: []string{"The Guardian"}}, Page{Number: 1, Size: 100})
	if err != nil {
		t.Fatalf("filter by source: %v", err)
	}
	if gotTotal != 12 {
		t.Fatalf("expected 12 guardian articles, got %d", gotTotal)
	}
	for _, a := range articles {
		if a.SourceName != "The Guardian" {
			t.Fatalf("filter leaked source %q", a.SourceName)
		}
	}

	// Combined source + date_from narrows further.
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(13 * time.Hour)
	_, gotTotal, err = s.QueryArticles(ctx,
		Filter{Sources: []string{"The Guardian"}, DateFrom: cutoff}, Page{Number: 1, Size: 100})
	if err != nil {
		t.Fatalf("combined filter: %v", err)
	}
	if gotTotal != 6 {
		t.Fatalf("expected 6 guardian articles after cutoff, got %d", gotTotal)
	}
}

func TestQueryArticles_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if _, err := s.UpsertArticle(ctx, testArticle(i)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	articles, _, err := s.QueryArticles(ctx, Filter{}, Page{Number: 1, Size: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for i := 1; i < len(articles); i++ {
		if articles[i].PublishedAt.After(articles[i-1].PublishedAt) {
			t.Fatalf("not sorted newest first: %v before %v",
				articles[i-1].PublishedAt, articles[i].PublishedAt)
		}
	}
}

func TestQueryArticles_SearchMatchesAnyTextField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inTitle := testArticle(1)
	inTitle.Title = "Quantum breakthrough announced"
	inDescription := testArticle(2)
	inDescription.Description = "a quantum leap for computing"
	inContent := testArticle(3)
	inContent.Content = "researchers described the quantum device"
	miss := testArticle(4)
	for _, a := range []*Article{inTitle, inDescription, inContent, miss} {
		if _, err := s.UpsertArticle(ctx, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	_, total, err := s.QueryArticles(ctx, Filter{Search: "quantum"}, Page{Number: 1, Size: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 matches across text fields, got %d", total)
	}

	// Matching is case-insensitive.
	_, total, err = s.QueryArticles(ctx, Filter{Search: "QUANTUM"}, Page{Number: 1, Size: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected case-insensitive match, got %d", total)
	}

	// Multi-token search requires every token.
	_, total, err = s.QueryArticles(ctx, Filter{Search: "quantum device"}, Page{Number: 1, Size: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 match for both tokens, got %d", total)
	}
}

func TestGetAvailableFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testArticle(1)
	b := testArticle(2)
	b.SourceName = "BBC News"
	b.Category = "world"
	b.Author = ""
	for _, art := range []*Article{a, b} {
		if _, err := s.UpsertArticle(ctx, art); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	filters, err := s.GetAvailableFilters(ctx)
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	if len(filters.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %v", filters.Sources)
	}
	if len(filters.Authors) != 1 {
		t.Fatalf("empty authors must be excluded, got %v", filters.Authors)
	}
}

func TestSaveForUser_ResaveRefreshesSavedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	users := user.NewStore(s.db)
	u := &user.User{Email: "reader@example.com", Username: "reader", HashedPassword: "x"}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.UpsertArticle(ctx, testArticle(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }
	created, err := s.SaveForUser(ctx, u.ID, 1, "read later")
	if err != nil || !created {
		t.Fatalf("first save: created=%v err=%v", created, err)
	}

	second := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return second }
	created, err = s.SaveForUser(ctx, u.ID, 1, "still reading")
	if err != nil {
		t.Fatalf("re-save: %v", err)
	}
	if created {
		t.Fatal("re-save must report an update, not a creation")
	}

	saved, _, err := s.ListSavedByUser(ctx, u.ID, Page{Number: 1, Size: 10})
	if err != nil || len(saved) != 1 {
		t.Fatalf("list saved: len=%d err=%v", len(saved), err)
	}
	if !saved[0].SavedAt.Equal(second) {
		t.Fatalf("saved_at not refreshed on re-save: got %v", saved[0].SavedAt)
	}
	if saved[0].Notes != "still reading" {
		t.Fatalf("notes not refreshed on re-save: got %q", saved[0].Notes)
	}
}

func TestListSavedByUser_KeepsDeactivatedArticles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	users := user.NewStore(s.db)
	u := &user.User{Email: "reader@example.com", Username: "reader", HashedPassword: "x"}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.UpsertArticle(ctx, testArticle(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.SaveForUser(ctx, u.ID, 1, ""); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Deactivating an article hides it from listings but must not eat
	// bookmarks that already reference it.
	if _, err := s.db.ExecContext(ctx, `UPDATE articles SET is_active = 0 WHERE id = 1`); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	saved, total, err := s.ListSavedByUser(ctx, u.ID, Page{Number: 1, Size: 10})
	if err != nil {
		t.Fatalf("list saved: %v", err)
	}
	if total != 1 || len(saved) != 1 || saved[0].Article.ID != 1 {
		t.Fatalf("bookmark of deactivated article lost: total=%d len=%d", total, len(saved))
	}
}

func TestSavedArticles_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	users := user.NewStore(s.db)
	u := &user.User{Email: "reader@example.com", Username: "reader", HashedPassword: "x"}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if _, err := s.UpsertArticle(ctx, testArticle(i)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	created, err := s.SaveForUser(ctx, u.ID, 1, "read later")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !created {
		t.Fatal("expected first save to create a bookmark")
	}

	// Saving again is not an error and does not duplicate.
	created, err = s.SaveForUser(ctx, u.ID, 1, "still reading")
	if err != nil {
		t.Fatalf("re-save: %v", err)
	}
	if created {
		t.Fatal("expected second save to be an update")
	}

	if _, err := s.SaveForUser(ctx, u.ID, 2, ""); err != nil {
		t.Fatalf("save second: %v", err)
	}

	saved, total, err := s.ListSavedByUser(ctx, u.ID, Page{Number: 1, Size: 10})
	if err != nil {
		t.Fatalf("list saved: %v", err)
	}
	if total != 2 || len(saved) != 2 {
		t.Fatalf("expected 2 saved articles, got total=%d len=%d", total, len(saved))
	}

	ok, err := s.IsSaved(ctx, u.ID, 1)
	if err != nil || !ok {
		t.Fatalf("expected article 1 saved, ok=%v err=%v", ok, err)
	}

	removed, err := s.UnsaveForUser(ctx, u.ID, 1)
	if err != nil || !removed {
		t.Fatalf("unsave: removed=%v err=%v", removed, err)
	}
	removed, err = s.UnsaveForUser(ctx, u.ID, 1)
	if err != nil {
		t.Fatalf("second unsave: %v", err)
	}
	if removed {
		t.Fatal("expected second unsave to be a no-op")
	}
}

func TestUpsertArticle_ConflictIsSentinel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertArticle(ctx, testArticle(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.UpsertArticle(ctx, testArticle(2)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Update article 2's identity to collide with article 1's URL while its
	// own URL still matches row 2. The update trips the unique constraint.
	collide := testArticle(2)
	collide.URL = testArticle(1).URL
	collide.Title = "collision"
	_, err := s.UpsertArticle(ctx, collide)
	if err != nil && !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict or clean merge, got %v", err)
	}
}
