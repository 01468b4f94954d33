// Package store provides relational persistence for canonical articles
// and per-user saved-article links.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ikehi/GURUGEEKS/pkg/storage"
)

// Schema is the article-side schema. Users must be migrated first because
// saved_articles references them.
const Schema = `
CREATE TABLE IF NOT EXISTS articles (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id  TEXT NOT NULL,
    title        TEXT NOT NULL,
    description  TEXT,
    content      TEXT,
    url          TEXT NOT NULL UNIQUE,
    image_url    TEXT,
    source_name  TEXT NOT NULL,
    source_id    TEXT,
    author       TEXT,
    category     TEXT,
    tags         TEXT,
    published_at TIMESTAMP NOT NULL,
    scraped_at   TIMESTAMP NOT NULL,
    language     TEXT NOT NULL DEFAULT 'en',
    country      TEXT NOT NULL DEFAULT 'us',
    is_active    BOOLEAN NOT NULL DEFAULT 1,
    UNIQUE(external_id, source_name)
);

CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
CREATE INDEX IF NOT EXISTS idx_articles_source_category ON articles(source_name, category);

CREATE TABLE IF NOT EXISTS saved_articles (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    INTEGER NOT NULL REFERENCES users(id),
    article_id INTEGER NOT NULL REFERENCES articles(id),
    saved_at   TIMESTAMP NOT NULL,
    notes      TEXT,
    UNIQUE(user_id, article_id)
);

CREATE INDEX IF NOT EXISTS idx_saved_articles_user ON saved_articles(user_id);
`

// ErrConflict reports a constraint violation the upsert logic could not
// resolve (e.g. two external identities mapping to one URL).
var ErrConflict = errors.New("article conflicts with an existing row")

// Article is the canonical, normalized article record.
type Article struct {
	ID          int       `json:"id"`
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content,omitempty"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	SourceName  string    `json:"source_name"`
	SourceID    string    `json:"source_id,omitempty"`
	Author      string    `json:"author,omitempty"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags"`
	PublishedAt time.Time `json:"published_at"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Language    string    `json:"language"`
	Country     string    `json:"country"`
	IsActive    bool      `json:"is_active"`
}

// Outcome reports what an upsert did.
type Outcome string

const (
	Inserted  Outcome = "inserted"
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
)

// Store provides article persistence on the shared storage layer.
type Store struct {
	db     *storage.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates an article store.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db, logger: slog.Default(), now: time.Now}
}

const articleColumns = `id, external_id, title, description, content, url, image_url,
	source_name, source_id, author, category, tags, published_at, scraped_at,
	language, country, is_active`

func scanArticle(row interface{ Scan(...any) error }) (*Article, error) {
	var a Article
	var description, content, imageURL, sourceID, author, category, tagsJSON sql.NullString
	err := row.Scan(&a.ID, &a.ExternalID, &a.Title, &description, &content, &a.URL, &imageURL,
		&a.SourceName, &sourceID, &author, &category, &tagsJSON, &a.PublishedAt, &a.ScrapedAt,
		&a.Language, &a.Country, &a.IsActive)
	if err != nil {
		return nil, err
	}
	a.Description = description.String
	a.Content = content.String
	a.ImageURL = imageURL.String
	a.SourceID = sourceID.String
	a.Author = author.String
	a.Category = category.String
	if tagsJSON.String != "" {
		unmarshalTags(tagsJSON.String, &a.Tags)
	}
	return &a, nil
}

func unmarshalTags(raw string, dest *[]string) {
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		*dest = nil
	}
}

// equalForUpsert compares the fields the upsert policy cares about.
// scraped_at is deliberately excluded.
func equalForUpsert(existing, incoming *Article) bool {
	return existing.ExternalID == incoming.ExternalID &&
		existing.SourceName == incoming.SourceName &&
		existing.Title == incoming.Title &&
		existing.Description == incoming.Description &&
		existing.Content == incoming.Content &&
		existing.URL == incoming.URL &&
		existing.ImageURL == incoming.ImageURL &&
		existing.SourceID == incoming.SourceID &&
		existing.Author == incoming.Author &&
		existing.Category == incoming.Category &&
		strings.Join(existing.Tags, "\x00") == strings.Join(incoming.Tags, "\x00") &&
		existing.PublishedAt.Equal(incoming.PublishedAt) &&
		existing.Language == incoming.Language &&
		existing.Country == incoming.Country
}

// UpsertArticle inserts a new article or updates an existing one matched by
// (external_id, source_name) or URL. The operation is atomic per record.
// Unchanged records are left untouched, including their scraped_at.
// An incoming record without content never clears content that is already
// stored; enrichment survives re-ingestion.
func (s *Store) UpsertArticle(ctx context.Context, article *Article) (Outcome, error) {
	var outcome Outcome
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+articleColumns+` FROM articles
			 WHERE (external_id = ? AND source_name = ?) OR url = ?
			 LIMIT 1`,
			article.ExternalID, article.SourceName, article.URL)

		existing, err := scanArticle(row)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		now := s.now().UTC()
		tags, _ := json.Marshal(article.Tags)

		if err == sql.ErrNoRows {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO articles (external_id, title, description, content, url, image_url,
					source_name, source_id, author, category, tags, published_at, scraped_at,
					language, country, is_active)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				article.ExternalID, article.Title, article.Description, article.Content,
				article.URL, article.ImageURL, article.SourceName, article.SourceID,
				article.Author, article.Category, string(tags), article.PublishedAt.UTC(),
				now, article.Language, article.Country)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %v", ErrConflict, err)
				}
				return err
			}
			outcome = Inserted
			return nil
		}

		incoming := *article
		if incoming.Content == "" {
			incoming.Content = existing.Content
		}
		if equalForUpsert(existing, &incoming) {
			outcome = Unchanged
			return nil
		}

		tags, _ = json.Marshal(incoming.Tags)
		_, err = tx.ExecContext(ctx,
			`UPDATE articles SET external_id = ?, title = ?, description = ?, content = ?,
				url = ?, image_url = ?, source_name = ?, source_id = ?, author = ?,
				category = ?, tags = ?, published_at = ?, scraped_at = ?, language = ?, country = ?
			 WHERE id = ?`,
			incoming.ExternalID, incoming.Title, incoming.Description, incoming.Content,
			incoming.URL, incoming.ImageURL, incoming.SourceName, incoming.SourceID,
			incoming.Author, incoming.Category, string(tags), incoming.PublishedAt.UTC(),
			now, incoming.Language, incoming.Country, existing.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
			return err
		}
		outcome = Updated
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// isUniqueViolation detects constraint failures across sqlite and postgres.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "unique")
}

// GetArticleByID returns one article, or nil when it does not exist.
func (s *Store) GetArticleByID(ctx context.Context, id int) (*Article, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// SetArticleContent stores enriched content for one article.
func (s *Store) SetArticleContent(ctx context.Context, id int, content string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE articles SET content = ?, scraped_at = ? WHERE id = ?`,
		content, s.now().UTC(), id)
	return err
}

// CountArticles returns the total number of stored articles.
func (s *Store) CountArticles(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count)
	return count, err
}

// AvailableFilters lists the distinct filterable values across active articles.
type AvailableFilters struct {
	Sources    []string `json:"sources"`
	Categories []string `json:"categories"`
	Authors    []string `json:"authors"`
	Languages  []string `json:"languages"`
	Countries  []string `json:"countries"`
}

// GetAvailableFilters returns the distinct values used to populate filter UIs.
func (s *Store) GetAvailableFilters(ctx context.Context) (*AvailableFilters, error) {
	filters := &AvailableFilters{}
	queries := []struct {
		dest *[]string
		sql  string
	}{
		{&filters.Sources, `SELECT DISTINCT source_name FROM articles WHERE is_active = 1 ORDER BY source_name`},
		{&filters.Categories, `SELECT DISTINCT category FROM articles WHERE is_active = 1 AND category IS NOT NULL AND category != '' ORDER BY category`},
		{&filters.Authors, `SELECT DISTINCT author FROM articles WHERE is_active = 1 AND author IS NOT NULL AND author != '' ORDER BY author`},
		{&filters.Languages, `SELECT DISTINCT language FROM articles WHERE is_active = 1 ORDER BY language`},
		{&filters.Countries, `SELECT DISTINCT country FROM articles WHERE is_active = 1 ORDER BY country`},
	}
	for _, q := range queries {
		values, err := s.queryStrings(ctx, q.sql)
		if err != nil {
			return nil, err
		}
		*q.dest = values
	}
	return filters, nil
}

func (s *Store) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
