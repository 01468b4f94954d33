package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Filter narrows an article listing. Zero-valued fields are ignored;
// slice fields match any of their values.
type Filter struct {
	Sources    []string
	Categories []string
	Authors    []string
	Language   string
	Country    string
	DateFrom   time.Time
	DateTo     time.Time
	Search     string
}

// Page is a bounded listing window.
type Page struct {
	Number int
	Size   int
}

func (f *Filter) whereClause() (string, []any) {
	conds := []string{"a.is_active = 1"}
	var args []any

	addIn := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		placeholders := strings.Repeat("?,", len(values))
		conds = append(conds, fmt.Sprintf("a.%s IN (%s)", column, placeholders[:len(placeholders)-1]))
		for _, v := range values {
			args = append(args, v)
		}
	}

	addIn("source_name", f.Sources)
	addIn("category", f.Categories)
	addIn("author", f.Authors)

	if f.Language != "" {
		conds = append(conds, "a.language = ?")
		args = append(args, f.Language)
	}
	if f.Country != "" {
		conds = append(conds, "a.country = ?")
		args = append(args, f.Country)
	}
	if !f.DateFrom.IsZero() {
		conds = append(conds, "a.published_at >= ?")
		args = append(args, f.DateFrom.UTC())
	}
	if !f.DateTo.IsZero() {
		conds = append(conds, "a.published_at <= ?")
		args = append(args, f.DateTo.UTC())
	}

	// Every whitespace token must match somewhere in the text fields.
	// LOWER on both sides keeps matching case-insensitive on postgres too.
	for _, token := range strings.Fields(f.Search) {
		conds = append(conds, `(LOWER(a.title) LIKE ? OR LOWER(a.description) LIKE ? OR LOWER(a.content) LIKE ?)`)
		pattern := "%" + strings.ToLower(token) + "%"
		args = append(args, pattern, pattern, pattern)
	}

	return strings.Join(conds, " AND "), args
}

// QueryArticles lists articles matching the filter, newest first, with the
// matching total so callers can paginate.
func (s *Store) QueryArticles(ctx context.Context, filter Filter, page Page) ([]*Article, int, error) {
	where, args := filter.whereClause()

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles a WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count articles: %w", err)
	}

	offset := (page.Number - 1) * page.Size
	listArgs := append(args, page.Size, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixedArticleColumns+` FROM articles a WHERE `+where+
			` ORDER BY a.published_at DESC, a.id DESC LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	articles, err := collectArticles(rows)
	if err != nil {
		return nil, 0, err
	}
	return articles, total, nil
}

const prefixedArticleColumns = `a.id, a.external_id, a.title, a.description, a.content, a.url,
	a.image_url, a.source_name, a.source_id, a.author, a.category, a.tags,
	a.published_at, a.scraped_at, a.language, a.country, a.is_active`

func collectArticles(rows *sql.Rows) ([]*Article, error) {
	articles := []*Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// SavedArticle pairs an article with its bookmark metadata.
type SavedArticle struct {
	Article *Article  `json:"article"`
	SavedAt time.Time `json:"saved_at"`
	Notes   string    `json:"notes,omitempty"`
}

// SaveForUser bookmarks an article for a user. Saving twice refreshes
// saved_at and the notes; the first return value reports whether a new
// bookmark was created.
func (s *Store) SaveForUser(ctx context.Context, userID, articleID int, notes string) (bool, error) {
	var created bool
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		// RowsAffected counts the DO UPDATE row too, so the insert has
		// to be detected up front.
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM saved_articles WHERE user_id = ? AND article_id = ?`,
			userID, articleID).Scan(&one)
		if err == sql.ErrNoRows {
			created = true
		} else if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO saved_articles (user_id, article_id, saved_at, notes)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id, article_id) DO UPDATE SET
			   saved_at = excluded.saved_at, notes = excluded.notes`,
			userID, articleID, s.now().UTC(), notes)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("save article: %w", err)
	}
	return created, nil
}

// UnsaveForUser removes a bookmark. It reports whether one existed.
func (s *Store) UnsaveForUser(ctx context.Context, userID, articleID int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM saved_articles WHERE user_id = ? AND article_id = ?`,
		userID, articleID)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListSavedByUser returns a user's bookmarks, most recently saved first.
// Bookmarks of articles that were deactivated after being saved stay in
// the list; deactivation only blocks new saves.
func (s *Store) ListSavedByUser(ctx context.Context, userID int, page Page) ([]*SavedArticle, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM saved_articles sa
		 JOIN articles a ON a.id = sa.article_id
		 WHERE sa.user_id = ?`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count saved articles: %w", err)
	}

	offset := (page.Number - 1) * page.Size
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixedArticleColumns+`, sa.saved_at, sa.notes
		 FROM saved_articles sa
		 JOIN articles a ON a.id = sa.article_id
		 WHERE sa.user_id = ?
		 ORDER BY sa.saved_at DESC, sa.id DESC LIMIT ? OFFSET ?`,
		userID, page.Size, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query saved articles: %w", err)
	}
	defer rows.Close()

	saved := []*SavedArticle{}
	for rows.Next() {
		var a Article
		var description, content, imageURL, sourceID, author, category, tagsJSON, notes sql.NullString
		var savedAt time.Time
		err := rows.Scan(&a.ID, &a.ExternalID, &a.Title, &description, &content, &a.URL, &imageURL,
			&a.SourceName, &sourceID, &author, &category, &tagsJSON, &a.PublishedAt, &a.ScrapedAt,
			&a.Language, &a.Country, &a.IsActive, &savedAt, &notes)
		if err != nil {
			return nil, 0, err
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
		saved = append(saved, &SavedArticle{Article: &a, SavedAt: savedAt, Notes: notes.String})
	}
	return saved, total, rows.Err()
}

// IsSaved reports whether a user has bookmarked an article.
func (s *Store) IsSaved(ctx context.Context, userID, articleID int) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM saved_articles WHERE user_id = ? AND article_id = ?`,
		userID, articleID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
