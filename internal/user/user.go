// Package user manages accounts and per-user news preferences.
package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ikehi/GURUGEEKS/pkg/storage"
)

// Schema must be migrated before the article schema; saved articles
// reference users.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    email           TEXT NOT NULL UNIQUE,
    username        TEXT NOT NULL UNIQUE,
    hashed_password TEXT NOT NULL,
    full_name       TEXT,
    is_active       BOOLEAN NOT NULL DEFAULT 1,
    is_verified     BOOLEAN NOT NULL DEFAULT 0,
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_preferences (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id              INTEGER NOT NULL UNIQUE REFERENCES users(id),
    preferred_categories TEXT,
    preferred_sources    TEXT,
    preferred_authors    TEXT,
    language             TEXT NOT NULL DEFAULT 'en',
    country              TEXT NOT NULL DEFAULT 'us',
    created_at           TIMESTAMP NOT NULL,
    updated_at           TIMESTAMP NOT NULL
);
`

var (
	// ErrNotFound reports a lookup that matched nothing.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate reports a unique value that is already taken
	// (email, username, or an existing preference row).
	ErrDuplicate = errors.New("record already exists")
)

// User is an account record. HashedPassword never leaves the API layer.
type User struct {
	ID             int       `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	HashedPassword string    `json:"-"`
	FullName       string    `json:"full_name,omitempty"`
	IsActive       bool      `json:"is_active"`
	IsVerified     bool      `json:"is_verified"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Preference holds a user's feed personalization. Empty slices mean
// no restriction on that dimension.
type Preference struct {
	Categories []string `json:"preferred_categories"`
	Sources    []string `json:"preferred_sources"`
	Authors    []string `json:"preferred_authors"`
	Language   string   `json:"language"`
	Country    string   `json:"country"`
}

// Store provides account persistence.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

// NewStore creates a user store.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts a new account. Email and username must be unique.
func (s *Store) Create(ctx context.Context, u *User) error {
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, username, hashed_password, full_name, is_active, is_verified, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, 0, ?, ?)`,
		u.Email, u.Username, u.HashedPassword, u.FullName, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "unique") {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID = int(id)
	u.IsActive = true
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

const userColumns = `id, email, username, hashed_password, full_name, is_active, is_verified, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var fullName sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.HashedPassword, &fullName,
		&u.IsActive, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.FullName = fullName.String
	return &u, nil
}

// GetByID returns the account with the given id.
func (s *Store) GetByID(ctx context.Context, id int) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetByEmail returns the account registered under the given email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// GetByUsername returns the account with the given username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// Update persists profile changes. Only full name and password can change.
func (s *Store) Update(ctx context.Context, u *User) error {
	u.UpdatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET full_name = ?, hashed_password = ?, updated_at = ? WHERE id = ?`,
		u.FullName, u.HashedPassword, u.UpdatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// GetPreference returns the user's saved preference, or ErrNotFound when
// the user has never set one.
func (s *Store) GetPreference(ctx context.Context, userID int) (*Preference, error) {
	var categories, srcs, authors sql.NullString
	var p Preference
	err := s.db.QueryRowContext(ctx,
		`SELECT preferred_categories, preferred_sources, preferred_authors, language, country
		 FROM user_preferences WHERE user_id = ?`, userID).
		Scan(&categories, &srcs, &authors, &p.Language, &p.Country)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	decodeList(categories.String, &p.Categories)
	decodeList(srcs.String, &p.Sources)
	decodeList(authors.String, &p.Authors)
	return &p, nil
}

func encodePreference(p *Preference) (categories, srcs, authors string) {
	if p.Language == "" {
		p.Language = "en"
	}
	if p.Country == "" {
		p.Country = "us"
	}
	c, _ := json.Marshal(p.Categories)
	s, _ := json.Marshal(p.Sources)
	a, _ := json.Marshal(p.Authors)
	return string(c), string(s), string(a)
}

// CreatePreference saves a user's first preference. It returns
// ErrDuplicate when one already exists.
func (s *Store) CreatePreference(ctx context.Context, userID int, p *Preference) error {
	categories, srcs, authors := encodePreference(p)
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, preferred_categories, preferred_sources, preferred_authors, language, country, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, categories, srcs, authors, p.Language, p.Country, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "unique") {
			return ErrDuplicate
		}
		return fmt.Errorf("create preference: %w", err)
	}
	return nil
}

// UpdatePreference replaces an existing preference. It returns
// ErrNotFound when the user has none to update.
func (s *Store) UpdatePreference(ctx context.Context, userID int, p *Preference) error {
	categories, srcs, authors := encodePreference(p)
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_preferences
		 SET preferred_categories = ?, preferred_sources = ?, preferred_authors = ?,
		     language = ?, country = ?, updated_at = ?
		 WHERE user_id = ?`,
		categories, srcs, authors, p.Language, p.Country, s.now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeList(raw string, dest *[]string) {
	if raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		*dest = nil
	}
}
