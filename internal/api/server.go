// Package api provides the REST API server for the news backend.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ikehi/GURUGEEKS/internal/news/feed"
	"github.com/ikehi/GURUGEEKS/internal/news/ingest"
	"github.com/ikehi/GURUGEEKS/internal/news/store"
	"github.com/ikehi/GURUGEEKS/internal/user"
	"github.com/ikehi/GURUGEEKS/pkg/scraper"
)

// Server holds the dependencies for the API.
type Server struct {
	userStore    *user.Store
	articleStore *store.Store
	engine       *feed.Engine
	scheduler    *ingest.Scheduler
	fetcher      scraper.Fetcher
	jwtSecret    []byte
	tokenTTL     time.Duration
	logger       *slog.Logger
}

// Config carries the server's tunables.
type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// NewServer creates a new API Server instance.
func NewServer(users *user.Store, articles *store.Store, engine *feed.Engine, scheduler *ingest.Scheduler, fetcher scraper.Fetcher, cfg Config) *Server {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Server{
		userStore:    users,
		articleStore: articles,
		engine:       engine,
		scheduler:    scheduler,
		fetcher:      fetcher,
		jwtSecret:    []byte(cfg.JWTSecret),
		tokenTTL:     ttl,
		logger:       slog.Default(),
	}
}

// Routes returns the configured http.Handler for the API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth())

	// Auth routes (public, refresh requires a valid token)
	mux.HandleFunc("POST /api/auth/register", s.handleRegister())
	mux.HandleFunc("POST /api/auth/login", s.handleLogin())
	mux.Handle("POST /api/auth/refresh", s.requireAuth(s.handleRefreshToken()))

	// Articles (public reads)
	mux.HandleFunc("GET /api/articles", s.handleListArticles())
	mux.HandleFunc("GET /api/articles/search", s.handleSearchArticles())
	mux.HandleFunc("GET /api/articles/filters/available", s.handleGetFilters())
	mux.HandleFunc("GET /api/articles/{id}", s.handleGetArticle())

	// Articles (protected)
	mux.Handle("GET /api/articles/personalized", s.requireAuth(s.handlePersonalizedFeed()))
	mux.Handle("GET /api/articles/saved/list", s.requireAuth(s.handleListSaved()))
	mux.Handle("GET /api/articles/{id}/saved", s.requireAuth(s.handleIsSaved()))
	mux.Handle("POST /api/articles/{id}/save", s.requireAuth(s.handleSaveArticle()))
	mux.Handle("DELETE /api/articles/{id}/save", s.requireAuth(s.handleUnsaveArticle()))
	mux.Handle("POST /api/articles/{id}/scrape-content", s.requireAuth(s.handleScrapeArticle()))

	// Users (protected)
	mux.Handle("GET /api/users/me", s.requireAuth(s.handleGetMe()))
	mux.Handle("PUT /api/users/me", s.requireAuth(s.handleUpdateMe()))
	mux.Handle("GET /api/users/preferences", s.requireAuth(s.handleGetPreferences()))
	mux.Handle("POST /api/users/preferences", s.requireAuth(s.handleCreatePreferences()))
	mux.Handle("PUT /api/users/preferences", s.requireAuth(s.handleUpdatePreferences()))

	// Ingestion control (protected)
	mux.Handle("POST /api/ingest/trigger", s.requireAuth(s.handleTriggerIngest()))
	mux.Handle("GET /api/ingest/status", s.requireAuth(s.handleIngestStatus()))

	return s.withCORS(s.withRateLimit(mux))
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// --- Helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
