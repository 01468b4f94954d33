package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ikehi/GURUGEEKS/internal/news/feed"
	"github.com/ikehi/GURUGEEKS/internal/news/ingest"
	"github.com/ikehi/GURUGEEKS/internal/news/store"
	"github.com/ikehi/GURUGEEKS/internal/user"
	"github.com/ikehi/GURUGEEKS/pkg/scraper"
)

// parseListParam reads a query parameter that may be repeated or
// comma-separated.
func parseListParam(r *http.Request, name string) []string {
	var values []string
	for _, v := range r.URL.Query()[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
	}
	return values
}

// parseDateParam accepts RFC 3339 timestamps and bare dates.
func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// parsePageRequest validates pagination parameters. Missing values fall
// back to the engine defaults; malformed or non-positive values are a 400.
func parsePageRequest(r *http.Request) (feed.PageRequest, error) {
	var req feed.PageRequest
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return req, errors.New("invalid page")
		}
		req.Page = n
	}
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return req, errors.New("invalid size")
		}
		req.Size = n
	}
	return req, nil
}

func parseFilter(r *http.Request) (store.Filter, error) {
	dateFrom, err := parseDateParam(r, "date_from")
	if err != nil {
		return store.Filter{}, errors.New("invalid date_from")
	}
	dateTo, err := parseDateParam(r, "date_to")
	if err != nil {
		return store.Filter{}, errors.New("invalid date_to")
	}
	return store.Filter{
		Sources:    parseListParam(r, "sources"),
		Categories: parseListParam(r, "categories"),
		Authors:    parseListParam(r, "authors"),
		Language:   r.URL.Query().Get("language"),
		Country:    r.URL.Query().Get("country"),
		DateFrom:   dateFrom,
		DateTo:     dateTo,
		Search:     r.URL.Query().Get("search"),
	}, nil
}

func (s *Server) resolveFiltered(w http.ResponseWriter, r *http.Request, requireSearch bool) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if requireSearch {
		filter.Search = strings.TrimSpace(r.URL.Query().Get("q"))
		if filter.Search == "" {
			respondError(w, http.StatusBadRequest, "q parameter is required")
			return
		}
	}
	page, err := parsePageRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.engine.Resolve(r.Context(), filter, page)
	if err != nil {
		s.logger.Error("failed to list articles", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list articles")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListArticles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resolveFiltered(w, r, false)
	}
}

func (s *Server) handleSearchArticles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resolveFiltered(w, r, true)
	}
}

func (s *Server) handleGetFilters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, err := s.articleStore.GetAvailableFilters(r.Context())
		if err != nil {
			s.logger.Error("failed to load filters", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to load filters")
			return
		}
		respondJSON(w, http.StatusOK, filters)
	}
}

// lookupArticle fetches the article from the path id, writing the error
// response itself when the article cannot be served.
func (s *Server) lookupArticle(w http.ResponseWriter, r *http.Request) *store.Article {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 1 {
		respondError(w, http.StatusBadRequest, "Invalid article id")
		return nil
	}
	article, err := s.articleStore.GetArticleByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load article", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to load article")
		return nil
	}
	if article == nil || !article.IsActive {
		respondError(w, http.StatusNotFound, "Article not found")
		return nil
	}
	return article
}

func (s *Server) handleGetArticle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if article := s.lookupArticle(w, r); article != nil {
			respondJSON(w, http.StatusOK, article)
		}
	}
}

func (s *Server) handlePersonalizedFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pref, err := s.userStore.GetPreference(r.Context(), getUserID(r))
		if err != nil && !errors.Is(err, user.ErrNotFound) {
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}

		var feedPref *feed.Preference
		if pref != nil {
			feedPref = &feed.Preference{
				Categories: pref.Categories,
				Sources:    pref.Sources,
				Authors:    pref.Authors,
				Language:   pref.Language,
				Country:    pref.Country,
			}
		}

		dateFrom, err := parseDateParam(r, "date_from")
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid date_from")
			return
		}
		dateTo, err := parseDateParam(r, "date_to")
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid date_to")
			return
		}

		page, err := parsePageRequest(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := s.engine.ResolvePersonalized(r.Context(), feedPref, dateFrom, dateTo, page)
		if err != nil {
			s.logger.Error("failed to resolve personalized feed", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to resolve feed")
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

type SaveArticleRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleSaveArticle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		article := s.lookupArticle(w, r)
		if article == nil {
			return
		}

		var req SaveArticleRequest
		if r.Body != nil {
			// The body is optional; ignore decode errors from an empty body.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		created, err := s.articleStore.SaveForUser(r.Context(), getUserID(r), article.ID, req.Notes)
		if err != nil {
			s.logger.Error("failed to save article", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to save article")
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		respondJSON(w, status, map[string]interface{}{"article_id": article.ID, "saved": true})
	}
}

func (s *Server) handleUnsaveArticle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil || id < 1 {
			respondError(w, http.StatusBadRequest, "Invalid article id")
			return
		}
		removed, err := s.articleStore.UnsaveForUser(r.Context(), getUserID(r), id)
		if err != nil {
			s.logger.Error("failed to unsave article", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to remove saved article")
			return
		}
		if !removed {
			respondError(w, http.StatusNotFound, "Article not in saved list")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"article_id": id, "saved": false})
	}
}

func (s *Server) handleListSaved() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parsePageRequest(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Page < 1 {
			req.Page = 1
		}
		if req.Size < 1 {
			req.Size = feed.DefaultPageSize
		}
		if req.Size > feed.MaxPageSize {
			req.Size = feed.MaxPageSize
		}

		saved, total, err := s.articleStore.ListSavedByUser(r.Context(), getUserID(r),
			store.Page{Number: req.Page, Size: req.Size})
		if err != nil {
			s.logger.Error("failed to list saved articles", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to list saved articles")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"saved_articles": saved,
			"total":          total,
			"page":           req.Page,
			"size":           req.Size,
		})
	}
}

func (s *Server) handleIsSaved() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil || id < 1 {
			respondError(w, http.StatusBadRequest, "Invalid article id")
			return
		}
		saved, err := s.articleStore.IsSaved(r.Context(), getUserID(r), id)
		if err != nil {
			s.logger.Error("failed to check saved state", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to check saved state")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"article_id": id, "saved": saved})
	}
}

// alreadyEnrichedLength is the stored content length above which an article
// is considered to already have a real body.
const alreadyEnrichedLength = 100

func (s *Server) handleScrapeArticle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		article := s.lookupArticle(w, r)
		if article == nil {
			return
		}

		if len(article.Content) > alreadyEnrichedLength {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"article": article,
				"scraped": false,
				"message": "Article already has content",
			})
			return
		}
		if !scraper.Scrapable(article.URL) {
			respondError(w, http.StatusUnprocessableEntity, "Article URL cannot be scraped")
			return
		}

		content, err := s.fetcher.Fetch(r.Context(), article.URL, nil)
		if err != nil {
			s.logger.Warn("scrape failed", "id", article.ID, "url", article.URL, "error", err)
			respondError(w, http.StatusBadGateway, "Failed to fetch article content")
			return
		}
		if err := s.articleStore.SetArticleContent(r.Context(), article.ID, content); err != nil {
			s.logger.Error("failed to store content", "id", article.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to store content")
			return
		}
		article.Content = content
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"article": article,
			"scraped": true,
		})
	}
}

func (s *Server) handleTriggerIngest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if state, _ := s.scheduler.Status(); state == ingest.Running {
			respondJSON(w, http.StatusAccepted, map[string]string{"status": "already_running"})
			return
		}
		go func() {
			if _, err := s.scheduler.Trigger(context.Background()); err != nil && !errors.Is(err, ingest.ErrAlreadyRunning) {
				s.logger.Error("triggered ingestion failed", "error", err)
			}
		}()
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (s *Server) handleIngestStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, report := s.scheduler.Status()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"state":       state,
			"last_report": report,
		})
	}
}
