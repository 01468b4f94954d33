package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/ikehi/GURUGEEKS/internal/user"
)

func (s *Server) handleGetMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.userStore.GetByID(r.Context(), getUserID(r))
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				respondError(w, http.StatusNotFound, "User not found")
				return
			}
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		respondJSON(w, http.StatusOK, u)
	}
}

type UpdateMeRequest struct {
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
}

func (s *Server) handleUpdateMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateMeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		u, err := s.userStore.GetByID(r.Context(), getUserID(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}

		if req.FullName != nil {
			u.FullName = *req.FullName
		}
		if req.Password != nil {
			if len(*req.Password) < 8 {
				respondError(w, http.StatusBadRequest, "Password must be at least 8 characters")
				return
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "Failed to process password")
				return
			}
			u.HashedPassword = string(hash)
		}

		if err := s.userStore.Update(r.Context(), u); err != nil {
			s.logger.Error("failed to update user", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to update user")
			return
		}
		respondJSON(w, http.StatusOK, u)
	}
}

func (s *Server) handleGetPreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pref, err := s.userStore.GetPreference(r.Context(), getUserID(r))
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				// A user who never saved a preference gets the defaults.
				respondJSON(w, http.StatusOK, &user.Preference{Language: "en", Country: "us"})
				return
			}
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		respondJSON(w, http.StatusOK, pref)
	}
}

func (s *Server) handleCreatePreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pref user.Preference
		if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := s.userStore.CreatePreference(r.Context(), getUserID(r), &pref); err != nil {
			if errors.Is(err, user.ErrDuplicate) {
				respondError(w, http.StatusConflict, "Preferences already exist")
				return
			}
			s.logger.Error("failed to create preference", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to save preferences")
			return
		}
		respondJSON(w, http.StatusCreated, &pref)
	}
}

func (s *Server) handleUpdatePreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pref user.Preference
		if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := s.userStore.UpdatePreference(r.Context(), getUserID(r), &pref); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				respondError(w, http.StatusNotFound, "Preferences not found")
				return
			}
			s.logger.Error("failed to update preference", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to save preferences")
			return
		}
		respondJSON(w, http.StatusOK, &pref)
	}
}
