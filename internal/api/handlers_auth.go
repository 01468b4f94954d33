package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"

	"golang.org/x/crypto/bcrypt"

	"github.com/ikehi/GURUGEEKS/internal/user"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (s *Server) handleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.Email == "" || req.Username == "" || req.Password == "" {
			respondError(w, http.StatusBadRequest, "Email, username and password are required")
			return
		}
		if _, err := mail.ParseAddress(req.Email); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid email address")
			return
		}
		if len(req.Password) < 8 {
			respondError(w, http.StatusBadRequest, "Password must be at least 8 characters")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to process password")
			return
		}

		u := &user.User{
			Email:          req.Email,
			Username:       req.Username,
			HashedPassword: string(hash),
			FullName:       req.FullName,
		}
		if err := s.userStore.Create(r.Context(), u); err != nil {
			if errors.Is(err, user.ErrDuplicate) {
				respondError(w, http.StatusConflict, "Email or username already registered")
				return
			}
			s.logger.Error("failed to create user", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		token, err := s.generateToken(u.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate token")
			return
		}
		setTokenCookie(w, token)

		respondJSON(w, http.StatusCreated, map[string]interface{}{
			"user":  u,
			"token": token,
		})
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		u, err := s.userStore.GetByEmail(r.Context(), req.Email)
		if err != nil && !errors.Is(err, user.ErrNotFound) {
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		if u == nil || !u.IsActive {
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(req.Password)); err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		token, err := s.generateToken(u.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate token")
			return
		}
		setTokenCookie(w, token)

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"user":  u,
			"token": token,
		})
	}
}

// handleRefreshToken issues a fresh token to a caller whose current one
// is still valid.
func (s *Server) handleRefreshToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := getUserID(r)
		u, err := s.userStore.GetByID(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		if !u.IsActive {
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		token, err := s.generateToken(userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate token")
			return
		}
		setTokenCookie(w, token)
		respondJSON(w, http.StatusOK, map[string]interface{}{"token": token})
	}
}
