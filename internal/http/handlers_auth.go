package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"hushold/internal/auth"
	"hushold/internal/core"
	"hushold/internal/storage"
)

const sessionCookie = "session"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "auth.error.invalidRequest")
		return
	}

	user, err := s.repo.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "auth.error.invalidCredentials")
			return
		}
		slog.ErrorContext(r.Context(), "Login lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "error.internal")
		return
	}

	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		slog.WarnContext(r.Context(), "Login rejected", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "auth.error.invalidCredentials")
		return
	}

	session := storage.Session{
		Token:     auth.NewSessionToken(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.sessionTTL),
	}
	if err := s.repo.CreateSession(r.Context(), session); err != nil {
		slog.ErrorContext(r.Context(), "Session creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "error.internal")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	slog.InfoContext(r.Context(), "User logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"userId": user.ID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if err := s.repo.DeleteSession(r.Context(), cookie.Value); err != nil {
			slog.ErrorContext(r.Context(), "Session deletion failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// requireAuth resolves the session cookie to a user and stores the user
// ID on the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "auth.error.notLoggedIn")
			return
		}

		uid, err := s.repo.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "auth.error.sessionExpired")
				return
			}
			slog.ErrorContext(r.Context(), "Session validation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "error.internal")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, uid)
		next(w, r.WithContext(ctx))
	}
}
