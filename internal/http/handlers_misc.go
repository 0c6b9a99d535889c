package http

import (
	"log/slog"
	"net/http"
	"strings"

	"hushold/internal/core"
)

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.repo.ListTags(r.Context(), userID(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "List tags failed", "error", err)
		writeError(w, http.StatusInternalServerError, "error.internal")
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleTagDetail(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("name")
	if tag == "" {
		writeError(w, http.StatusBadRequest, "tag.error.invalidName")
		return
	}

	groups, err := s.service.ExpensesByTag(r.Context(), userID(r), tag)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "search.error.missingQuery")
		return
	}

	results, err := s.service.Search(r.Context(), userID(r), q)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.repo.GetOrCreateSettings(r.Context(), userID(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "Get settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "error.internal")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type settingsRequest struct {
	Locale    string  `json:"locale"`
	Income    float64 `json:"income"`
	PartnerID string  `json:"partnerId"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "settings.error.invalidRequest")
		return
	}
	if req.Locale == "" || req.Income < 0 {
		writeError(w, http.StatusBadRequest, "settings.error.requiredFields")
		return
	}

	current, err := s.repo.GetOrCreateSettings(r.Context(), uid)
	if err != nil {
		slog.ErrorContext(r.Context(), "Get settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "error.internal")
		return
	}

	updated, err := s.repo.UpdateSettings(r.Context(), core.Settings{
		ID:        current.ID,
		UserID:    uid,
		Locale:    req.Locale,
		Income:    req.Income,
		PartnerID: req.PartnerID,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "Update settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "error.internal")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
