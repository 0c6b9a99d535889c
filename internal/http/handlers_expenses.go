package http

import (
	"net/http"

	"hushold/internal/core"
)

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "expense.error.invalidId")
		return
	}

	// Resolve the account through the user-scoped view; a foreign
	// expense comes back not found.
	existing, ok := s.resolveExpense(w, r, uid, id)
	if !ok {
		return
	}

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "expense.error.invalidRequest")
		return
	}

	expense, err := s.service.SaveExpense(r.Context(), uid, req.toInput(id, existing.AccountID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateUserCaches(ownersAnd(uid, append(existing.UserIDs, expense.UserIDs...))...)
	writeJSON(w, http.StatusOK, expense)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "expense.error.invalidId")
		return
	}

	existing, ok := s.resolveExpense(w, r, uid, id)
	if !ok {
		return
	}

	if err := s.service.DeleteExpense(r.Context(), uid, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateUserCaches(ownersAnd(uid, existing.UserIDs)...)
	w.WriteHeader(http.StatusNoContent)
}

// resolveExpense loads the expense while enforcing ownership. On
// failure the response is already written.
func (s *Server) resolveExpense(w http.ResponseWriter, r *http.Request, uid string, expenseID int64) (core.Expense, bool) {
	expense, err := s.service.GetExpense(r.Context(), uid, expenseID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return core.Expense{}, false
	}
	return expense, true
}
