package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"hushold/internal/core"
	"hushold/internal/services"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	if cached, ok := s.overviewCache.Get(uid); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	overviews, err := s.service.ListAccountOverviews(r.Context(), uid)
	if err != nil {
		slog.ErrorContext(r.Context(), "List accounts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "error.internal")
		return
	}

	s.overviewCache.Set(uid, overviews)
	writeJSON(w, http.StatusOK, overviews)
}

type accountRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "account.error.invalidRequest")
		return
	}

	account, err := s.service.SaveAccount(r.Context(), uid, core.Account{Name: req.Name})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateUserCaches(ownersAnd(uid, account.UserIDs)...)
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account.error.invalidId")
		return
	}

	account, err := s.service.GetAccountExpanded(r.Context(), userID(r), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account.error.invalidId")
		return
	}

	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "account.error.invalidRequest")
		return
	}

	existing, err := s.service.GetAccountExpanded(r.Context(), uid, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	existing.Name = req.Name
	existing.Expenses = nil
	account, err := s.service.SaveAccount(r.Context(), uid, existing)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateUserCaches(ownersAnd(uid, account.UserIDs)...)
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account.error.invalidId")
		return
	}

	// Ownership check before the delete touches anything.
	existing, err := s.service.GetAccountExpanded(r.Context(), uid, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if err := s.service.DeleteAccount(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateUserCaches(ownersAnd(uid, existing.UserIDs)...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account.error.invalidId")
		return
	}

	date, err := parseMonthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "balance.error.invalidDate")
		return
	}

	cacheKey := fmt.Sprintf("%s|%d|%s", uid, id, date.Format("2006-01"))
	if cached, ok := s.balanceCache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	report, err := s.service.AccountBalance(r.Context(), uid, id, date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.balanceCache.Set(cacheKey, report)
	writeJSON(w, http.StatusOK, report)
}

// amountField accepts an amount as a JSON number or as a string the way
// form clients submit it ("12,34"). Unparsable strings decode as zero so
// the required-fields validation reports them with its reason code.
type amountField float64

func (a *amountField) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := core.ParseAmount(s)
		if err != nil {
			*a = 0
			return nil
		}
		*a = amountField(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = amountField(v)
	return nil
}

// handleAccountProjection serves the snapshot the worker last computed
// for the account. 404 until the worker has processed it.
func (s *Server) handleAccountProjection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account.error.invalidId")
		return
	}

	report, err := s.service.AccountProjection(r.Context(), userID(r), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type expenseRequest struct {
	Name    string      `json:"name"`
	Amount  amountField `json:"amount"`
	Tag     string      `json:"tag"`
	Enabled bool        `json:"enabled"`
	Shared  bool        `json:"shared"`
	Months  []int       `json:"months"`
}

func (req expenseRequest) toInput(id, accountID int64) services.ExpenseInput {
	in := services.ExpenseInput{
		ID:        id,
		Name:      req.Name,
		Amount:    float64(req.Amount),
		Tag:       req.Tag,
		AccountID: accountID,
		Enabled:   req.Enabled,
		Shared:    req.Shared,
	}
	for _, m := range req.Months {
		in.Months = append(in.Months, time.Month(m))
	}
	return in
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	accountID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account.error.invalidId")
		return
	}

	if _, err := s.service.GetAccountExpanded(r.Context(), uid, accountID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "expense.error.invalidRequest")
		return
	}

	expense, err := s.service.SaveExpense(r.Context(), uid, req.toInput(0, accountID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.invalidateUserCaches(ownersAnd(uid, expense.UserIDs)...)
	writeJSON(w, http.StatusCreated, expense)
}

// writeServiceError maps service failures onto API statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, core.ErrAccountHasExpenses):
		writeError(w, http.StatusConflict, "account.error.hasDependents")
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "error.notFound")
	default:
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "url", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "error.internal")
	}
}
