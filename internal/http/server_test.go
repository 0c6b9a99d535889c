package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"hushold/internal/auth"
	"hushold/internal/core"
	"hushold/internal/services"
	"hushold/internal/storage"
)

type testClient struct {
	t      *testing.T
	srv    *Server
	repo   *storage.SQLiteRepository
	cookie *http.Cookie
}

func newTestServer(t *testing.T) *testClient {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}

	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	for _, name := range []string{"alice", "bob"} {
		if _, err := repo.CreateUser(context.Background(), storage.User{
			ID: "u-" + name, Username: name, PasswordHash: hash,
		}); err != nil {
			t.Fatalf("CreateUser(%s): %v", name, err)
		}
	}

	service := services.NewBudgetService(repo, nil)
	srv := NewServer(":0", service, repo, time.Hour)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		repo.Close()
	})

	return &testClient{t: t, srv: srv, repo: repo}
}

// as returns a second client for another user against the same server.
func (c *testClient) as(username string) *testClient {
	c.t.Helper()
	other := &testClient{t: c.t, srv: c.srv, repo: c.repo}
	other.loginAs(username, "s3cret")
	return other
}

func (c *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}

	rr := httptest.NewRecorder()
	c.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (c *testClient) login() {
	c.loginAs("alice", "s3cret")
}

func (c *testClient) loginAs(username, password string) {
	c.t.Helper()
	rr := c.do(http.MethodPost, "/login", map[string]string{
		"username": username, "password": password,
	})
	if rr.Code != http.StatusOK {
		c.t.Fatalf("login status = %d, body %s", rr.Code, rr.Body.String())
	}
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == sessionCookie {
			c.cookie = cookie
			return
		}
	}
	c.t.Fatal("no session cookie in login response")
}

func (c *testClient) createAccount(name string) core.Account {
	c.t.Helper()
	rr := c.do(http.MethodPost, "/api/accounts", map[string]string{"name": name})
	if rr.Code != http.StatusCreated {
		c.t.Fatalf("create account status = %d, body %s", rr.Code, rr.Body.String())
	}
	var account core.Account
	if err := json.Unmarshal(rr.Body.Bytes(), &account); err != nil {
		c.t.Fatalf("decode account: %v", err)
	}
	return account
}

func (c *testClient) createExpense(accountID int64, body map[string]any) core.Expense {
	c.t.Helper()
	rr := c.do(http.MethodPost, fmt.Sprintf("/api/accounts/%d/expenses", accountID), body)
	if rr.Code != http.StatusCreated {
		c.t.Fatalf("create expense status = %d, body %s", rr.Code, rr.Body.String())
	}
	var expense core.Expense
	if err := json.Unmarshal(rr.Body.Bytes(), &expense); err != nil {
		c.t.Fatalf("decode expense: %v", err)
	}
	return expense
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := c.do(http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rr.Code)
		}
	}
}

func TestLoginFlow(t *testing.T) {
	c := newTestServer(t)

	rr := c.do(http.MethodPost, "/login", map[string]string{
		"username": "alice", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", rr.Code)
	}

	rr = c.do(http.MethodPost, "/login", map[string]string{
		"username": "nobody", "password": "s3cret",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unknown user status = %d, want 401", rr.Code)
	}

	rr = c.do(http.MethodGet, "/api/accounts", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rr.Code)
	}

	c.login()
	rr = c.do(http.MethodGet, "/api/accounts", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rr.Code)
	}

	rr = c.do(http.MethodPost, "/logout", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("logout status = %d, want 204", rr.Code)
	}
	rr = c.do(http.MethodGet, "/api/accounts", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("after logout status = %d, want 401", rr.Code)
	}
}

func TestAccountLifecycle(t *testing.T) {
	c := newTestServer(t)
	c.login()

	account := c.createAccount("Bills")

	rr := c.do(http.MethodGet, fmt.Sprintf("/api/accounts/%d", account.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get account status = %d", rr.Code)
	}

	rr = c.do(http.MethodPut, fmt.Sprintf("/api/accounts/%d", account.ID), map[string]string{"name": "Household"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update account status = %d, body %s", rr.Code, rr.Body.String())
	}

	// Overview list reflects the rename despite the cache.
	rr = c.do(http.MethodGet, "/api/accounts", nil)
	var overviews []services.AccountOverview
	if err := json.Unmarshal(rr.Body.Bytes(), &overviews); err != nil {
		t.Fatalf("decode overviews: %v", err)
	}
	if len(overviews) != 1 || overviews[0].Account.Name != "Household" {
		t.Errorf("overviews = %+v", overviews)
	}

	rr = c.do(http.MethodDelete, fmt.Sprintf("/api/accounts/%d", account.ID), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete account status = %d", rr.Code)
	}
	rr = c.do(http.MethodGet, fmt.Sprintf("/api/accounts/%d", account.ID), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get deleted account status = %d, want 404", rr.Code)
	}
}

func TestDeleteAccountWithExpensesConflicts(t *testing.T) {
	c := newTestServer(t)
	c.login()

	account := c.createAccount("Bills")
	c.createExpense(account.ID, map[string]any{
		"name": "Rent", "amount": 900.0, "enabled": true,
	})

	rr := c.do(http.MethodDelete, fmt.Sprintf("/api/accounts/%d", account.ID), nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("delete status = %d, want 409; body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["error"] != "account.error.hasDependents" {
		t.Errorf("error reason = %q", resp["error"])
	}
}

func TestExpenseValidationReasons(t *testing.T) {
	c := newTestServer(t)
	c.login()
	account := c.createAccount("Bills")

	tests := []struct {
		name   string
		body   map[string]any
		reason string
	}{
		{
			name:   "missing name",
			body:   map[string]any{"amount": 100.0, "enabled": true},
			reason: "expense.error.requiredFields",
		},
		{
			name:   "whitespace name",
			body:   map[string]any{"name": "   ", "amount": 100.0, "enabled": true},
			reason: "expense.error.requiredFields",
		},
		{
			name:   "unparsable string amount",
			body:   map[string]any{"name": "Tax", "amount": "junk", "enabled": true},
			reason: "expense.error.requiredFields",
		},
		{
			name: "bad months",
			body: map[string]any{
				"name": "Tax", "amount": 100.0, "enabled": true,
				"months": []int{1, 2, 3},
			},
			reason: "expense.error.invalidCombinationOfMonths",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := c.do(http.MethodPost, fmt.Sprintf("/api/accounts/%d/expenses", account.ID), tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body %s", rr.Code, rr.Body.String())
			}
			var resp map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp["error"] != tt.reason {
				t.Errorf("reason = %q, want %q", resp["error"], tt.reason)
			}
		})
	}
}

func TestExpenseUpdateAndDelete(t *testing.T) {
	c := newTestServer(t)
	c.login()
	account := c.createAccount("Bills")
	expense := c.createExpense(account.ID, map[string]any{
		"name": "Tax", "amount": 600.0, "enabled": true, "months": []int{6, 12},
	})

	rr := c.do(http.MethodPut, fmt.Sprintf("/api/expenses/%d", expense.ID), map[string]any{
		"name": "Road tax", "amount": 450.0, "enabled": true, "months": []int{3},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rr.Code, rr.Body.String())
	}
	var updated core.Expense
	if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if updated.Name != "Road tax" || len(updated.PaymentDates) != 1 {
		t.Errorf("updated = %+v", updated)
	}

	rr = c.do(http.MethodDelete, fmt.Sprintf("/api/expenses/%d", expense.ID), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = c.do(http.MethodDelete, fmt.Sprintf("/api/expenses/%d", expense.ID), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestAccountBalanceEndpoint(t *testing.T) {
	c := newTestServer(t)
	c.login()
	account := c.createAccount("Bills")
	c.createExpense(account.ID, map[string]any{
		"name": "Insurance", "amount": 600.0, "enabled": true, "months": []int{1, 7},
	})

	rr := c.do(http.MethodGet, fmt.Sprintf("/api/accounts/%d/balance?date=2026-06", account.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("balance status = %d, body %s", rr.Code, rr.Body.String())
	}
	var report services.BalanceReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Balance != 500 {
		t.Errorf("Balance = %v, want 500", report.Balance)
	}
	if report.MonthlyTransfer != 100 {
		t.Errorf("MonthlyTransfer = %v, want 100", report.MonthlyTransfer)
	}

	rr = c.do(http.MethodGet, fmt.Sprintf("/api/accounts/%d/balance?date=junk", account.ID), nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", rr.Code)
	}
}

func TestBalanceCacheInvalidatedOnMutation(t *testing.T) {
	c := newTestServer(t)
	c.login()
	account := c.createAccount("Bills")
	expense := c.createExpense(account.ID, map[string]any{
		"name": "Insurance", "amount": 600.0, "enabled": true, "months": []int{1, 7},
	})

	path := fmt.Sprintf("/api/accounts/%d/balance?date=2026-06", account.ID)
	c.do(http.MethodGet, path, nil) // warm the cache

	rr := c.do(http.MethodDelete, fmt.Sprintf("/api/expenses/%d", expense.ID), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = c.do(http.MethodGet, path, nil)
	var report services.BalanceReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Balance != 0 {
		t.Errorf("Balance after delete = %v, want 0", report.Balance)
	}
}

func TestExpenseStringAmount(t *testing.T) {
	c := newTestServer(t)
	c.login()
	account := c.createAccount("Bills")

	expense := c.createExpense(account.ID, map[string]any{
		"name": "Netflix", "amount": "12,34", "enabled": true,
	})
	if expense.Amount != 12.34 {
		t.Errorf("Amount = %v, want 12.34", expense.Amount)
	}
}

func TestSharedMutationInvalidatesPartnerCache(t *testing.T) {
	c := newTestServer(t)
	c.login()

	rr := c.do(http.MethodPut, "/api/settings", map[string]any{
		"locale": "en", "income": 0.0, "partnerId": "u-bob",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("set partner status = %d, body %s", rr.Code, rr.Body.String())
	}

	account := c.createAccount("Bills")
	account.UserIDs = append(account.UserIDs, "u-bob")
	account.Expenses = nil
	if _, err := c.repo.UpdateAccount(context.Background(), account); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}

	expense := c.createExpense(account.ID, map[string]any{
		"name": "Insurance", "amount": 600.0, "enabled": true, "shared": true,
		"months": []int{1, 7},
	})

	bob := c.as("bob")
	path := fmt.Sprintf("/api/accounts/%d/balance?date=2026-06", account.ID)
	rr = bob.do(http.MethodGet, path, nil) // warm bob's cache
	if rr.Code != http.StatusOK {
		t.Fatalf("partner balance status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = c.do(http.MethodDelete, fmt.Sprintf("/api/expenses/%d", expense.ID), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = bob.do(http.MethodGet, path, nil)
	var report services.BalanceReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Balance != 0 {
		t.Errorf("partner balance after delete = %v, want 0", report.Balance)
	}
}

func TestAccountProjectionEndpoint(t *testing.T) {
	c := newTestServer(t)
	c.login()
	account := c.createAccount("Bills")

	path := fmt.Sprintf("/api/accounts/%d/projection", account.ID)
	rr := c.do(http.MethodGet, path, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("projection before refresh status = %d, want 404", rr.Code)
	}

	next := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	if err := c.repo.UpsertProjection(context.Background(), storage.ProjectionSnapshot{
		AccountID:       account.ID,
		Balance:         500,
		MonthlyTransfer: 100,
		NextPaymentDate: &next,
		ComputedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertProjection: %v", err)
	}

	rr = c.do(http.MethodGet, path, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("projection status = %d, body %s", rr.Code, rr.Body.String())
	}
	var report services.ProjectionReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode projection: %v", err)
	}
	if report.Balance != 500 || report.MonthlyTransfer != 100 {
		t.Errorf("projection = %+v", report)
	}
	if report.NextPaymentDate == nil || !report.NextPaymentDate.Equal(next) {
		t.Errorf("NextPaymentDate = %v, want %v", report.NextPaymentDate, next)
	}

	bob := c.as("bob")
	rr = bob.do(http.MethodGet, path, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("foreign projection status = %d, want 404", rr.Code)
	}
}

func TestTagsAndSearch(t *testing.T) {
	c := newTestServer(t)
	c.login()
	account := c.createAccount("Bills")
	c.createExpense(account.ID, map[string]any{
		"name": "Rent", "amount": 900.0, "tag": "home", "enabled": true,
	})

	rr := c.do(http.MethodGet, "/api/tags", nil)
	var tags []string
	if err := json.Unmarshal(rr.Body.Bytes(), &tags); err != nil {
		t.Fatalf("decode tags: %v", err)
	}
	if len(tags) != 1 || tags[0] != "home" {
		t.Errorf("tags = %v, want [home]", tags)
	}

	rr = c.do(http.MethodGet, "/api/tags/home", nil)
	var groups []services.TagGroup
	if err := json.Unmarshal(rr.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode tag groups: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Expenses) != 1 {
		t.Errorf("groups = %+v", groups)
	}

	rr = c.do(http.MethodGet, "/api/search?q=rent", nil)
	var results services.SearchResults
	if err := json.Unmarshal(rr.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(results.Expenses) != 1 {
		t.Errorf("search expenses = %d, want 1", len(results.Expenses))
	}

	rr = c.do(http.MethodGet, "/api/search", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rr.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	c := newTestServer(t)
	c.login()

	rr := c.do(http.MethodGet, "/api/settings", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get settings status = %d", rr.Code)
	}
	var settings core.Settings
	if err := json.Unmarshal(rr.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if settings.Locale != "en" {
		t.Errorf("default locale = %q, want en", settings.Locale)
	}

	rr = c.do(http.MethodPut, "/api/settings", map[string]any{
		"locale": "it", "income": 2500.0, "partnerId": "u-bob",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update settings status = %d, body %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode updated settings: %v", err)
	}
	if settings.Locale != "it" || settings.Income != 2500 || settings.PartnerID != "u-bob" {
		t.Errorf("updated settings = %+v", settings)
	}

	rr = c.do(http.MethodPut, "/api/settings", map[string]any{"locale": "", "income": 1.0})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid settings status = %d, want 400", rr.Code)
	}
}

func TestOwnersAnd(t *testing.T) {
	got := ownersAnd("u-alice", []string{"u-alice", "u-bob"})
	if len(got) != 2 {
		t.Errorf("ownersAnd with member = %v", got)
	}

	got = ownersAnd("u-alice", []string{"u-bob"})
	if len(got) != 2 || got[0] != "u-alice" {
		t.Errorf("ownersAnd without member = %v", got)
	}
}

func TestLRUCache(t *testing.T) {
	cache := newLRUCache[int](2, time.Minute)
	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3) // evicts "a"

	if _, ok := cache.Get("a"); ok {
		t.Error("oldest entry not evicted")
	}
	if v, ok := cache.Get("b"); !ok || v != 2 {
		t.Errorf("Get(b) = %v, %v", v, ok)
	}

	cache.DeletePrefix("b")
	if _, ok := cache.Get("b"); ok {
		t.Error("DeletePrefix left matching entry")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Error("DeletePrefix removed non-matching entry")
	}
}

func TestLRUCacheTTL(t *testing.T) {
	cache := newLRUCache[int](10, time.Millisecond)
	cache.Set("a", 1)
	time.Sleep(5 * time.Millisecond)

	if _, ok := cache.Get("a"); ok {
		t.Error("expired entry still returned")
	}
	if n := cache.CleanExpired(); n != 0 {
		// Get already dropped it
		t.Errorf("CleanExpired = %d, want 0", n)
	}
}
