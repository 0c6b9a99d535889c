// Package services orchestrates the budgeting flows across storage,
// the projection engine, and AMQP.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hushold/internal/core"
	"hushold/internal/projection"
	"hushold/internal/storage"
)

// Reason codes surfaced to the client on validation failures.
const (
	ReasonRequiredFields = "expense.error.requiredFields"
	ReasonInvalidMonths  = "expense.error.invalidCombinationOfMonths"
)

// ValidationError carries a symbolic reason code the client can map to
// a localized message.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// AccountChangedPublisher emits projection-refresh requests. The AMQP
// client implements it; a nil publisher disables messaging.
type AccountChangedPublisher interface {
	PublishAccountChanged(ctx context.Context, accountID int64, userID string) error
}

// BudgetService orchestrates account and expense operations across
// SQLite and AMQP.
type BudgetService struct {
	storage   *storage.SQLiteRepository
	publisher AccountChangedPublisher
	engine    *projection.Engine
}

func NewBudgetService(storage *storage.SQLiteRepository, publisher AccountChangedPublisher) *BudgetService {
	return &BudgetService{
		storage:   storage,
		publisher: publisher,
		engine:    projection.NewEngine(),
	}
}

// ExpenseInput is the user-submitted shape of an expense. Months
// replace the stored payment-date rows wholesale on every save.
type ExpenseInput struct {
	ID        int64
	Name      string
	Amount    float64
	Tag       string
	AccountID int64
	Enabled   bool
	Shared    bool
	Months    []time.Month
}

// SaveExpense validates and persists an expense, replacing its payment
// dates, and requests a projection refresh for its account. A shared
// expense is co-owned by the user's partner when one is configured.
func (s *BudgetService) SaveExpense(ctx context.Context, userID string, in ExpenseInput) (core.Expense, error) {
	expense := core.Expense{
		ID:        in.ID,
		Name:      strings.TrimSpace(in.Name),
		Amount:    in.Amount,
		Tag:       in.Tag,
		AccountID: in.AccountID,
		Enabled:   in.Enabled,
		Shared:    in.Shared,
	}
	if expense.Validate() != nil || expense.AccountID == 0 {
		return core.Expense{}, &ValidationError{Reason: ReasonRequiredFields}
	}
	schedule, err := core.NewSchedule(in.Months)
	if err != nil {
		return core.Expense{}, &ValidationError{Reason: ReasonInvalidMonths}
	}

	owners, err := s.resolveOwners(ctx, userID, in.Shared)
	if err != nil {
		return core.Expense{}, err
	}
	expense.UserIDs = owners

	if expense.ID == 0 {
		expense, err = s.storage.CreateExpense(ctx, expense)
	} else {
		expense, err = s.storage.UpdateExpense(ctx, expense)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	if err := s.storage.DeletePaymentDatesFor(ctx, expense.ID); err != nil {
		return core.Expense{}, err
	}
	for _, month := range schedule.Months() {
		d, err := s.storage.CreatePaymentDate(ctx, core.PaymentDate{
			ExpenseID: expense.ID,
			Month:     month,
			UserIDs:   owners,
		})
		if err != nil {
			return core.Expense{}, err
		}
		expense.PaymentDates = append(expense.PaymentDates, d)
	}

	s.publishAccountChanged(ctx, expense.AccountID, userID)
	return expense, nil
}

// DeleteExpense removes an expense and requests a projection refresh
// for the account it belonged to.
func (s *BudgetService) DeleteExpense(ctx context.Context, userID string, id int64) error {
	expense, err := s.storage.GetExpense(ctx, id)
	if err != nil {
		return err
	}
	if err := s.storage.DeleteExpense(ctx, id); err != nil {
		return err
	}

	s.publishAccountChanged(ctx, expense.AccountID, userID)
	return nil
}

// SaveAccount creates or updates an account owned by the user.
func (s *BudgetService) SaveAccount(ctx context.Context, userID string, a core.Account) (core.Account, error) {
	a.Name = strings.TrimSpace(a.Name)
	if err := a.Validate(); err != nil {
		return core.Account{}, &ValidationError{Reason: ReasonRequiredFields}
	}
	if len(a.UserIDs) == 0 {
		a.UserIDs = []string{userID}
	}

	var err error
	if a.ID == 0 {
		a, err = s.storage.CreateAccount(ctx, a)
	} else {
		a, err = s.storage.UpdateAccount(ctx, a)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("save account: %w", err)
	}
	return a, nil
}

// DeleteAccount removes an account. core.ErrAccountHasExpenses passes
// through so the handler can report the conflict distinctly.
func (s *BudgetService) DeleteAccount(ctx context.Context, id int64) error {
	return s.storage.DeleteAccount(ctx, id)
}

// SearchResults groups the matches of a free-text query by kind.
type SearchResults struct {
	Accounts []core.Account `json:"accounts"`
	Expenses []core.Expense `json:"expenses"`
	Tags     []string       `json:"tags"`
}

func (s *BudgetService) Search(ctx context.Context, userID, q string) (SearchResults, error) {
	accounts, err := s.storage.SearchAccounts(ctx, userID, q)
	if err != nil {
		return SearchResults{}, err
	}
	expenses, err := s.storage.SearchExpenses(ctx, userID, q)
	if err != nil {
		return SearchResults{}, err
	}
	tags, err := s.storage.SearchTags(ctx, userID, q)
	if err != nil {
		return SearchResults{}, err
	}
	return SearchResults{Accounts: accounts, Expenses: expenses, Tags: tags}, nil
}

// AccountOverview is an account with its derived numbers, the shape the
// accounts listing renders.
type AccountOverview struct {
	Account         core.Account `json:"account"`
	MonthlyAmount   float64      `json:"monthlyAmount"`
	Balance         float64      `json:"balance"`
	NextPaymentDate *time.Time   `json:"nextPaymentDate,omitempty"`
}

// ListAccountOverviews returns the user's accounts with their expenses
// attached and current projections computed.
func (s *BudgetService) ListAccountOverviews(ctx context.Context, userID string) ([]AccountOverview, error) {
	accounts, err := s.storage.ListAccountsExpanded(ctx, userID)
	if err != nil {
		return nil, err
	}

	overviews := make([]AccountOverview, len(accounts))
	for i, a := range accounts {
		overviews[i] = AccountOverview{
			Account:       a,
			MonthlyAmount: a.MonthlyAmount(),
			Balance:       s.engine.CurrentBalance(a),
		}
		if next, ok := s.engine.NextAccountPaymentDate(a); ok {
			overviews[i].NextPaymentDate = &next
		}
	}
	return overviews, nil
}

// BalanceReport is the projection of one account at a reference date.
type BalanceReport struct {
	AccountID       int64          `json:"accountId"`
	Date            time.Time      `json:"date"`
	Balance         float64        `json:"balance"`
	MonthlyTransfer float64        `json:"monthlyTransfer"`
	NextPaymentDate *time.Time     `json:"nextPaymentDate,omitempty"`
	Expenses        []core.Expense `json:"expenses"`
}

// AccountBalance projects the account's balance at the given date. The
// expense list holds the non-monthly expenses paid in that month.
func (s *BudgetService) AccountBalance(ctx context.Context, userID string, accountID int64, date time.Time) (BalanceReport, error) {
	account, err := s.loadAccount(ctx, userID, accountID)
	if err != nil {
		return BalanceReport{}, err
	}

	report := BalanceReport{
		AccountID:       account.ID,
		Date:            date,
		Balance:         s.engine.AccountBalanceOn(account, date),
		MonthlyTransfer: s.engine.MonthlyBudgetTransferAmount(account),
		Expenses:        s.engine.ExpensesIn(account, date.Month()),
	}
	if next, ok := s.engine.NextAccountPaymentDate(account); ok {
		report.NextPaymentDate = &next
	}
	return report, nil
}

// ProjectionReport is the worker-maintained snapshot of an account's
// projection, served as persisted instead of recomputed.
type ProjectionReport struct {
	AccountID       int64      `json:"accountId"`
	Balance         float64    `json:"balance"`
	MonthlyTransfer float64    `json:"monthlyTransfer"`
	NextPaymentDate *time.Time `json:"nextPaymentDate,omitempty"`
	ComputedAt      time.Time  `json:"computedAt"`
}

// AccountProjection returns the last snapshot the worker computed for
// the account. Not found when the worker has not run for it yet.
func (s *BudgetService) AccountProjection(ctx context.Context, userID string, accountID int64) (ProjectionReport, error) {
	account, err := s.storage.GetAccount(ctx, accountID)
	if err != nil {
		return ProjectionReport{}, err
	}
	if !ownedBy(account.UserIDs, userID) {
		return ProjectionReport{}, core.ErrNotFound
	}

	snap, err := s.storage.GetProjection(ctx, accountID)
	if err != nil {
		return ProjectionReport{}, err
	}
	return ProjectionReport{
		AccountID:       snap.AccountID,
		Balance:         snap.Balance,
		MonthlyTransfer: snap.MonthlyTransfer,
		NextPaymentDate: snap.NextPaymentDate,
		ComputedAt:      snap.ComputedAt,
	}, nil
}

// GetExpense returns one of the user's expenses with its payment dates
// attached. Expenses the user does not own come back as not found.
func (s *BudgetService) GetExpense(ctx context.Context, userID string, id int64) (core.Expense, error) {
	expense, err := s.storage.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, err
	}
	if !ownedBy(expense.UserIDs, userID) {
		return core.Expense{}, core.ErrNotFound
	}

	expenses, err := s.storage.AttachPaymentDates(ctx, userID, []core.Expense{expense})
	if err != nil {
		return core.Expense{}, err
	}
	return expenses[0], nil
}

// GetAccountExpanded returns one of the user's accounts with expenses
// and payment dates attached.
func (s *BudgetService) GetAccountExpanded(ctx context.Context, userID string, accountID int64) (core.Account, error) {
	return s.loadAccount(ctx, userID, accountID)
}

// TagGroup lists a tag's expenses per account.
type TagGroup struct {
	Account  core.Account   `json:"account"`
	Expenses []core.Expense `json:"expenses"`
}

// ExpensesByTag returns the user's expenses carrying the tag, grouped
// by the account they belong to.
func (s *BudgetService) ExpensesByTag(ctx context.Context, userID, tag string) ([]TagGroup, error) {
	expenses, err := s.storage.ListExpenses(ctx, userID, &storage.ExpenseCriteria{Tag: tag})
	if err != nil {
		return nil, err
	}
	expenses, err = s.storage.AttachPaymentDates(ctx, userID, expenses)
	if err != nil {
		return nil, err
	}

	byAccount := make(map[int64][]core.Expense)
	var order []int64
	for _, e := range expenses {
		if _, seen := byAccount[e.AccountID]; !seen {
			order = append(order, e.AccountID)
		}
		byAccount[e.AccountID] = append(byAccount[e.AccountID], e)
	}

	groups := make([]TagGroup, 0, len(order))
	for _, accountID := range order {
		account, err := s.storage.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		groups = append(groups, TagGroup{Account: account, Expenses: byAccount[accountID]})
	}
	return groups, nil
}

func (s *BudgetService) loadAccount(ctx context.Context, userID string, accountID int64) (core.Account, error) {
	account, err := s.storage.GetAccount(ctx, accountID)
	if err != nil {
		return core.Account{}, err
	}
	if !ownedBy(account.UserIDs, userID) {
		return core.Account{}, core.ErrNotFound
	}

	expenses, err := s.storage.ListExpenses(ctx, userID, &storage.ExpenseCriteria{AccountID: accountID})
	if err != nil {
		return core.Account{}, err
	}
	expenses, err = s.storage.AttachPaymentDates(ctx, userID, expenses)
	if err != nil {
		return core.Account{}, err
	}
	account.Expenses = expenses
	return account, nil
}

// resolveOwners returns the owner list for a new record: the user, plus
// the configured partner when the record is shared.
func (s *BudgetService) resolveOwners(ctx context.Context, userID string, shared bool) ([]string, error) {
	owners := []string{userID}
	if !shared {
		return owners, nil
	}

	settings, err := s.storage.GetOrCreateSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return owners, nil
		}
		return nil, fmt.Errorf("resolve partner: %w", err)
	}
	if settings.PartnerID != "" {
		owners = append(owners, settings.PartnerID)
	}
	return owners, nil
}

func (s *BudgetService) publishAccountChanged(ctx context.Context, accountID int64, userID string) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "AMQP publisher not available, skipping account changed message")
		return
	}
	if err := s.publisher.PublishAccountChanged(ctx, accountID, userID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish account changed message",
			"account_id", accountID, "error", err)
		// Don't fail the request - the change is saved locally
	}
}

func ownedBy(userIDs []string, userID string) bool {
	for _, id := range userIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Close closes both storage and AMQP connections.
func (s *BudgetService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close budget service: %v", errs)
	}
	return nil
}
