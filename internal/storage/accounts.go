package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hushold/internal/core"
)

// AccountCriteria narrows ListAccounts. A nil criteria lists everything
// the user owns.
type AccountCriteria struct {
	IDs []int64
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	userIDs, err := marshalUserIDs(a.UserIDs)
	if err != nil {
		return core.Account{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (user_ids, name) VALUES (?, ?)`,
		userIDs, a.Name,
	)
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Account{}, fmt.Errorf("account insert id: %w", err)
	}
	a.ID = id

	slog.InfoContext(ctx, "Account created", "account_id", a.ID, "account_name", a.Name)
	return a, nil
}

func (r *SQLiteRepository) UpdateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	userIDs, err := marshalUserIDs(a.UserIDs)
	if err != nil {
		return core.Account{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET user_ids = ?, name = ? WHERE id = ?`,
		userIDs, a.Name, a.ID,
	)
	if err != nil {
		return core.Account{}, fmt.Errorf("update account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.Account{}, core.ErrNotFound
	}

	return a, nil
}

// DeleteAccount removes an account. Accounts still referenced by
// expenses cannot be deleted; that case is reported as
// core.ErrAccountHasExpenses so the caller can show a specific message.
func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.ErrAccountHasExpenses
		}
		return fmt.Errorf("delete account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}

	slog.InfoContext(ctx, "Account deleted", "account_id", id)
	return nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_ids, name FROM accounts WHERE id = ?`, id)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, userID string, criteria *AccountCriteria) ([]core.Account, error) {
	query := `SELECT id, user_ids, name FROM accounts WHERE ` + userIDsMember("accounts")
	args := []any{userID}

	if criteria != nil && len(criteria.IDs) > 0 {
		placeholders := strings.Repeat("?,", len(criteria.IDs))
		query += ` AND id IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range criteria.IDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

func (r *SQLiteRepository) SearchAccounts(ctx context.Context, userID, q string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_ids, name FROM accounts
		 WHERE `+userIDsMember("accounts")+` AND LOWER(name) LIKE ?`,
		userID, "%"+strings.ToLower(q)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("search accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// ListAccountsExpanded returns the user's accounts with their expenses
// and payment dates stitched in memory, the way the balance views need
// them.
func (r *SQLiteRepository) ListAccountsExpanded(ctx context.Context, userID string) ([]core.Account, error) {
	accounts, err := r.ListAccounts(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	expenses, err := r.ListExpenses(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	expenses, err = r.AttachPaymentDates(ctx, userID, expenses)
	if err != nil {
		return nil, err
	}

	byAccount := make(map[int64][]core.Expense)
	for _, e := range expenses {
		byAccount[e.AccountID] = append(byAccount[e.AccountID], e)
	}
	for i := range accounts {
		accounts[i].Expenses = byAccount[accounts[i].ID]
	}

	return accounts, nil
}

// GetAccountWithExpenses returns one account with its expenses and
// payment dates attached, without user scoping. Worker-side loads go
// through here; request-path loads stay user-scoped.
func (r *SQLiteRepository) GetAccountWithExpenses(ctx context.Context, id int64) (core.Account, error) {
	account, err := r.GetAccount(ctx, id)
	if err != nil {
		return core.Account{}, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_ids, name, amount, is_shared, tag, account_id, is_enabled
		 FROM expenses WHERE account_id = ? ORDER BY id`, id)
	if err != nil {
		return core.Account{}, fmt.Errorf("list account expenses: %w", err)
	}
	defer rows.Close()

	expenses, err := collectExpenses(rows)
	if err != nil {
		return core.Account{}, err
	}

	for i, e := range expenses {
		dateRows, err := r.db.QueryContext(ctx,
			`SELECT id, user_ids, expense_id, month FROM payment_dates
			 WHERE expense_id = ? ORDER BY id`, e.ID)
		if err != nil {
			return core.Account{}, fmt.Errorf("list expense payment dates: %w", err)
		}
		dates, err := collectPaymentDates(dateRows)
		dateRows.Close()
		if err != nil {
			return core.Account{}, err
		}
		expenses[i].PaymentDates = dates
	}

	account.Expenses = expenses
	return account, nil
}

// ListAllAccountsExpanded returns every account with expenses and
// payment dates attached, across all users. The projection worker uses
// it to rebuild snapshots on startup.
func (r *SQLiteRepository) ListAllAccountsExpanded(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_ids, name FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list all accounts: %w", err)
	}
	defer rows.Close()

	accounts, err := collectAccounts(rows)
	if err != nil {
		return nil, err
	}

	expenseRows, err := r.db.QueryContext(ctx,
		`SELECT id, user_ids, name, amount, is_shared, tag, account_id, is_enabled
		 FROM expenses ORDER BY account_id, id`)
	if err != nil {
		return nil, fmt.Errorf("list all expenses: %w", err)
	}
	defer expenseRows.Close()

	expenses, err := collectExpenses(expenseRows)
	if err != nil {
		return nil, err
	}

	dateRows, err := r.db.QueryContext(ctx,
		`SELECT id, user_ids, expense_id, month FROM payment_dates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list all payment dates: %w", err)
	}
	defer dateRows.Close()

	dates, err := collectPaymentDates(dateRows)
	if err != nil {
		return nil, err
	}
	datesByExpense := make(map[int64][]core.PaymentDate)
	for _, d := range dates {
		datesByExpense[d.ExpenseID] = append(datesByExpense[d.ExpenseID], d)
	}

	byAccount := make(map[int64][]core.Expense)
	for _, e := range expenses {
		e.PaymentDates = datesByExpense[e.ID]
		byAccount[e.AccountID] = append(byAccount[e.AccountID], e)
	}
	for i := range accounts {
		accounts[i].Expenses = byAccount[accounts[i].ID]
	}

	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var a core.Account
	var rawUserIDs string
	if err := row.Scan(&a.ID, &rawUserIDs, &a.Name); err != nil {
		return core.Account{}, err
	}
	userIDs, err := unmarshalUserIDs(rawUserIDs)
	if err != nil {
		return core.Account{}, err
	}
	a.UserIDs = userIDs
	return a, nil
}

func collectAccounts(rows *sql.Rows) ([]core.Account, error) {
	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
