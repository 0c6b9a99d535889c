package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hushold/internal/core"
)

// ExpenseCriteria narrows ListExpenses. Zero values mean "no filter";
// Enabled is a pointer so that filtering on disabled expenses stays
// possible.
type ExpenseCriteria struct {
	AccountID int64
	Enabled   *bool
	Tag       string
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	userIDs, err := marshalUserIDs(e.UserIDs)
	if err != nil {
		return core.Expense{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (user_ids, name, amount, is_shared, tag, account_id, is_enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userIDs, e.Name, e.Amount, e.Shared, nullString(e.Tag), e.AccountID, e.Enabled,
	)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense insert id: %w", err)
	}
	e.ID = id

	slog.InfoContext(ctx, "Expense created",
		"expense_id", e.ID,
		"expense_name", e.Name,
		"amount", e.Amount,
		"account_id", e.AccountID)

	return e, nil
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	userIDs, err := marshalUserIDs(e.UserIDs)
	if err != nil {
		return core.Expense{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses
		 SET user_ids = ?, name = ?, amount = ?, is_shared = ?, tag = ?, account_id = ?, is_enabled = ?
		 WHERE id = ?`,
		userIDs, e.Name, e.Amount, e.Shared, nullString(e.Tag), e.AccountID, e.Enabled, e.ID,
	)
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.Expense{}, core.ErrNotFound
	}

	return e, nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}

	slog.InfoContext(ctx, "Expense deleted", "expense_id", id)
	return nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_ids, name, amount, is_shared, tag, account_id, is_enabled
		 FROM expenses WHERE id = ?`, id)

	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID string, criteria *ExpenseCriteria) ([]core.Expense, error) {
	query := `SELECT id, user_ids, name, amount, is_shared, tag, account_id, is_enabled
	          FROM expenses WHERE ` + userIDsMember("expenses")
	args := []any{userID}

	if criteria != nil {
		if criteria.AccountID != 0 {
			query += ` AND account_id = ?`
			args = append(args, criteria.AccountID)
		}
		if criteria.Enabled != nil {
			query += ` AND is_enabled = ?`
			args = append(args, *criteria.Enabled)
		}
		if criteria.Tag != "" {
			query += ` AND tag = ?`
			args = append(args, criteria.Tag)
		}
	}
	query += ` ORDER BY tag, name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	return collectExpenses(rows)
}

func (r *SQLiteRepository) SearchExpenses(ctx context.Context, userID, q string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_ids, name, amount, is_shared, tag, account_id, is_enabled
		 FROM expenses
		 WHERE `+userIDsMember("expenses")+` AND LOWER(name) LIKE ?`,
		userID, "%"+strings.ToLower(q)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("search expenses: %w", err)
	}
	defer rows.Close()

	return collectExpenses(rows)
}

// ListTags returns the distinct tags in use by the user's expenses,
// untagged expenses excluded.
func (r *SQLiteRepository) ListTags(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tag FROM expenses
		 WHERE `+userIDsMember("expenses")+` AND tag IS NOT NULL
		 GROUP BY tag ORDER BY tag`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	return collectTags(rows)
}

func (r *SQLiteRepository) SearchTags(ctx context.Context, userID, q string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tag FROM expenses
		 WHERE `+userIDsMember("expenses")+` AND tag IS NOT NULL AND LOWER(tag) LIKE ?
		 GROUP BY tag`,
		userID, "%"+strings.ToLower(q)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("search tags: %w", err)
	}
	defer rows.Close()

	return collectTags(rows)
}

// AttachPaymentDates loads the payment dates of the given expenses in
// one query and attaches them in place.
func (r *SQLiteRepository) AttachPaymentDates(ctx context.Context, userID string, expenses []core.Expense) ([]core.Expense, error) {
	if len(expenses) == 0 {
		return expenses, nil
	}

	ids := make([]int64, len(expenses))
	for i, e := range expenses {
		ids[i] = e.ID
	}

	dates, err := r.ListPaymentDates(ctx, userID, &PaymentDateCriteria{ExpenseIDs: ids})
	if err != nil {
		return nil, err
	}

	byExpense := make(map[int64][]core.PaymentDate)
	for _, d := range dates {
		byExpense[d.ExpenseID] = append(byExpense[d.ExpenseID], d)
	}
	for i := range expenses {
		expenses[i].PaymentDates = byExpense[expenses[i].ID]
	}

	return expenses, nil
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var e core.Expense
	var rawUserIDs string
	var tag sql.NullString
	if err := row.Scan(&e.ID, &rawUserIDs, &e.Name, &e.Amount, &e.Shared, &tag, &e.AccountID, &e.Enabled); err != nil {
		return core.Expense{}, err
	}
	userIDs, err := unmarshalUserIDs(rawUserIDs)
	if err != nil {
		return core.Expense{}, err
	}
	e.UserIDs = userIDs
	e.Tag = tag.String
	return e, nil
}

func collectExpenses(rows *sql.Rows) ([]core.Expense, error) {
	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func collectTags(rows *sql.Rows) ([]string, error) {
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// PaymentDateCriteria narrows ListPaymentDates.
type PaymentDateCriteria struct {
	ExpenseID  int64
	ExpenseIDs []int64
}

func (r *SQLiteRepository) CreatePaymentDate(ctx context.Context, d core.PaymentDate) (core.PaymentDate, error) {
	userIDs, err := marshalUserIDs(d.UserIDs)
	if err != nil {
		return core.PaymentDate{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_dates (user_ids, expense_id, month) VALUES (?, ?, ?)`,
		userIDs, d.ExpenseID, int(d.Month),
	)
	if err != nil {
		return core.PaymentDate{}, fmt.Errorf("insert payment date: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.PaymentDate{}, fmt.Errorf("payment date insert id: %w", err)
	}
	d.ID = id
	return d, nil
}

func (r *SQLiteRepository) ListPaymentDates(ctx context.Context, userID string, criteria *PaymentDateCriteria) ([]core.PaymentDate, error) {
	query := `SELECT id, user_ids, expense_id, month FROM payment_dates
	          WHERE ` + userIDsMember("payment_dates")
	args := []any{userID}

	if criteria != nil {
		if criteria.ExpenseID != 0 {
			query += ` AND expense_id = ?`
			args = append(args, criteria.ExpenseID)
		}
		if len(criteria.ExpenseIDs) > 0 {
			placeholders := strings.Repeat("?,", len(criteria.ExpenseIDs))
			query += ` AND expense_id IN (` + placeholders[:len(placeholders)-1] + `)`
			for _, id := range criteria.ExpenseIDs {
				args = append(args, id)
			}
		}
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payment dates: %w", err)
	}
	defer rows.Close()

	return collectPaymentDates(rows)
}

func collectPaymentDates(rows *sql.Rows) ([]core.PaymentDate, error) {
	var dates []core.PaymentDate
	for rows.Next() {
		var d core.PaymentDate
		var rawUserIDs string
		var month int
		if err := rows.Scan(&d.ID, &rawUserIDs, &d.ExpenseID, &month); err != nil {
			return nil, fmt.Errorf("scan payment date: %w", err)
		}
		userIDs, err := unmarshalUserIDs(rawUserIDs)
		if err != nil {
			return nil, err
		}
		d.UserIDs = userIDs
		d.Month = time.Month(month)
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// DeletePaymentDatesFor removes all payment dates of an expense. Saving
// an expense replaces its dates wholesale, there is no partial editing.
func (r *SQLiteRepository) DeletePaymentDatesFor(ctx context.Context, expenseID int64) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM payment_dates WHERE expense_id = ?`, expenseID); err != nil {
		return fmt.Errorf("delete payment dates: %w", err)
	}
	return nil
}
