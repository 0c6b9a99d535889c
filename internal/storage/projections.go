package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hushold/internal/core"
)

// ProjectionSnapshot is the persisted result of a projection run for
// one account. The worker refreshes it whenever the account's expenses
// change; views that can tolerate slightly stale numbers read it
// instead of recomputing.
type ProjectionSnapshot struct {
	AccountID       int64
	Balance         float64
	MonthlyTransfer float64
	NextPaymentDate *time.Time
	ComputedAt      time.Time
}

func (r *SQLiteRepository) UpsertProjection(ctx context.Context, p ProjectionSnapshot) error {
	var next sql.NullString
	if p.NextPaymentDate != nil {
		next = sql.NullString{String: p.NextPaymentDate.Format("2006-01-02"), Valid: true}
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO projections (account_id, balance, monthly_transfer, next_payment_date, computed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
		   balance = excluded.balance,
		   monthly_transfer = excluded.monthly_transfer,
		   next_payment_date = excluded.next_payment_date,
		   computed_at = excluded.computed_at`,
		p.AccountID, p.Balance, p.MonthlyTransfer, next, p.ComputedAt,
	); err != nil {
		return fmt.Errorf("upsert projection: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetProjection(ctx context.Context, accountID int64) (ProjectionSnapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT account_id, balance, monthly_transfer, next_payment_date, computed_at
		 FROM projections WHERE account_id = ?`, accountID)

	var p ProjectionSnapshot
	var next sql.NullString
	err := row.Scan(&p.AccountID, &p.Balance, &p.MonthlyTransfer, &next, &p.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectionSnapshot{}, core.ErrNotFound
	}
	if err != nil {
		return ProjectionSnapshot{}, fmt.Errorf("get projection: %w", err)
	}

	if next.Valid {
		d, err := time.Parse("2006-01-02", next.String)
		if err != nil {
			return ProjectionSnapshot{}, fmt.Errorf("parse next payment date: %w", err)
		}
		p.NextPaymentDate = &d
	}
	return p, nil
}
