package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hushold/internal/core"
)

// GetOrCreateSettings returns the user's settings record, creating the
// default one on first access.
func (r *SQLiteRepository) GetOrCreateSettings(ctx context.Context, userID string) (core.Settings, error) {
	s, err := r.getSettings(ctx, userID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Settings{}, err
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (user_id, locale, income) VALUES (?, 'en', 0)`,
		userID,
	); err != nil {
		return core.Settings{}, fmt.Errorf("insert settings: %w", err)
	}

	return r.getSettings(ctx, userID)
}

func (r *SQLiteRepository) UpdateSettings(ctx context.Context, s core.Settings) (core.Settings, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settings SET locale = ?, income = ?, partner_id = ? WHERE id = ?`,
		s.Locale, s.Income, nullString(s.PartnerID), s.ID,
	)
	if err != nil {
		return core.Settings{}, fmt.Errorf("update settings: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.Settings{}, core.ErrNotFound
	}
	return s, nil
}

func (r *SQLiteRepository) getSettings(ctx context.Context, userID string) (core.Settings, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, locale, income, partner_id FROM settings WHERE user_id = ?`,
		userID,
	)

	var s core.Settings
	var partnerID sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.Locale, &s.Income, &partnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Settings{}, core.ErrNotFound
	}
	if err != nil {
		return core.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	s.PartnerID = partnerID.String
	return s, nil
}
