// Package storage persists the budgeting domain in SQLite. Records are
// scoped to their owner users: accounts, expenses, and payment dates
// carry a JSON array of user IDs, and list queries filter on membership
// with json_each.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// userIDsMember is the predicate matching rows whose user_ids JSON array
// contains the given user. The table alias is interpolated, never user input.
func userIDsMember(alias string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s.user_ids) WHERE json_each.value = ?)", alias)
}

func marshalUserIDs(userIDs []string) (string, error) {
	if userIDs == nil {
		userIDs = []string{}
	}
	data, err := json.Marshal(userIDs)
	if err != nil {
		return "", fmt.Errorf("marshal user ids: %w", err)
	}
	return string(data), nil
}

func unmarshalUserIDs(raw string) ([]string, error) {
	var userIDs []string
	if err := json.Unmarshal([]byte(raw), &userIDs); err != nil {
		return nil, fmt.Errorf("unmarshal user ids: %w", err)
	}
	return userIDs, nil
}

// isForeignKeyViolation detects SQLite's restricted-delete failure. The
// modernc driver surfaces constraint errors by message.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
