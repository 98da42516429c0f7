// Package sqlite stores usage counters in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/parley/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS usages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date INTEGER NOT NULL,
	counter TEXT NOT NULL,
	key TEXT NOT NULL,
	sub_key TEXT NOT NULL DEFAULT '',
	count INTEGER NOT NULL,
	user_group TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_usages_counter_date ON usages(counter, date);
`

// UsageStore is a types.UsageStore on database/sql. Dates are stored as unix
// milliseconds.
type UsageStore struct {
	db *sql.DB
}

var _ types.UsageStore = (*UsageStore)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*UsageStore, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing usage db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, fmt.Errorf("create usage db dir: %w", err)
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &UsageStore{db: db}, nil
}

// New wraps an existing handle. The schema must already exist.
func New(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

// Close closes the database.
func (s *UsageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Track records one usage event.
func (s *UsageStore) Track(ctx context.Context, event *types.UsageEvent) error {
	if event == nil {
		return nil
	}
	date := event.Date
	if date.IsZero() {
		date = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usages (date, counter, key, sub_key, count, user_group, user_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		date.UnixMilli(), event.Counter, event.Key, event.SubKey, event.Count, event.UserGroup, event.UserID,
	)
	if err != nil {
		return fmt.Errorf("track usage: %w", err)
	}
	return nil
}

// Sum adds up the counts matching filter.
func (s *UsageStore) Sum(ctx context.Context, filter types.UsageFilter) (int64, error) {
	where, args := whereClause(filter)
	var total int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(count), 0) FROM usages"+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

// Totals groups the counts matching filter by key and sub key.
func (s *UsageStore) Totals(ctx context.Context, filter types.UsageFilter) ([]types.UsageTotal, error) {
	where, args := whereClause(filter)
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, sub_key, COALESCE(SUM(count), 0) FROM usages"+where+" GROUP BY key, sub_key ORDER BY key, sub_key",
		args...)
	if err != nil {
		return nil, fmt.Errorf("query usage totals: %w", err)
	}
	defer rows.Close()

	var totals []types.UsageTotal
	for rows.Next() {
		var t types.UsageTotal
		if err := rows.Scan(&t.Key, &t.SubKey, &t.Count); err != nil {
			return nil, fmt.Errorf("scan usage total: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage totals: %w", err)
	}
	return totals, nil
}

// whereClause renders the non-empty filter fields. To is exclusive.
func whereClause(filter types.UsageFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Counter != "" {
		conds = append(conds, "counter = ?")
		args = append(args, filter.Counter)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "date >= ?")
		args = append(args, filter.From.UnixMilli())
	}
	if !filter.To.IsZero() {
		conds = append(conds, "date < ?")
		args = append(args, filter.To.UnixMilli())
	}
	if filter.UserGroup != "" {
		conds = append(conds, "user_group = ?")
		args = append(args, filter.UserGroup)
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
