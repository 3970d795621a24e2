// Package store persists extracted leads in SQLite, keyed by stable lead
// key. Insertion is idempotent so replayed rows from later runs are no-ops.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/energum/leadwatch/lead"
)

// Schema creates the leads table. Pass to dbopen.WithSchema at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS leads (
    key        TEXT PRIMARY KEY,
    source     TEXT NOT NULL,
    fetched_at INTEGER NOT NULL,
    url        TEXT NOT NULL,
    row_index  INTEGER NOT NULL,
    row_json   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leads_fetched_at ON leads(fetched_at DESC);
`

// Store reads and writes leads.
type Store struct {
	db *sql.DB
}

// New returns a Store over db. The leads table must exist (see Schema).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveLeads inserts leads, skipping keys already present. Returns the
// number of rows actually inserted.
func (s *Store) SaveLeads(ctx context.Context, leads []lead.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO leads (key, source, fetched_at, url, row_index, row_json)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, l := range leads {
		rowJSON, err := json.Marshal(l.Row)
		if err != nil {
			return 0, fmt.Errorf("store: marshal row %s: %w", l.Key, err)
		}
		res, err := stmt.ExecContext(ctx,
			l.Key, l.Source, l.FetchedAt.Unix(), l.URL, l.RowIndex, string(rowJSON))
		if err != nil {
			return 0, fmt.Errorf("store: insert %s: %w", l.Key, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return inserted, nil
}

// Recent returns the latest leads, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]lead.Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, source, fetched_at, url, row_index, row_json
		 FROM leads ORDER BY fetched_at DESC, key LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var out []lead.Lead
	for rows.Next() {
		var l lead.Lead
		var fetched int64
		var rowJSON string
		if err := rows.Scan(&l.Key, &l.Source, &fetched, &l.URL, &l.RowIndex, &rowJSON); err != nil {
			return nil, fmt.Errorf("store: scan lead: %w", err)
		}
		l.FetchedAt = time.Unix(fetched, 0).UTC()
		if err := json.Unmarshal([]byte(rowJSON), &l.Row); err != nil {
			return nil, fmt.Errorf("store: unmarshal row %s: %w", l.Key, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Count returns the total number of stored leads.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}
