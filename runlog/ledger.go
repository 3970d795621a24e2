// Package runlog records one row per extraction run and keeps an in-memory
// progress feed for the dashboard.
//
// A run starts pending, accumulates phase updates, and finishes exactly once
// as success or failed. Finish is guarded in SQL so late or duplicate
// completions cannot overwrite a terminal status.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/energum/leadwatch/idgen"
)

// Run statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Connection phases, in order of progression.
const (
	PhaseNavigating     = "navigating"
	PhaseAuthenticating = "authenticating"
	PhaseConnected      = "connected"
)

// Extraction phases.
const (
	PhaseAwaitingRender = "awaiting_render"
	PhaseLocatingTables = "locating_tables"
	PhaseExtractingRows = "extracting_rows"
	PhaseDone           = "done"
)

// ErrNotPending is returned by Finish when the run is missing or already
// completed.
var ErrNotPending = errors.New("runlog: run is not pending")

// Run is one extraction attempt.
type Run struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	ConnectionPhase string    `json:"connection_phase"`
	ExtractionPhase string    `json:"extraction_phase"`
	Status          string    `json:"status"`
	Screenshot      string    `json:"screenshot,omitempty"`
	Details         string    `json:"details,omitempty"`
}

// Ledger persists runs in SQLite.
type Ledger struct {
	db    *sql.DB
	newID idgen.Generator
}

// New returns a Ledger over db. The runs table must exist (see Schema).
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, newID: idgen.Prefixed("run_", idgen.New)}
}

// StartRun inserts a pending run and returns its ID.
func (l *Ledger) StartRun(ctx context.Context) (string, error) {
	id := l.newID()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		id, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("runlog: start run: %w", err)
	}
	return id, nil
}

// SetConnectionPhase records the current connection phase of a pending run.
func (l *Ledger) SetConnectionPhase(ctx context.Context, id, phase string) error {
	return l.update(ctx, id, "connection_phase", phase)
}

// SetExtractionPhase records the current extraction phase of a pending run.
func (l *Ledger) SetExtractionPhase(ctx context.Context, id, phase string) error {
	return l.update(ctx, id, "extraction_phase", phase)
}

// SetScreenshot attaches a screenshot path to the run.
func (l *Ledger) SetScreenshot(ctx context.Context, id, path string) error {
	return l.update(ctx, id, "screenshot", path)
}

func (l *Ledger) update(ctx context.Context, id, column, value string) error {
	// Column names come from the methods above, never from callers.
	q := fmt.Sprintf(`UPDATE runs SET %s = ? WHERE id = ? AND status = ?`, column)
	_, err := l.db.ExecContext(ctx, q, value, id, StatusPending)
	if err != nil {
		return fmt.Errorf("runlog: set %s: %w", column, err)
	}
	return nil
}

// Finish moves a pending run to a terminal status with optional details.
// Returns ErrNotPending if the run was already finished or does not exist.
func (l *Ledger) Finish(ctx context.Context, id, status, details string) error {
	if status != StatusSuccess && status != StatusFailed {
		return fmt.Errorf("runlog: invalid terminal status %q", status)
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, details = ? WHERE id = ? AND status = ?`,
		status, details, id, StatusPending)
	if err != nil {
		return fmt.Errorf("runlog: finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("runlog: finish run: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// Get returns one run by ID.
func (l *Ledger) Get(ctx context.Context, id string) (Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, started_at, connection_phase, extraction_phase, status, screenshot, details
		 FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// Recent returns the latest runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, connection_phase, extraction_phase, status, screenshot, details
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: recent: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var started int64
	err := s.Scan(&r.ID, &started, &r.ConnectionPhase, &r.ExtractionPhase,
		&r.Status, &r.Screenshot, &r.Details)
	if err != nil {
		return Run{}, fmt.Errorf("runlog: scan run: %w", err)
	}
	r.StartedAt = time.Unix(started, 0).UTC()
	return r, nil
}
