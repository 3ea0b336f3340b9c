package engagement

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed history_schema.sql
var historySchemaSQL string

// RawAggregate is one heatmap-style raw activity total for a snapshot date.
type RawAggregate struct {
	Date      time.Time `json:"date"`
	AccountID string    `json:"account_id"`
	Kind      string    `json:"kind"`
	Count     float64   `json:"count"`
}

// HistoryStore persists engagement snapshots and raw aggregates, and is the
// source of truth the planner resumes from. Snapshot and heatmap writes for
// one run commit in a single transaction: all or none.
type HistoryStore struct {
	db   *sql.DB
	path string
}

// OpenHistory opens (and if necessary initializes) the history database.
func OpenHistory(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(historySchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &HistoryStore{db: db, path: path}, nil
}

// Close closes the underlying database.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// SnapshotDates returns the persisted snapshot dates for a scope, ascending.
func (h *HistoryStore) SnapshotDates(ctx context.Context, scope string) ([]time.Time, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT date FROM snapshots WHERE scope_id = ? ORDER BY date", scope)
	if err != nil {
		return nil, fmt.Errorf("query snapshot dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan snapshot date: %w", err)
		}
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot date %q: %w", raw, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// LoadSnapshots returns every persisted snapshot for a scope in window order.
func (h *HistoryStore) LoadSnapshots(ctx context.Context, scope string) ([]Snapshot, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT payload FROM snapshots WHERE scope_id = ? ORDER BY window_index", scope)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// SaveRun persists a run's snapshots and raw aggregates transactionally.
// A failure leaves the history exactly as before, so the planner's resume
// bookkeeping never advances past an uncommitted window.
func (h *HistoryStore) SaveRun(ctx context.Context, scope, runID string, snapshots []Snapshot, aggregates []RawAggregate) error {
	for _, snap := range snapshots {
		if err := snap.Validate(); err != nil {
			return err
		}
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	if err := h.insertSnapshots(ctx, tx, scope, runID, snapshots); err != nil {
		return err
	}
	if err := h.insertAggregates(ctx, tx, scope, aggregates); err != nil {
		return err
	}
	return tx.Commit()
}

func (h *HistoryStore) insertSnapshots(ctx context.Context, tx *sql.Tx, scope, runID string, snapshots []Snapshot) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshots (scope_id, date, window_index, run_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare snapshot stmt: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, snap := range snapshots {
		payload, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot %d: %w", snap.WindowIndex, err)
		}
		if _, err := stmt.ExecContext(ctx, scope, snap.Date.UTC().Format(time.DateOnly),
			snap.WindowIndex, runID, string(payload), now); err != nil {
			return fmt.Errorf("insert snapshot %d: %w", snap.WindowIndex, err)
		}
	}
	return nil
}

func (h *HistoryStore) insertAggregates(ctx context.Context, tx *sql.Tx, scope string, aggregates []RawAggregate) error {
	if len(aggregates) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO heatmap (scope_id, date, account_id, kind, count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (scope_id, date, account_id, kind) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare heatmap stmt: %w", err)
	}
	defer stmt.Close()

	for _, agg := range aggregates {
		if _, err := stmt.ExecContext(ctx, scope, agg.Date.UTC().Format(time.DateOnly),
			agg.AccountID, agg.Kind, agg.Count); err != nil {
			return fmt.Errorf("insert aggregate for %s: %w", agg.AccountID, err)
		}
	}
	return nil
}

// Clear removes a scope's entire history. Used only for explicit
// recompute-from-start requests.
func (h *HistoryStore) Clear(ctx context.Context, scope string) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE scope_id = ?", scope); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM heatmap WHERE scope_id = ?", scope); err != nil {
		return fmt.Errorf("clear heatmap: %w", err)
	}
	return tx.Commit()
}
