package activity

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrMemberNotFound = errors.New("member not found")
)

// nameCacheSize bounds the display-name LRU per store.
const nameCacheSize = 4096

// Source is the read-only query surface over raw activity records.
// Implementations must return records filtered to the given scope.
type Source interface {
	// RecordsBetween returns all records in [start, end). Passing a non-empty
	// accounts or resources slice restricts the result accordingly.
	RecordsBetween(ctx context.Context, scope string, start, end time.Time, accounts, resources []string) ([]Record, error)

	// ActiveAccounts returns the distinct account ids with any activity in
	// [start, end), in deterministic (sorted) order.
	ActiveAccounts(ctx context.Context, scope string, start, end time.Time) ([]string, error)

	// RecentJoins returns up to limit members ordered by most recent join.
	RecentJoins(ctx context.Context, scope string, limit int) ([]Member, error)

	// JoinsBetween returns members whose join date falls in [start, end).
	JoinsBetween(ctx context.Context, scope string, start, end time.Time) ([]Member, error)

	// DisplayName resolves an account id to its display name.
	DisplayName(ctx context.Context, scope, accountID string) (string, error)
}

// Store is the sqlite-backed Source implementation. Display-name lookups
// are cached through an LRU since the orchestrator resolves names for every
// node of every window graph.
type Store struct {
	db    *sql.DB
	path  string
	names *lru.Cache[string, string]
}

// Open opens (and if necessary initializes) the activity database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open activity db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init activity schema: %w", err)
	}

	names, err := lru.New[string, string](nameCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init name cache: %w", err)
	}

	return &Store{db: db, path: path, names: names}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordsBetween(ctx context.Context, scope string, start, end time.Time, accounts, resources []string) ([]Record, error) {
	query := `
		SELECT account_id, ts, kind, direction, engaged, resource_id
		FROM activities WHERE scope_id = ? AND ts >= ? AND ts < ?`
	args := []any{scope, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)}

	query, args = appendInClause(query, args, "account_id", accounts)
	query, args = appendInClause(query, args, "resource_id", resources)
	query += " ORDER BY ts"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func appendInClause(query string, args []any, column string, values []string) (string, []any) {
	if len(values) == 0 {
		return query, args
	}

	placeholders := make([]byte, 0, len(values)*2)
	for i, v := range values {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, v)
	}
	return query + " AND " + column + " IN (" + string(placeholders) + ")", args
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var ts, engaged string
		if err := rows.Scan(&rec.AccountID, &ts, &rec.Kind, &rec.Direction, &engaged, &rec.ResourceID); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parse activity timestamp %q: %w", ts, err)
		}
		rec.Timestamp = parsed
		if err := json.Unmarshal([]byte(engaged), &rec.EngagedAccounts); err != nil {
			rec.EngagedAccounts = nil
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) ActiveAccounts(ctx context.Context, scope string, start, end time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT account_id FROM activities
		WHERE scope_id = ? AND ts >= ? AND ts < ?
		ORDER BY account_id
	`, scope, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		accounts = append(accounts, id)
	}
	return accounts, rows.Err()
}

func (s *Store) RecentJoins(ctx context.Context, scope string, limit int) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, display_name, joined_at FROM members
		WHERE scope_id = ? ORDER BY joined_at DESC LIMIT ?
	`, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent joins: %w", err)
	}
	defer rows.Close()

	return scanMembers(rows)
}

func (s *Store) JoinsBetween(ctx context.Context, scope string, start, end time.Time) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, display_name, joined_at FROM members
		WHERE scope_id = ? AND joined_at >= ? AND joined_at < ?
		ORDER BY joined_at
	`, scope, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query joins: %w", err)
	}
	defer rows.Close()

	return scanMembers(rows)
}

func scanMembers(rows *sql.Rows) ([]Member, error) {
	var members []Member
	for rows.Next() {
		var m Member
		var joined string
		if err := rows.Scan(&m.AccountID, &m.DisplayName, &joined); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, joined)
		if err != nil {
			return nil, fmt.Errorf("parse member joined_at %q: %w", joined, err)
		}
		m.JoinedAt = parsed
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) DisplayName(ctx context.Context, scope, accountID string) (string, error) {
	cacheKey := scope + "/" + accountID
	if name, ok := s.names.Get(cacheKey); ok {
		return name, nil
	}

	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT display_name FROM members WHERE scope_id = ? AND account_id = ?
	`, scope, accountID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrMemberNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query display name: %w", err)
	}

	s.names.Add(cacheKey, name)
	return name, nil
}

// AddMember inserts or replaces a member row. Intended for collectors and tests.
func (s *Store) AddMember(ctx context.Context, scope string, m Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO members (scope_id, account_id, display_name, joined_at)
		VALUES (?, ?, ?, ?)
	`, scope, m.AccountID, m.DisplayName, m.JoinedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert member %s: %w", m.AccountID, err)
	}
	return nil
}

// AddRecord inserts a raw activity record. Intended for collectors and tests.
func (s *Store) AddRecord(ctx context.Context, scope string, rec Record) error {
	engaged, _ := json.Marshal(rec.EngagedAccounts)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (scope_id, account_id, ts, kind, direction, engaged, resource_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, scope, rec.AccountID, rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Kind, rec.Direction, string(engaged), rec.ResourceID)
	if err != nil {
		return fmt.Errorf("insert activity for %s: %w", rec.AccountID, err)
	}
	return nil
}
