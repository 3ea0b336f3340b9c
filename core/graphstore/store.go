package graphstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrInvalidOperation indicates an operation with an unrecognized kind
	// or missing match keys.
	ErrInvalidOperation = errors.New("invalid upsert operation")

	// ErrDeleteAfterUpsert indicates a batch with a deletion interleaved
	// after upserts. Deletions must lead the batch.
	ErrDeleteAfterUpsert = errors.New("deletion ordered after upsert in batch")
)

// DBConfig configures the store's connection pool.
//
// MaxIdleConns should typically be 40-50% of MaxOpenConns to balance
// connection reuse with resource consumption.
type DBConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Connection pool defaults, suitable for moderate batch workloads.
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 4
	DefaultConnMaxLifetime = time.Hour
	DefaultConnMaxIdleTime = 30 * time.Minute
)

// DefaultDBConfig returns a configuration suitable for batch analysis runs.
func DefaultDBConfig(path string) DBConfig {
	return DBConfig{
		Path:            path,
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
		ConnMaxIdleTime: DefaultConnMaxIdleTime,
	}
}

// Validate checks the configuration values.
func (c DBConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("graph db config: path is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("graph db config: MaxOpenConns must be at least 1, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("graph db config: MaxIdleConns (%d) must be between 0 and MaxOpenConns (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// Store is the sqlite-backed graph store. It applies upsert batches
// transactionally and exposes the read surface the metrics engine scans.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and if necessary initializes) the graph database.
func Open(cfg DBConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init graph schema: %w", err)
	}

	return &Store{db: db, path: cfg.Path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Apply executes an operation batch in a single transaction: all writes
// commit or none do. Deletions must precede every upsert; an interleaved
// deletion aborts the batch before any write happens.
func (s *Store) Apply(ctx context.Context, ops []UpsertOperation) error {
	if err := validateOrdering(ops); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if err := s.applyOp(ctx, tx, op); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func validateOrdering(ops []UpsertOperation) error {
	upsertSeen := false
	for _, op := range ops {
		if !op.Kind.IsValid() {
			return fmt.Errorf("%w: kind %q", ErrInvalidOperation, op.Kind)
		}
		if op.Kind.IsDelete() {
			if upsertSeen {
				return ErrDeleteAfterUpsert
			}
			continue
		}
		upsertSeen = true
	}
	return nil
}

// applyOp is the single boundary where operations are rendered to SQL.
// Every identifier and value binds as a parameter.
func (s *Store) applyOp(ctx context.Context, tx *sql.Tx, op UpsertOperation) error {
	switch op.Kind {
	case OpScopedDelete:
		return s.applyScopedDelete(ctx, tx, op)
	case OpMetricDelete:
		return s.applyMetricDelete(ctx, tx, op)
	case OpNodeUpsert:
		return s.applyNodeUpsert(ctx, tx, op)
	case OpScopeUpsert:
		return s.applyScopeUpsert(ctx, tx, op)
	case OpEdgeUpsert:
		return s.applyEdgeUpsert(ctx, tx, op)
	case OpMetricUpsert:
		return s.applyMetricUpsert(ctx, tx, op)
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidOperation, op.Kind)
	}
}

func (s *Store) applyScopedDelete(ctx context.Context, tx *sql.Tx, op UpsertOperation) error {
	scope, ok := op.Match["scope"]
	if !ok {
		return fmt.Errorf("%w: scoped delete missing scope", ErrInvalidOperation)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE scope_id = ?", scope); err != nil {
		return fmt.Errorf("delete edges for scope %s: %w", scope, err)
	}
	return nil
}

func (s *Store) applyMetricDelete(ctx context.Context, tx *sql.Tx, op UpsertOperation) error {
	scope, metric, date := op.Match["scope"], op.Match["metric"], op.Match["date"]
	if scope == "" || metric == "" || date == "" {
		return fmt.Errorf("%w: metric delete missing keys", ErrInvalidOperation)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM metrics WHERE scope_id = ? AND metric_name = ? AND date = ?
	`, scope, metric, date); err != nil {
		return fmt.Errorf("delete metrics %s@%s: %w", metric, date, err)
	}
	return nil
}

func (s *Store) applyNodeUpsert(ctx context.Context, tx *sql.Tx, op UpsertOperation) error {
	account, ok := op.Match["account"]
	if !ok {
		return fmt.Errorf("%w: node upsert missing account", ErrInvalidOperation)
	}
	name, _ := op.OnCreate["display_name"].(string)
	created := onCreateTime(op)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (account_id, display_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO NOTHING
	`, account, name, created.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", account, err)
	}
	return nil
}

func (s *Store) applyScopeUpsert(ctx context.Context, tx *sql.Tx, op UpsertOperation) error {
	account, okA := op.Match["account"]
	scope, okS := op.Match["scope"]
	if !okA || !okS {
		return fmt.Errorf("%w: scope upsert missing keys", ErrInvalidOperation)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scopes (scope_id, created_at) VALUES (?, ?)
		ON CONFLICT (scope_id) DO NOTHING
	`, scope, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("upsert scope %s: %w", scope, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO node_scopes (account_id, scope_id) VALUES (?, ?)
		ON CONFLICT (account_id, scope_id) DO NOTHING
	`, account, scope); err != nil {
		return fmt.Errorf("bind node %s to scope %s: %w", account, scope, err)
	}
	return nil
}

func (s *Store) applyEdgeUpsert(ctx context.Context, tx *sql.Tx, op UpsertOperation) error {
	source, target := op.Match["source"], op.Match["target"]
	date, scope := op.Match["date"], op.Match["scope"]
	if source == "" || target == "" || date == "" || scope == "" {
		return fmt.Errorf("%w: edge upsert missing keys", ErrInvalidOperation)
	}
	weight, _ := op.Params["weight"].(float64)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO edges (source_id, target_id, date, scope_id, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, target_id, date, scope_id) DO NOTHING
	`, source, target, date, scope, weight, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert edge %s->%s@%s: %w", source, target, date, err)
	}
	return nil
}

func (s *Store) applyMetricUpsert(ctx context.Context, tx *sql.Tx, op UpsertOperation) error {
	scope, metric := op.Match["scope"], op.Match["metric"]
	date := op.Match["date"]
	if scope == "" || metric == "" || date == "" {
		return fmt.Errorf("%w: metric upsert missing keys", ErrInvalidOperation)
	}
	account := op.Match["account"]
	value, _ := op.Params["value"].(float64)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO metrics (scope_id, date, metric_name, account_id, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope_id, date, metric_name, account_id) DO NOTHING
	`, scope, date, metric, account, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert metric %s@%s: %w", metric, date, err)
	}
	return nil
}

func onCreateTime(op UpsertOperation) time.Time {
	if t, ok := op.OnCreate["created_at"].(time.Time); ok {
		return t.UTC()
	}
	return time.Now().UTC()
}

// =============================================================================
// Read surface
// =============================================================================

// EdgesOn returns every edge stored for the scope on the given date.
func (s *Store) EdgesOn(ctx context.Context, scope string, date time.Time) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, weight, date FROM edges
		WHERE scope_id = ? AND date = ?
	`, scope, date.UTC().Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var edges []Edge
	for rows.Next() {
		var e Edge
		var date string
		if err := rows.Scan(&e.Source, &e.Target, &e.Weight, &date); err != nil {
			return nil, fmt.Errorf("scan edge row: %w", err)
		}
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, fmt.Errorf("parse edge date %q: %w", date, err)
		}
		e.Date = d
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// EdgeDates returns the distinct edge dates stored for a scope, ascending.
func (s *Store) EdgeDates(ctx context.Context, scope string) ([]time.Time, error) {
	return s.scanDates(ctx, "SELECT DISTINCT date FROM edges WHERE scope_id = ? ORDER BY date", scope)
}

// MetricDates returns the distinct dates a metric is already persisted for.
func (s *Store) MetricDates(ctx context.Context, scope, metric string) ([]time.Time, error) {
	return s.scanDates(ctx,
		"SELECT DISTINCT date FROM metrics WHERE scope_id = ? AND metric_name = ? ORDER BY date",
		scope, metric)
}

func (s *Store) scanDates(ctx context.Context, query string, args ...any) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", raw, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// MetricsOn returns a metric's persisted values on one date, keyed by
// account id. Scope-level metrics appear under the empty account id.
func (s *Store) MetricsOn(ctx context.Context, scope, metric string, date time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, value FROM metrics
		WHERE scope_id = ? AND metric_name = ? AND date = ?
	`, scope, metric, date.UTC().Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	values := make(map[string]float64)
	for rows.Next() {
		var account string
		var value float64
		if err := rows.Scan(&account, &value); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		values[account] = value
	}
	return values, rows.Err()
}

// CountNodes and CountEdges support store statistics and tests.
func (s *Store) CountNodes(ctx context.Context) (int64, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM nodes")
}

func (s *Store) CountEdges(ctx context.Context) (int64, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM edges")
}

func (s *Store) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
