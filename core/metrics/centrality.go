// Package metrics derives graph-theoretic measures from persisted
// interaction graphs: degree centrality, a decentralization score and
// sender/receiver role classification. Metrics are independent per date, so
// a single date's failure degrades gracefully instead of failing the run.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/adalundhe/cohort/core/graphstore"
)

var (
	// ErrInvalidMetricConfig indicates an unusable centrality configuration,
	// e.g. summing weights while collapsing parallel edges.
	ErrInvalidMetricConfig = errors.New("invalid metric config")
)

// Direction selects which stored edges a degree scan considers.
type Direction string

const (
	// DirectionIn counts edges arriving at the account.
	DirectionIn Direction = "in"

	// DirectionOut counts edges leaving the account.
	DirectionOut Direction = "out"

	// DirectionUndirected counts both endpoints of every edge.
	DirectionUndirected Direction = "undirected"
)

// IsValid returns true if the direction is a recognized value.
func (d Direction) IsValid() bool {
	switch d {
	case DirectionIn, DirectionOut, DirectionUndirected:
		return true
	default:
		return false
	}
}

// String returns the string representation of the direction.
func (d Direction) String() string {
	return string(d)
}

// Options configure one degree-centrality computation. Each distinct
// configuration persists under its own metric name, so multiple
// configurations coexist per date.
type Options struct {
	Direction Direction

	// Weighted sums edge weights instead of counting edges.
	Weighted bool

	// Normalize divides every score on a date by that date's maximum.
	Normalize bool

	// PreserveParallel keeps multiple edges between the same unordered pair
	// as separate contributions. Collapsing parallel edges while also
	// summing weights double-undercounts; that combination is rejected.
	PreserveParallel bool
}

// Validate checks the option combination.
func (o Options) Validate() error {
	if !o.Direction.IsValid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidMetricConfig, o.Direction)
	}
	if o.Weighted && !o.PreserveParallel {
		return fmt.Errorf("%w: weighted degree cannot collapse parallel edges", ErrInvalidMetricConfig)
	}
	return nil
}

// MetricName is the persistence key for this configuration.
func (o Options) MetricName() string {
	name := "degree_centrality:" + string(o.Direction)
	if o.Weighted {
		name += ":weighted"
	}
	if o.PreserveParallel {
		name += ":parallel"
	}
	if o.Normalize {
		name += ":normalized"
	}
	return name
}

// DegreeRecord is one account's degree on one date under one configuration.
type DegreeRecord struct {
	Date             time.Time `json:"date"`
	AccountID        string    `json:"account_id"`
	RawDegree        float64   `json:"raw_degree"`
	WeightedDegree   float64   `json:"weighted_degree"`
	NormalizedDegree float64   `json:"normalized_degree"`
}

// Score returns the value this configuration ranks accounts by.
func (r DegreeRecord) Score(o Options) float64 {
	if o.Normalize {
		return r.NormalizedDegree
	}
	if o.Weighted {
		return r.WeightedDegree
	}
	return r.RawDegree
}

// EdgeSource is the graph-store read surface the engine scans.
type EdgeSource interface {
	EdgesOn(ctx context.Context, scope string, date time.Time) ([]graphstore.Edge, error)
	EdgeDates(ctx context.Context, scope string) ([]time.Time, error)
	MetricDates(ctx context.Context, scope, metric string) ([]time.Time, error)
}

// Engine computes degree-based metrics from persisted graph edges.
type Engine struct {
	store  EdgeSource
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil logger uses slog.Default().
func NewEngine(store EdgeSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// DegreeCentrality computes per-account degree records for every stored
// edge date not yet persisted under this configuration, unioned with the
// recompute override set. A single date's failure is logged and skipped;
// the remaining dates still compute.
func (e *Engine) DegreeCentrality(ctx context.Context, scope string, opts Options, recompute []time.Time) ([]DegreeRecord, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	dates, err := e.datesToCompute(ctx, scope, opts, recompute)
	if err != nil {
		return nil, err
	}

	var records []DegreeRecord
	for _, date := range dates {
		dateRecords, err := e.degreesOn(ctx, scope, date, opts)
		if err != nil {
			e.logger.Warn("degree computation failed for date, skipping",
				"scope", scope,
				"date", date.Format(time.DateOnly),
				"error", err,
			)
			continue
		}
		records = append(records, dateRecords...)
	}
	return records, nil
}

// datesToCompute is the stored edge dates minus the dates already persisted
// for this metric, with the recompute overrides unioned back in.
func (e *Engine) datesToCompute(ctx context.Context, scope string, opts Options, recompute []time.Time) ([]time.Time, error) {
	all, err := e.store.EdgeDates(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list edge dates: %w", err)
	}
	persisted, err := e.store.MetricDates(ctx, scope, opts.MetricName())
	if err != nil {
		return nil, fmt.Errorf("list persisted metric dates: %w", err)
	}

	skip := make(map[time.Time]bool, len(persisted))
	for _, d := range persisted {
		skip[d] = true
	}
	for _, d := range recompute {
		skip[dateOnly(d)] = false
	}

	var dates []time.Time
	for _, d := range all {
		if !skip[d] {
			dates = append(dates, d)
		}
	}
	return dates, nil
}

func (e *Engine) degreesOn(ctx context.Context, scope string, date time.Time, opts Options) ([]DegreeRecord, error) {
	edges, err := e.store.EdgesOn(ctx, scope, date)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}
	return DegreesFromEdges(edges, date, opts), nil
}

// DegreesFromEdges computes the degree distribution of one date's edges.
// Exposed for callers that already hold the edges, and for tests.
func DegreesFromEdges(edges []graphstore.Edge, date time.Time, opts Options) []DegreeRecord {
	type tally struct {
		raw      float64
		weighted float64
	}
	byAccount := make(map[string]*tally)
	bump := func(account string, weight float64) {
		t := byAccount[account]
		if t == nil {
			t = &tally{}
			byAccount[account] = t
		}
		t.raw++
		t.weighted += weight
	}

	seenPairs := make(map[[2]string]bool)
	for _, edge := range edges {
		if !opts.PreserveParallel {
			key := pairKey(edge.Source, edge.Target)
			if seenPairs[key] {
				continue
			}
			seenPairs[key] = true
		}

		switch opts.Direction {
		case DirectionIn:
			bump(edge.Target, edge.Weight)
		case DirectionOut:
			bump(edge.Source, edge.Weight)
		case DirectionUndirected:
			bump(edge.Source, edge.Weight)
			bump(edge.Target, edge.Weight)
		}
	}

	accounts := make([]string, 0, len(byAccount))
	maxScore := 0.0
	for account, t := range byAccount {
		accounts = append(accounts, account)
		score := t.raw
		if opts.Weighted {
			score = t.weighted
		}
		if score > maxScore {
			maxScore = score
		}
	}
	sort.Strings(accounts)

	records := make([]DegreeRecord, 0, len(accounts))
	for _, account := range accounts {
		t := byAccount[account]
		rec := DegreeRecord{
			Date:           date,
			AccountID:      account,
			RawDegree:      t.raw,
			WeightedDegree: t.weighted,
		}
		score := t.raw
		if opts.Weighted {
			score = t.weighted
		}
		if maxScore > 0 {
			rec.NormalizedDegree = score / maxScore
		}
		records = append(records, rec)
	}
	return records
}

// pairKey identifies the unordered account pair of an edge, independent of
// direction.
func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PersistDegrees writes degree records through the graph store's idempotent
// metric upserts, one batch per call. Recompute dates are cleared at the
// head of the same transaction; without the deletion the conflict-ignoring
// upserts would keep the stale stored values.
func (e *Engine) PersistDegrees(ctx context.Context, store *graphstore.Store, scope string, opts Options, records []DegreeRecord, recompute []time.Time) error {
	codec := graphstore.Codec{}
	ops := make([]graphstore.UpsertOperation, 0, len(recompute)+len(records))
	for _, date := range recompute {
		ops = append(ops, codec.EncodeMetricDelete(scope, opts.MetricName(), date))
	}
	for _, rec := range records {
		ops = append(ops, codec.EncodeMetric(scope, opts.MetricName(), rec.Date, rec.AccountID, rec.Score(opts)))
	}
	return store.Apply(ctx, ops)
}
