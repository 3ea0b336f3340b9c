package metrics

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/cohort/core/graphstore"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeEdgeSource serves edges from memory for engine tests.
type fakeEdgeSource struct {
	edges     map[time.Time][]graphstore.Edge
	persisted map[string][]time.Time
	failOn    map[time.Time]bool
}

func (f *fakeEdgeSource) EdgesOn(_ context.Context, _ string, date time.Time) ([]graphstore.Edge, error) {
	if f.failOn[date] {
		return nil, errors.New("boom")
	}
	return f.edges[date], nil
}

func (f *fakeEdgeSource) EdgeDates(_ context.Context, _ string) ([]time.Time, error) {
	var dates []time.Time
	for d := range f.edges {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func (f *fakeEdgeSource) MetricDates(_ context.Context, _ string, metric string) ([]time.Time, error) {
	return f.persisted[metric], nil
}

func edge(source, target string, weight float64, date time.Time) graphstore.Edge {
	return graphstore.Edge{Source: source, Target: target, Weight: weight, Date: date}
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, Options{Direction: DirectionIn}.Validate())
	assert.NoError(t, Options{Direction: DirectionOut, Weighted: true, PreserveParallel: true}.Validate())

	err := Options{Direction: DirectionOut, Weighted: true}.Validate()
	assert.ErrorIs(t, err, ErrInvalidMetricConfig)

	err = Options{Direction: "sideways"}.Validate()
	assert.ErrorIs(t, err, ErrInvalidMetricConfig)
}

func TestOptionsMetricName(t *testing.T) {
	assert.Equal(t, "degree_centrality:in", Options{Direction: DirectionIn}.MetricName())
	assert.Equal(t, "degree_centrality:out:weighted:parallel:normalized",
		Options{Direction: DirectionOut, Weighted: true, PreserveParallel: true, Normalize: true}.MetricName())
}

func TestDegreesFromEdgesDirections(t *testing.T) {
	date := day(2025, 1, 10)
	edges := []graphstore.Edge{
		edge("A", "B", 2, date),
		edge("B", "A", 3, date),
		edge("A", "C", 1, date),
	}

	t.Run("out", func(t *testing.T) {
		records := DegreesFromEdges(edges, date, Options{Direction: DirectionOut, PreserveParallel: true})
		byAccount := indexRecords(records)
		assert.Equal(t, 2.0, byAccount["A"].RawDegree)
		assert.Equal(t, 3.0, byAccount["A"].WeightedDegree)
		assert.Equal(t, 1.0, byAccount["B"].RawDegree)
		assert.NotContains(t, byAccount, "C")
	})

	t.Run("in", func(t *testing.T) {
		records := DegreesFromEdges(edges, date, Options{Direction: DirectionIn, PreserveParallel: true})
		byAccount := indexRecords(records)
		assert.Equal(t, 1.0, byAccount["A"].RawDegree)
		assert.Equal(t, 3.0, byAccount["A"].WeightedDegree)
		assert.Equal(t, 1.0, byAccount["C"].RawDegree)
	})

	t.Run("undirected", func(t *testing.T) {
		records := DegreesFromEdges(edges, date, Options{Direction: DirectionUndirected, PreserveParallel: true})
		byAccount := indexRecords(records)
		assert.Equal(t, 3.0, byAccount["A"].RawDegree)
		assert.Equal(t, 2.0, byAccount["B"].RawDegree)
		assert.Equal(t, 1.0, byAccount["C"].RawDegree)
	})
}

// Opposite-direction edges between the same pair on one date are parallel
// edges of the undirected pair. Collapsed, each endpoint counts the pair
// once; preserved, the weighted undirected degree sums both weights.
func TestDegreesParallelEdgeConsistency(t *testing.T) {
	date := day(2025, 1, 10)
	edges := []graphstore.Edge{
		edge("A", "B", 2, date),
		edge("B", "A", 3, date),
	}

	collapsed := DegreesFromEdges(edges, date, Options{Direction: DirectionUndirected})
	byAccount := indexRecords(collapsed)
	assert.Equal(t, 1.0, byAccount["A"].RawDegree)
	assert.Equal(t, 1.0, byAccount["B"].RawDegree)

	preserved := DegreesFromEdges(edges, date, Options{
		Direction: DirectionUndirected, Weighted: true, PreserveParallel: true,
	})
	byAccount = indexRecords(preserved)
	assert.Equal(t, 5.0, byAccount["A"].WeightedDegree)
	assert.Equal(t, 5.0, byAccount["B"].WeightedDegree)
}

func TestDegreesNormalizeByDateMax(t *testing.T) {
	date := day(2025, 1, 10)
	edges := []graphstore.Edge{
		edge("A", "B", 1, date),
		edge("A", "C", 1, date),
		edge("B", "C", 1, date),
	}

	records := DegreesFromEdges(edges, date, Options{
		Direction: DirectionOut, Normalize: true, PreserveParallel: true,
	})
	byAccount := indexRecords(records)
	assert.Equal(t, 1.0, byAccount["A"].NormalizedDegree)
	assert.Equal(t, 0.5, byAccount["B"].NormalizedDegree)
}

func TestDegreeCentralitySkipsPersistedDates(t *testing.T) {
	d1, d2 := day(2025, 1, 10), day(2025, 1, 11)
	opts := Options{Direction: DirectionOut, PreserveParallel: true}
	source := &fakeEdgeSource{
		edges: map[time.Time][]graphstore.Edge{
			d1: {edge("A", "B", 1, d1)},
			d2: {edge("A", "B", 1, d2)},
		},
		persisted: map[string][]time.Time{opts.MetricName(): {d1}},
	}
	engine := NewEngine(source, nil)

	records, err := engine.DegreeCentrality(context.Background(), "team-a", opts, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, d2, records[0].Date)

	// A recompute override brings the persisted date back in.
	records, err = engine.DegreeCentrality(context.Background(), "team-a", opts, []time.Time{d1})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestDegreeCentralityIsolatesDateFailures(t *testing.T) {
	d1, d2 := day(2025, 1, 10), day(2025, 1, 11)
	source := &fakeEdgeSource{
		edges: map[time.Time][]graphstore.Edge{
			d1: {edge("A", "B", 1, d1)},
			d2: {edge("A", "B", 1, d2)},
		},
		failOn: map[time.Time]bool{d1: true},
	}
	engine := NewEngine(source, nil)

	records, err := engine.DegreeCentrality(context.Background(), "team-a",
		Options{Direction: DirectionOut, PreserveParallel: true}, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, d2, records[0].Date)
}

func TestDegreeCentralityRejectsInvalidOptions(t *testing.T) {
	engine := NewEngine(&fakeEdgeSource{}, nil)
	_, err := engine.DegreeCentrality(context.Background(), "team-a",
		Options{Direction: DirectionOut, Weighted: true}, nil)
	assert.ErrorIs(t, err, ErrInvalidMetricConfig)
}

func TestPersistDegreesRecomputeReplacesStale(t *testing.T) {
	store := openMetricStore(t)
	ctx := context.Background()
	date := day(2025, 1, 10)
	opts := Options{Direction: DirectionOut, PreserveParallel: true}
	engine := NewEngine(store, nil)

	stale := []DegreeRecord{{Date: date, AccountID: "A", RawDegree: 1}}
	require.NoError(t, engine.PersistDegrees(ctx, store, "team-a", opts, stale, nil))

	// Without the override the idempotent upsert keeps the stored value;
	// with it the recomputed value lands.
	fresh := []DegreeRecord{{Date: date, AccountID: "A", RawDegree: 4}}
	require.NoError(t, engine.PersistDegrees(ctx, store, "team-a", opts, fresh, nil))
	values, err := store.MetricsOn(ctx, "team-a", opts.MetricName(), date)
	require.NoError(t, err)
	assert.Equal(t, 1.0, values["A"])

	require.NoError(t, engine.PersistDegrees(ctx, store, "team-a", opts, fresh, []time.Time{date}))
	values, err = store.MetricsOn(ctx, "team-a", opts.MetricName(), date)
	require.NoError(t, err)
	assert.Equal(t, 4.0, values["A"])
}

func openMetricStore(t *testing.T) *graphstore.Store {
	t.Helper()
	store, err := graphstore.Open(graphstore.DefaultDBConfig(filepath.Join(t.TempDir(), "graph.db")))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func indexRecords(records []DegreeRecord) map[string]DegreeRecord {
	byAccount := make(map[string]DegreeRecord, len(records))
	for _, rec := range records {
		byAccount[rec.AccountID] = rec
	}
	return byAccount
}
