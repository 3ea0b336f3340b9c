package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/cohort/core/activity"
	"github.com/adalundhe/cohort/core/engagement"
	"github.com/adalundhe/cohort/core/graphstore"
	"github.com/adalundhe/cohort/core/matrix"
	"github.com/adalundhe/cohort/core/window"
)

type fixture struct {
	activities *activity.Store
	history    *engagement.HistoryStore
	graphs     *graphstore.Store
	runner     *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	activities, err := activity.Open(filepath.Join(dir, "activity.db"))
	require.NoError(t, err)
	history, err := engagement.OpenHistory(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	graphs, err := graphstore.Open(graphstore.DefaultDBConfig(filepath.Join(dir, "graph.db")))
	require.NoError(t, err)
	t.Cleanup(func() {
		activities.Close()
		history.Close()
		graphs.Close()
	})

	orch, err := engagement.NewOrchestrator(engagement.OrchestratorConfig{
		Source:     activities,
		Classifier: engagement.NewThresholdClassifier(),
		Builder:    matrix.NewBuilder(2, nil),
	})
	require.NoError(t, err)

	return &fixture{
		activities: activities,
		history:    history,
		graphs:     graphs,
		runner:     NewRunner(history, graphs, orch, nil),
	}
}

func (f *fixture) seed(t *testing.T, ctx context.Context) {
	t.Helper()
	members := []activity.Member{
		{AccountID: "A", DisplayName: "Ada", JoinedAt: date(2025, 1, 1)},
		{AccountID: "B", DisplayName: "Ben", JoinedAt: date(2025, 1, 1)},
		{AccountID: "C", DisplayName: "Cam", JoinedAt: date(2025, 1, 5)},
	}
	for _, m := range members {
		require.NoError(t, f.activities.AddMember(ctx, "team-a", m))
	}

	// A and B exchange replies every day; C chimes in once.
	for d := 1; d <= 14; d++ {
		ts := time.Date(2025, 1, d, 12, 0, 0, 0, time.UTC)
		require.NoError(t, f.activities.AddRecord(ctx, "team-a", activity.Record{
			AccountID:       "A",
			Timestamp:       ts,
			Kind:            activity.KindReply,
			Direction:       activity.DirectionEmitter,
			EngagedAccounts: []string{"B"},
		}))
		require.NoError(t, f.activities.AddRecord(ctx, "team-a", activity.Record{
			AccountID:       "B",
			Timestamp:       ts.Add(time.Hour),
			Kind:            activity.KindReply,
			Direction:       activity.DirectionEmitter,
			EngagedAccounts: []string{"A"},
		}))
	}
	require.NoError(t, f.activities.AddRecord(ctx, "team-a", activity.Record{
		AccountID:       "C",
		Timestamp:       time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
		Kind:            activity.KindReply,
		Direction:       activity.DirectionEmitter,
		EngagedAccounts: []string{"A"},
	}))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func request(end time.Time) RunRequest {
	return RunRequest{
		Scope:      "team-a",
		Range:      window.NewRange(date(2025, 1, 1), end),
		Window:     window.Config{PeriodDays: 7, StepDays: 1, AnalysisStart: date(2025, 1, 1)},
		Thresholds: engagement.DefaultThresholds(),
	}
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, ctx)

	report, err := f.runner.Run(ctx, request(date(2025, 1, 15)))
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Resumed)
	assert.Equal(t, 8, report.Windows)

	dates, err := f.history.SnapshotDates(ctx, "team-a")
	require.NoError(t, err)
	require.Len(t, dates, 8)
	assert.Equal(t, date(2025, 1, 7), dates[0])
	assert.Equal(t, date(2025, 1, 14), dates[7])

	snapshots, err := f.history.LoadSnapshots(ctx, "team-a")
	require.NoError(t, err)
	assert.True(t, snapshots[0].Active.Contains("A"))
	assert.True(t, snapshots[0].Active.Contains("B"))

	edges, err := f.graphs.EdgesOn(ctx, "team-a", date(2025, 1, 7))
	require.NoError(t, err)
	assert.NotEmpty(t, edges)
}

func TestRunIsUpToDateSecondTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, ctx)

	_, err := f.runner.Run(ctx, request(date(2025, 1, 15)))
	require.NoError(t, err)

	report, err := f.runner.Run(ctx, request(date(2025, 1, 15)))
	require.NoError(t, err)
	assert.True(t, report.UpToDate)
	assert.Zero(t, report.Windows)
}

// An interrupted run resumed later must land on the same snapshot dates as a
// single uninterrupted run, with no duplicated graph rows.
func TestRunResumeMatchesFullRun(t *testing.T) {
	ctx := context.Background()

	full := newFixture(t)
	full.seed(t, ctx)
	_, err := full.runner.Run(ctx, request(date(2025, 1, 15)))
	require.NoError(t, err)
	fullDates, err := full.history.SnapshotDates(ctx, "team-a")
	require.NoError(t, err)

	split := newFixture(t)
	split.seed(t, ctx)
	first, err := split.runner.Run(ctx, request(date(2025, 1, 10)))
	require.NoError(t, err)
	assert.False(t, first.Resumed)

	second, err := split.runner.Run(ctx, request(date(2025, 1, 15)))
	require.NoError(t, err)
	assert.True(t, second.Resumed)

	splitDates, err := split.history.SnapshotDates(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, fullDates, splitDates)

	fullEdges, err := full.graphs.CountEdges(ctx)
	require.NoError(t, err)
	splitEdges, err := split.graphs.CountEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, fullEdges, splitEdges)

	fullSnaps, err := full.history.LoadSnapshots(ctx, "team-a")
	require.NoError(t, err)
	splitSnaps, err := split.history.LoadSnapshots(ctx, "team-a")
	require.NoError(t, err)
	require.Equal(t, len(fullSnaps), len(splitSnaps))
	for i := range fullSnaps {
		assert.Equal(t, fullSnaps[i].Active, splitSnaps[i].Active, "window %d", i)
		assert.Equal(t, fullSnaps[i].NewActive, splitSnaps[i].NewActive, "window %d", i)
	}
}

func TestRunRecomputeClearsAndRebuilds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, ctx)

	_, err := f.runner.Run(ctx, request(date(2025, 1, 15)))
	require.NoError(t, err)
	before, err := f.graphs.CountEdges(ctx)
	require.NoError(t, err)

	req := request(date(2025, 1, 15))
	req.Recompute = true
	report, err := f.runner.Run(ctx, req)
	require.NoError(t, err)
	assert.False(t, report.UpToDate)
	assert.Equal(t, 8, report.Windows)

	after, err := f.graphs.CountEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "recompute must not duplicate edges")

	dates, err := f.history.SnapshotDates(ctx, "team-a")
	require.NoError(t, err)
	assert.Len(t, dates, 8)
}

func TestRunRejectsInvalidWindowConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := request(date(2025, 1, 15))
	req.Window.StepDays = 0
	_, err := f.runner.Run(ctx, req)
	assert.ErrorIs(t, err, window.ErrInvalidConfig)
}
