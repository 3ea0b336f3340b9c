package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/cohort/core/activity"
	"github.com/adalundhe/cohort/core/matrix"
	"github.com/adalundhe/cohort/core/window"
)

// memorySource serves canned activity from memory.
type memorySource struct {
	records []activity.Record
	members []activity.Member
}

func (m *memorySource) RecordsBetween(_ context.Context, _ string, start, end time.Time, accounts, _ []string) ([]activity.Record, error) {
	allowed := map[string]bool{}
	for _, id := range accounts {
		allowed[id] = true
	}
	var out []activity.Record
	for _, rec := range m.records {
		if rec.Timestamp.Before(start) || !rec.Timestamp.Before(end) {
			continue
		}
		if len(accounts) > 0 && !allowed[rec.AccountID] {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *memorySource) ActiveAccounts(_ context.Context, _ string, start, end time.Time) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, rec := range m.records {
		if rec.Timestamp.Before(start) || !rec.Timestamp.Before(end) || seen[rec.AccountID] {
			continue
		}
		seen[rec.AccountID] = true
		out = append(out, rec.AccountID)
	}
	return out, nil
}

func (m *memorySource) RecentJoins(_ context.Context, _ string, limit int) ([]activity.Member, error) {
	if len(m.members) < limit {
		limit = len(m.members)
	}
	return m.members[:limit], nil
}

func (m *memorySource) JoinsBetween(_ context.Context, _ string, start, end time.Time) ([]activity.Member, error) {
	var out []activity.Member
	for _, member := range m.members {
		if !member.JoinedAt.Before(start) && member.JoinedAt.Before(end) {
			out = append(out, member)
		}
	}
	return out, nil
}

func (m *memorySource) DisplayName(_ context.Context, _, accountID string) (string, error) {
	for _, member := range m.members {
		if member.AccountID == accountID {
			return member.DisplayName, nil
		}
	}
	return "", activity.ErrMemberNotFound
}

func reply(account, target string, ts time.Time) activity.Record {
	return activity.Record{
		AccountID:       account,
		Timestamp:       ts,
		Kind:            activity.KindReply,
		Direction:       activity.DirectionEmitter,
		EngagedAccounts: []string{target},
	}
}

func newTestOrchestrator(t *testing.T, source activity.Source) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(OrchestratorConfig{
		Source:     source,
		Classifier: NewThresholdClassifier(),
		Builder:    matrix.NewBuilder(2, nil),
	})
	require.NoError(t, err)
	return orch
}

func TestRunProducesContiguousWindows(t *testing.T) {
	source := &memorySource{
		records: []activity.Record{
			reply("A", "B", time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)),
			reply("B", "A", time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)),
			reply("A", "B", time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC)),
		},
		members: []activity.Member{
			{AccountID: "A", DisplayName: "Ada", JoinedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
			{AccountID: "B", DisplayName: "Ben", JoinedAt: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
		},
	}
	orch := newTestOrchestrator(t, source)

	out, err := orch.Run(context.Background(), RunInput{
		Scope:      "team-a",
		Remaining:  window.NewRange(snapDate(1), snapDate(11)),
		Config:     window.Config{PeriodDays: 7, StepDays: 1},
		Thresholds: DefaultThresholds(),
	})
	require.NoError(t, err)

	// 10 days, period 7, step 1: windows 0 through 3 with no gaps.
	require.Len(t, out.Snapshots, 4)
	for i := 0; i < 4; i++ {
		snap, ok := out.Snapshots[i]
		require.True(t, ok, "missing window %d", i)
		assert.Equal(t, snapDate(7+i), snap.Date)
		require.NoError(t, snap.Validate())
	}
	require.Len(t, out.Graphs, 4)
}

func TestRunEmptyWindowStillAdvances(t *testing.T) {
	// No activity and no members at all: every window yields an empty but
	// valid snapshot.
	orch := newTestOrchestrator(t, &memorySource{})

	out, err := orch.Run(context.Background(), RunInput{
		Scope:      "team-a",
		Remaining:  window.NewRange(snapDate(1), snapDate(9)),
		Config:     window.Config{PeriodDays: 7, StepDays: 1},
		Thresholds: DefaultThresholds(),
	})
	require.NoError(t, err)

	require.Len(t, out.Snapshots, 2)
	for i, snap := range out.Snapshots {
		assert.Empty(t, snap.Active, "window %d", i)
		require.NoError(t, snap.Validate())
	}
}

func TestRunFallsBackToRecentJoins(t *testing.T) {
	// Members exist but nobody interacted: the fallback sample feeds the
	// classifier, and everyone sampled lands in lurkers.
	source := &memorySource{
		members: []activity.Member{
			{AccountID: "C", JoinedAt: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
			{AccountID: "A", JoinedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	orch := newTestOrchestrator(t, source)

	out, err := orch.Run(context.Background(), RunInput{
		Scope:      "team-a",
		Remaining:  window.NewRange(snapDate(1), snapDate(8)),
		Config:     window.Config{PeriodDays: 7, StepDays: 1},
		Thresholds: DefaultThresholds(),
	})
	require.NoError(t, err)

	require.Len(t, out.Snapshots, 1)
	snap := out.Snapshots[0]
	assert.True(t, snap.Lurker.Contains("A"))
	assert.True(t, snap.Lurker.Contains("C"))
	assert.Empty(t, snap.Active)
}

func TestRunTracksJoins(t *testing.T) {
	source := &memorySource{
		members: []activity.Member{
			{AccountID: "A", JoinedAt: time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)},
			{AccountID: "B", JoinedAt: time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)},
		},
	}
	orch := newTestOrchestrator(t, source)

	out, err := orch.Run(context.Background(), RunInput{
		Scope:      "team-a",
		Remaining:  window.NewRange(snapDate(1), snapDate(10)),
		Config:     window.Config{PeriodDays: 7, StepDays: 1},
		Thresholds: DefaultThresholds(),
	})
	require.NoError(t, err)
	require.Len(t, out.Snapshots, 3)

	s0 := out.Snapshots[0] // snapshot date 01-07
	assert.True(t, s0.JoinedInWindow.Contains("A"))
	assert.False(t, s0.JoinedInWindow.Contains("B"))

	s1 := out.Snapshots[1] // snapshot date 01-08
	assert.True(t, s1.JoinedInWindow.Contains("B"))
	assert.False(t, s1.JoinedInWindow.Contains("A"))
	assert.True(t, s1.JoinedInPeriod.Contains("A"), "rolling period keeps earlier joins")

	s2 := out.Snapshots[2]
	assert.True(t, s2.JoinedInPeriod.Contains("A"))
	assert.True(t, s2.JoinedInPeriod.Contains("B"))
}

func TestRunTracksJoinsAcrossMultiDaySteps(t *testing.T) {
	// With step 2, B joins on a day no snapshot lands on. The rolling
	// period set must still pick B up in the next snapshot.
	source := &memorySource{
		members: []activity.Member{
			{AccountID: "A", JoinedAt: time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)},
			{AccountID: "B", JoinedAt: time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)},
		},
	}
	orch := newTestOrchestrator(t, source)

	out, err := orch.Run(context.Background(), RunInput{
		Scope:      "team-a",
		Remaining:  window.NewRange(snapDate(1), snapDate(12)),
		Config:     window.Config{PeriodDays: 7, StepDays: 2},
		Thresholds: DefaultThresholds(),
	})
	require.NoError(t, err)
	require.Len(t, out.Snapshots, 3)

	s0 := out.Snapshots[0] // snapshot date 01-07
	assert.True(t, s0.JoinedInWindow.Contains("A"))
	assert.True(t, s0.JoinedInPeriod.Contains("A"))
	assert.False(t, s0.JoinedInPeriod.Contains("B"))

	s1 := out.Snapshots[1] // snapshot date 01-09, steps over 01-08
	assert.False(t, s1.JoinedInWindow.Contains("B"))
	assert.True(t, s1.JoinedInPeriod.Contains("B"), "join on a stepped-over day must reach the rolling set")
	assert.True(t, s1.JoinedInPeriod.Contains("A"))

	s2 := out.Snapshots[2]
	assert.True(t, s2.JoinedInPeriod.Contains("B"))
}

// nilSetClassifier returns a zero-value snapshot, as a buggy external
// implementation might.
type nilSetClassifier struct{}

func (nilSetClassifier) Compute(context.Context, Input) (Result, error) {
	return Result{}, nil
}

func TestRunRejectsClassifierNilSets(t *testing.T) {
	source := &memorySource{
		records: []activity.Record{
			reply("A", "B", time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)),
			reply("B", "A", time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC)),
		},
		members: []activity.Member{{AccountID: "A"}, {AccountID: "B"}},
	}
	orch, err := NewOrchestrator(OrchestratorConfig{
		Source:     source,
		Classifier: nilSetClassifier{},
		Builder:    matrix.NewBuilder(2, nil),
	})
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), RunInput{
		Scope:      "team-a",
		Remaining:  window.NewRange(snapDate(1), snapDate(8)),
		Config:     window.Config{PeriodDays: 7, StepDays: 1},
		Thresholds: DefaultThresholds(),
	})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestRunCarriesOverPriorState(t *testing.T) {
	// B was already active in persisted history: the carried-over snapshot
	// must keep B out of new_active on resume.
	source := &memorySource{
		records: []activity.Record{
			reply("B", "C", time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)),
			reply("C", "B", time.Date(2025, 1, 8, 11, 0, 0, 0, time.UTC)),
		},
		members: []activity.Member{{AccountID: "B"}, {AccountID: "C"}},
	}
	orch := newTestOrchestrator(t, source)

	prior := NewSnapshot(0, snapDate(7))
	prior.Active = NewAccountSet("B")

	out, err := orch.Run(context.Background(), RunInput{
		Scope:       "team-a",
		Remaining:   window.NewRange(snapDate(2), snapDate(9)),
		Config:      window.Config{PeriodDays: 7, StepDays: 1},
		Thresholds:  DefaultThresholds(),
		ResumeIndex: 1,
		CarriedOver: map[int]Snapshot{0: prior},
	})
	require.NoError(t, err)

	snap, ok := out.Snapshots[1]
	require.True(t, ok)
	assert.Equal(t, snapDate(8), snap.Date)
	assert.True(t, snap.Active.Contains("B"))
	assert.False(t, snap.NewActive.Contains("B"), "already active in history, not newly active")
}

func TestNewOrchestratorRequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorConfig{})
	assert.Error(t, err)
}
