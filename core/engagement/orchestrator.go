package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/adalundhe/cohort/core/activity"
	"github.com/adalundhe/cohort/core/graphstore"
	"github.com/adalundhe/cohort/core/matrix"
	"github.com/adalundhe/cohort/core/window"
)

// DefaultFallbackSample is how many recently joined accounts stand in for an
// empty active-account set, keeping downstream metrics well-defined.
const DefaultFallbackSample = 5

// Orchestrator drives the per-window loop: resolve active accounts, build
// the interaction matrices, invoke the classifier, merge rolling membership
// state and record results. Windows execute strictly in order because each
// classifier call depends on the previous window's category sets.
type Orchestrator struct {
	source     activity.Source
	classifier Classifier
	builder    *matrix.Builder
	kinds      []activity.Kind
	sample     int
	logger     *slog.Logger
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Source     activity.Source
	Classifier Classifier
	Builder    *matrix.Builder
	Kinds      []activity.Kind

	// FallbackSample overrides DefaultFallbackSample when positive.
	FallbackSample int

	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Source == nil || cfg.Classifier == nil || cfg.Builder == nil {
		return nil, errors.New("orchestrator: source, classifier and builder are required")
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = activity.ValidKinds()
	}
	sample := cfg.FallbackSample
	if sample <= 0 {
		sample = DefaultFallbackSample
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		source:     cfg.Source,
		classifier: cfg.Classifier,
		builder:    cfg.Builder,
		kinds:      kinds,
		sample:     sample,
		logger:     logger,
	}, nil
}

// RunInput is one planned analysis run.
type RunInput struct {
	Scope       string
	Remaining   window.Range
	Config      window.Config
	Thresholds  Thresholds
	ResumeIndex int

	// CarriedOver holds persisted snapshots re-indexed by window index so
	// rolling aggregates keep extending without re-scanning history.
	CarriedOver map[int]Snapshot
}

// RunOutput is the per-window result of a run.
type RunOutput struct {
	// Snapshots has exactly one entry per window index from ResumeIndex to
	// ResumeIndex+windows-1, with no gaps.
	Snapshots map[int]Snapshot

	// Graphs maps each window's snapshot date to its interaction graph.
	Graphs map[time.Time]*graphstore.Graph
}

// Run executes every window of the planned range in order.
//
// A window with no resolvable accounts still advances and contributes an
// empty snapshot, preserving the contiguity invariant so date assignment
// can never skip a date.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (RunOutput, error) {
	if err := in.Config.Validate(); err != nil {
		return RunOutput{}, err
	}
	if err := in.Thresholds.Validate(); err != nil {
		return RunOutput{}, err
	}

	maxWindows := window.MaxWindows(in.Remaining.Days(), in.Config.PeriodDays, in.Config.StepDays)
	out := RunOutput{
		Snapshots: make(map[int]Snapshot, maxWindows),
		Graphs:    make(map[time.Time]*graphstore.Graph, maxWindows),
	}

	prior := orderedSnapshots(in.CarriedOver)
	tracker := window.NewMembershipTracker(in.Config.PeriodDays)
	o.seedTracker(ctx, tracker, in)

	last := in.Remaining.Start.Add(-window.Day)
	for i := 0; i < maxWindows; i++ {
		w := window.WindowAt(in.Remaining, in.Config, i, in.ResumeIndex)

		snap, graph, err := o.runWindow(ctx, in, w, prior, tracker, last)
		if err != nil {
			return RunOutput{}, err
		}

		out.Snapshots[w.Index] = snap
		out.Graphs[w.SnapshotDate()] = graph
		prior = append(prior, snap)
		last = w.SnapshotDate()
	}

	return out, nil
}

// runWindow processes one window end to end. last is the day the tracker
// was advanced to before this window, exclusive.
func (o *Orchestrator) runWindow(ctx context.Context, in RunInput, w window.TimeWindow, prior []Snapshot, tracker *window.MembershipTracker, last time.Time) (Snapshot, *graphstore.Graph, error) {
	accounts, err := o.resolveAccounts(ctx, in.Scope, w)
	if err != nil {
		return Snapshot{}, nil, err
	}

	snapDate := w.SnapshotDate()
	joined, err := o.source.JoinsBetween(ctx, in.Scope, last.Add(window.Day), snapDate.Add(window.Day))
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("window %d: resolve joins: %w", w.Index, err)
	}

	// Every calendar day up to the snapshot gets its own bucket, so joins
	// on the days a multi-day step skips over still enter the rolling set.
	byDay := joinsByDay(joined)
	var rolling map[string]struct{}
	for day := last.Add(window.Day); !day.After(snapDate); day = day.Add(window.Day) {
		rolling = tracker.Append(day, byDay[day])
	}

	snap := NewSnapshot(w.Index, snapDate)
	graph := &graphstore.Graph{Date: snapDate}
	if len(accounts) > 0 {
		records, err := o.source.RecordsBetween(ctx, in.Scope, w.Start, w.End, accounts, nil)
		if err != nil {
			return Snapshot{}, nil, fmt.Errorf("window %d: load records: %w", w.Index, err)
		}
		matrices, err := o.builder.Build(records, accounts, o.kinds)
		if err != nil {
			return Snapshot{}, nil, fmt.Errorf("window %d: %w", w.Index, err)
		}

		result, err := o.classifier.Compute(ctx, Input{
			Matrices:    matrices,
			WindowIndex: w.Index,
			Date:        snapDate,
			Accounts:    accounts,
			Thresholds:  in.Thresholds,
			PeriodDays:  in.Config.PeriodDays,
			Prior:       prior,
		})
		if err != nil {
			return Snapshot{}, nil, fmt.Errorf("window %d: classify: %w", w.Index, err)
		}
		// Classifier implementations are swappable; reject a snapshot with
		// uninitialized sets before writing join state into it.
		if err := result.Snapshot.Validate(); err != nil {
			return Snapshot{}, nil, fmt.Errorf("window %d: classify: %w", w.Index, err)
		}
		snap = result.Snapshot
		if result.Graph != nil {
			graph = result.Graph
		}
		o.attachDisplayNames(ctx, in.Scope, graph)
	}

	snap.WindowIndex = w.Index
	snap.Date = snapDate
	for _, id := range byDay[snapDate] {
		snap.JoinedInWindow.Add(id)
	}
	for id := range rolling {
		snap.JoinedInPeriod.Add(id)
	}
	return snap, graph, nil
}

// resolveAccounts returns the window's active accounts, falling back to a
// constant-size sample of the most recent joins when nobody was active.
func (o *Orchestrator) resolveAccounts(ctx context.Context, scope string, w window.TimeWindow) ([]string, error) {
	accounts, err := o.source.ActiveAccounts(ctx, scope, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("window %d: resolve active accounts: %w", w.Index, err)
	}
	if len(accounts) > 0 {
		return accounts, nil
	}

	o.logger.Warn("no active accounts in window, sampling recent joins",
		"scope", scope,
		"window", w.Index,
		"start", w.Start.Format(time.DateOnly),
	)

	members, err := o.source.RecentJoins(ctx, scope, o.sample)
	if err != nil {
		return nil, fmt.Errorf("window %d: sample recent joins: %w", w.Index, err)
	}
	ids := memberIDs(members)
	sort.Strings(ids)
	return ids, nil
}

// seedTracker replays carried-over join state so the rolling "joined in
// period" horizon survives resumes without re-scanning full history.
func (o *Orchestrator) seedTracker(ctx context.Context, tracker *window.MembershipTracker, in RunInput) {
	start := in.Remaining.Start
	horizon := start.Add(-time.Duration(tracker.Horizon()) * window.Day)
	joined, err := o.source.JoinsBetween(ctx, in.Scope, horizon, start)
	if err != nil {
		o.logger.Warn("failed to seed join horizon", "scope", in.Scope, "error", err)
		return
	}
	byDay := make(map[time.Time][]string)
	for _, m := range joined {
		day := window.Midnight(m.JoinedAt)
		byDay[day] = append(byDay[day], m.AccountID)
	}
	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	for _, day := range days {
		tracker.Append(day, byDay[day])
	}
}

// attachDisplayNames resolves node display names; unknown accounts keep an
// empty name rather than failing the window.
func (o *Orchestrator) attachDisplayNames(ctx context.Context, scope string, g *graphstore.Graph) {
	for i := range g.Nodes {
		name, err := o.source.DisplayName(ctx, scope, g.Nodes[i].AccountID)
		if err != nil {
			if !errors.Is(err, activity.ErrMemberNotFound) {
				o.logger.Warn("display name lookup failed", "account", g.Nodes[i].AccountID, "error", err)
			}
			continue
		}
		g.Nodes[i].DisplayName = name
	}
}

func orderedSnapshots(byIndex map[int]Snapshot) []Snapshot {
	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	ordered := make([]Snapshot, 0, len(indexes))
	for _, i := range indexes {
		ordered = append(ordered, byIndex[i])
	}
	return ordered
}

func joinsByDay(members []activity.Member) map[time.Time][]string {
	byDay := make(map[time.Time][]string)
	for _, m := range members {
		day := window.Midnight(m.JoinedAt)
		byDay[day] = append(byDay[day], m.AccountID)
	}
	return byDay
}

func memberIDs(members []activity.Member) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.AccountID
	}
	return ids
}
