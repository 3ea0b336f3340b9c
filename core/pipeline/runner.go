// Package pipeline wires the planner, orchestrator and stores into complete
// analysis runs. One runner owns the per-scope serialization: two recompute
// runs for the same scope can never interleave their writes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/cohort/core/engagement"
	"github.com/adalundhe/cohort/core/graphstore"
	"github.com/adalundhe/cohort/core/window"
)

// Runner executes engagement analysis runs end to end.
type Runner struct {
	history      *engagement.HistoryStore
	graphs       *graphstore.Store
	orchestrator *engagement.Orchestrator
	planner      *window.Planner
	codec        graphstore.Codec
	logger       *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner creates a Runner. A nil logger uses slog.Default().
func NewRunner(history *engagement.HistoryStore, graphs *graphstore.Store, orchestrator *engagement.Orchestrator, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		history:      history,
		graphs:       graphs,
		orchestrator: orchestrator,
		planner:      window.NewPlanner(),
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
	}
}

// RunRequest describes one analysis run.
type RunRequest struct {
	Scope      string
	Range      window.Range
	Window     window.Config
	Thresholds engagement.Thresholds

	// Recompute clears the scope's history first and recomputes from the
	// analysis start. The graph rebuild leads with a scoped deletion.
	Recompute bool
}

// RunReport summarizes what a run did.
type RunReport struct {
	RunID   string
	Scope   string
	Windows int
	Resumed bool

	// UpToDate is true when everything requested was already persisted.
	UpToDate bool
}

// Run plans and executes one analysis run for a scope.
//
// Write ordering: graph upserts commit before the history transaction. The
// upserts are idempotent, so an abort between the two leaves the planner's
// resume point untouched and the next run replays the graph writes without
// creating duplicates.
func (r *Runner) Run(ctx context.Context, req RunRequest) (RunReport, error) {
	unlock := r.lockScope(req.Scope)
	defer unlock()

	report := RunReport{RunID: uuid.NewString(), Scope: req.Scope}

	if req.Recompute {
		if err := r.history.Clear(ctx, req.Scope); err != nil {
			return report, fmt.Errorf("clear history for recompute: %w", err)
		}
	}

	dates, err := r.history.SnapshotDates(ctx, req.Scope)
	if err != nil {
		return report, fmt.Errorf("load snapshot dates: %w", err)
	}

	plan, err := r.planner.Plan(req.Range, dates, req.Window)
	if err != nil {
		return report, err
	}
	if plan.Done {
		report.UpToDate = true
		return report, nil
	}
	report.Resumed = plan.ResumeIndex > 0
	report.Windows = plan.Windows

	carried, err := r.carriedSnapshots(ctx, req.Scope, plan)
	if err != nil {
		return report, err
	}

	out, err := r.orchestrator.Run(ctx, engagement.RunInput{
		Scope:       req.Scope,
		Remaining:   plan.Remaining,
		Config:      req.Window,
		Thresholds:  req.Thresholds,
		ResumeIndex: plan.ResumeIndex,
		CarriedOver: carried,
	})
	if err != nil {
		return report, err
	}

	if err := r.persistGraphs(ctx, req, out); err != nil {
		return report, err
	}
	if err := r.persistHistory(ctx, req.Scope, report.RunID, out); err != nil {
		return report, err
	}

	r.logger.Info("analysis run complete",
		"scope", req.Scope,
		"run_id", report.RunID,
		"windows", report.Windows,
		"resumed", report.Resumed,
	)
	return report, nil
}

// lockScope serializes runs per scope.
func (r *Runner) lockScope(scope string) func() {
	r.mu.Lock()
	lock, ok := r.locks[scope]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[scope] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (r *Runner) carriedSnapshots(ctx context.Context, scope string, plan window.Plan) (map[int]engagement.Snapshot, error) {
	if plan.ResumeIndex == 0 {
		return nil, nil
	}
	snapshots, err := r.history.LoadSnapshots(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load carried-over snapshots: %w", err)
	}
	carried := make(map[int]engagement.Snapshot, len(snapshots))
	for _, snap := range snapshots {
		carried[snap.WindowIndex] = snap
	}
	return carried, nil
}

// persistGraphs applies every window graph as one upsert batch per date, in
// date order. On a recompute, only the first batch carries the scoped
// deletion so the rebuild starts from a clean slate exactly once.
func (r *Runner) persistGraphs(ctx context.Context, req RunRequest, out engagement.RunOutput) error {
	dates := make([]time.Time, 0, len(out.Graphs))
	for date := range out.Graphs {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for i, date := range dates {
		ops := r.codec.Encode(out.Graphs[date], req.Scope, req.Recompute && i == 0)
		if err := r.graphs.Apply(ctx, ops); err != nil {
			return fmt.Errorf("persist graph for %s: %w", date.Format(time.DateOnly), err)
		}
	}
	return nil
}

func (r *Runner) persistHistory(ctx context.Context, scope, runID string, out engagement.RunOutput) error {
	indexes := make([]int, 0, len(out.Snapshots))
	for i := range out.Snapshots {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	snapshots := make([]engagement.Snapshot, 0, len(indexes))
	for _, i := range indexes {
		snapshots = append(snapshots, out.Snapshots[i])
	}

	return r.history.SaveRun(ctx, scope, runID, snapshots, rawAggregates(out))
}

// rawAggregates derives the heatmap-style totals stored next to snapshots:
// per date and account, total emitted and received interaction weight.
func rawAggregates(out engagement.RunOutput) []engagement.RawAggregate {
	type key struct {
		date    time.Time
		account string
		kind    string
	}
	totals := make(map[key]float64)
	for date, graph := range out.Graphs {
		for _, edge := range graph.Edges {
			totals[key{date, edge.Source, "interactions_out"}] += edge.Weight
			totals[key{date, edge.Target, "interactions_in"}] += edge.Weight
		}
	}

	aggregates := make([]engagement.RawAggregate, 0, len(totals))
	for k, count := range totals {
		aggregates = append(aggregates, engagement.RawAggregate{
			Date:      k.date,
			AccountID: k.account,
			Kind:      k.kind,
			Count:     count,
		})
	}
	sort.Slice(aggregates, func(i, j int) bool {
		a, b := aggregates[i], aggregates[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		return a.Kind < b.Kind
	})
	return aggregates
}
