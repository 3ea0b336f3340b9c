package engagement

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/cohort/core/graphstore"
	"github.com/adalundhe/cohort/core/matrix"
)

// Input is everything a classifier sees for one window.
type Input struct {
	// Matrices are the window's per-kind interaction matrices.
	Matrices matrix.Set

	// WindowIndex is the global index of the window.
	WindowIndex int

	// Date is the window's snapshot date.
	Date time.Time

	// Accounts is the ordered account list the matrices are indexed by.
	Accounts []string

	// Thresholds parameterize the rule set.
	Thresholds Thresholds

	// PeriodDays is the window span.
	PeriodDays int

	// Prior holds the previously computed snapshots in window order,
	// including carried-over history, so rolling categories keep extending.
	Prior []Snapshot
}

// Result is a classifier's output for one window.
type Result struct {
	// Graph is the window's interaction graph. Node display names are
	// attached by the orchestrator afterwards.
	Graph *graphstore.Graph

	// Snapshot holds the updated category sets.
	Snapshot Snapshot
}

// Classifier turns a window's interaction matrices and the prior category
// sets into an interaction graph and updated sets. Implementations must be
// deterministic given identical inputs.
type Classifier interface {
	Compute(ctx context.Context, in Input) (Result, error)
}

// ThresholdClassifier is the default rule set: activity and connection
// thresholds over summed interaction counts, with rolling vital/still/drop
// states derived from prior snapshots. Products with their own rules swap
// in a different Classifier.
type ThresholdClassifier struct{}

// NewThresholdClassifier creates the default classifier.
func NewThresholdClassifier() *ThresholdClassifier {
	return &ThresholdClassifier{}
}

// Compute applies the threshold rules to one window.
func (c *ThresholdClassifier) Compute(ctx context.Context, in Input) (Result, error) {
	if err := in.Thresholds.Validate(); err != nil {
		return Result{}, err
	}

	totals := newWindowTotals(in)
	snap := NewSnapshot(in.WindowIndex, in.Date)

	c.classifyActivity(&snap, in, totals)
	c.classifyConnections(&snap, in, totals)
	c.classifyRolling(&snap, in)

	return Result{Graph: buildGraph(in, totals), Snapshot: snap}, nil
}

// windowTotals caches per-account aggregates over one window's matrices.
type windowTotals struct {
	// summed is the element-wise sum of all interaction-kind matrices.
	summed *mat.Dense

	// out, in and actions are total emitted interactions, received
	// interactions and self-directed actions per account index.
	out     []float64
	in      []float64
	actions []float64
}

func newWindowTotals(in Input) *windowTotals {
	n := len(in.Accounts)
	t := &windowTotals{
		summed:  mat.NewDense(maxInt(n, 1), maxInt(n, 1), nil),
		out:     make([]float64, n),
		in:      make([]float64, n),
		actions: make([]float64, n),
	}

	for kind, m := range in.Matrices {
		if kind.IsInteraction() {
			t.summed.Add(t.summed, m)
			continue
		}
		for i := 0; i < n; i++ {
			t.actions[i] += m.At(i, i)
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			w := t.summed.At(i, j)
			t.out[i] += w
			t.in[j] += w
		}
	}
	return t
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (c *ThresholdClassifier) classifyActivity(snap *Snapshot, in Input, totals *windowTotals) {
	thr := float64(in.Thresholds.MinInteractions)
	prev := lastSnapshot(in.Prior)
	everActive := unionOf(in.Prior, func(s Snapshot) AccountSet { return s.Active })

	for i, id := range in.Accounts {
		total := totals.out[i] + totals.in[i] + totals.actions[i]
		if total >= thr {
			snap.Active.Add(id)
			if !everActive.Contains(id) {
				snap.NewActive.Add(id)
			}
			if prev.Disengaged.Contains(id) {
				snap.Returned.Add(id)
			}
			continue
		}

		if !everActive.Contains(id) {
			snap.Lurker.Add(id)
		}
		if prev.Active.Contains(id) {
			snap.Paused.Add(id)
		}
		if prev.Paused.Contains(id) || prev.Disengaged.Contains(id) {
			snap.Disengaged.Add(id)
		}
	}

	c.classifyDisengagement(snap, in, prev)
}

// classifyDisengagement fills the provenance sub-categories for accounts
// that disengaged this window, and promotes long-disengaged accounts to
// dropped.
func (c *ThresholdClassifier) classifyDisengagement(snap *Snapshot, in Input, prev Snapshot) {
	wereNew := unionOf(in.Prior, func(s Snapshot) AccountSet { return s.NewActive })
	wereStill := unionOf(in.Prior, func(s Snapshot) AccountSet { return s.StillActive })
	wereVital := unionOf(in.Prior, func(s Snapshot) AccountSet { return s.Vital })

	for id := range snap.Disengaged {
		if prev.Disengaged.Contains(id) {
			continue // provenance only recorded when disengagement starts
		}
		if wereNew.Contains(id) {
			snap.DisengagedWereNewActive.Add(id)
		}
		if wereStill.Contains(id) {
			snap.DisengagedWereStillActive.Add(id)
		}
		if wereVital.Contains(id) {
			snap.DisengagedWereVital.Add(id)
		}
	}

	drop := in.Thresholds.DropWindows
	if len(in.Prior) < drop {
		return
	}
	for id := range snap.Disengaged {
		dropped := true
		for _, s := range in.Prior[len(in.Prior)-drop:] {
			if !s.Disengaged.Contains(id) {
				dropped = false
				break
			}
		}
		if dropped {
			snap.Dropped.Add(id)
		}
	}
}

func (c *ThresholdClassifier) classifyConnections(snap *Snapshot, in Input, totals *windowTotals) {
	minEdge := float64(in.Thresholds.MinEdgeStrength)
	n := len(in.Accounts)

	for i, id := range in.Accounts {
		connections := 0
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if totals.summed.At(i, j)+totals.summed.At(j, i) >= minEdge {
				connections++
			}
		}
		if connections >= in.Thresholds.MinConnections {
			snap.Connected.Add(id)
		}
	}
}

// classifyRolling derives vital and still-active from membership counts over
// trailing windows of prior snapshots plus the current one.
func (c *ThresholdClassifier) classifyRolling(snap *Snapshot, in Input) {
	thr := in.Thresholds

	for id := range snap.Connected {
		count := 1 // current window
		for _, s := range tail(in.Prior, thr.VitalWindows-1) {
			if s.Connected.Contains(id) {
				count++
			}
		}
		if count >= thr.VitalOf {
			snap.Vital.Add(id)
		}
	}

	if len(in.Prior) < thr.StillWindows {
		return
	}
	candidates := in.Prior[len(in.Prior)-thr.StillWindows].NewActive
	for id := range candidates {
		if !snap.Active.Contains(id) {
			continue
		}
		count := 1
		for _, s := range tail(in.Prior, thr.StillWindows-1) {
			if s.Active.Contains(id) {
				count++
			}
		}
		if count >= thr.StillOf {
			snap.StillActive.Add(id)
		}
	}
}

// buildGraph emits the window's interaction graph: one node per account that
// interacted, one weighted edge per nonzero matrix cell. The diagonal is
// already zero for interaction kinds, so no self-loops appear.
func buildGraph(in Input, totals *windowTotals) *graphstore.Graph {
	g := &graphstore.Graph{Date: in.Date}
	n := len(in.Accounts)

	for i, id := range in.Accounts {
		if totals.out[i] > 0 || totals.in[i] > 0 {
			g.Nodes = append(g.Nodes, graphstore.Node{AccountID: id})
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if w := totals.summed.At(i, j); w > 0 {
				g.AddEdge(in.Accounts[i], in.Accounts[j], w)
			}
		}
	}
	return g
}

func lastSnapshot(prior []Snapshot) Snapshot {
	if len(prior) == 0 {
		return NewSnapshot(-1, time.Time{})
	}
	return prior[len(prior)-1]
}

func unionOf(prior []Snapshot, pick func(Snapshot) AccountSet) AccountSet {
	out := NewAccountSet()
	for _, s := range prior {
		out = out.Union(pick(s))
	}
	return out
}

func tail(prior []Snapshot, n int) []Snapshot {
	if n <= 0 {
		return nil
	}
	if len(prior) <= n {
		return prior
	}
	return prior[len(prior)-n:]
}
