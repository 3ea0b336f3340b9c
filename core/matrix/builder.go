// Package matrix builds per-activity-kind interaction matrices from raw
// activity records. A matrix row is the emitting account, a column the
// counterpart; cell values are interaction counts within one window.
package matrix

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/cohort/core/activity"
)

var (
	// ErrUnsupportedActivityKind indicates an activity kind outside the
	// configured vocabulary. This is a configuration error, not a row skip.
	ErrUnsupportedActivityKind = errors.New("unsupported activity kind")

	// ErrEmptyAccountOrder indicates no accounts were supplied for the window.
	ErrEmptyAccountOrder = errors.New("empty account order")
)

// DefaultWorkers bounds the per-account aggregation fan-out.
const DefaultWorkers = 8

// Set maps an activity kind to its square interaction matrix. All matrices
// in a set share the same account order, which defines row/column identity
// for one computation only and is never persisted.
type Set map[activity.Kind]*mat.Dense

// Builder aggregates activity records into interaction matrices.
type Builder struct {
	workers int
	logger  *slog.Logger
}

// NewBuilder creates a Builder. A workers value <= 0 uses DefaultWorkers.
func NewBuilder(workers int, logger *slog.Logger) *Builder {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{workers: workers, logger: logger}
}

// Build aggregates records into one N×N matrix per kind, N = len(accountOrder).
//
// Only emitter-directed records produce outgoing counts. Counterparts outside
// accountOrder are dropped: they are not under analysis in this window.
// Action kinds with no counterpart are normalized into a self-entry so
// downstream code treats all kinds uniformly; for interaction kinds the
// diagonal is forced to zero afterwards.
func (b *Builder) Build(records []activity.Record, accountOrder []string, kinds []activity.Kind) (Set, error) {
	if len(accountOrder) == 0 {
		return nil, ErrEmptyAccountOrder
	}
	for _, kind := range kinds {
		if !kind.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedActivityKind, kind)
		}
	}

	index := make(map[string]int, len(accountOrder))
	for i, id := range accountOrder {
		index[id] = i
	}

	wanted := make(map[activity.Kind]bool, len(kinds))
	set := make(Set, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = true
		set[kind] = mat.NewDense(len(accountOrder), len(accountOrder), nil)
	}

	byAccount := groupByAccount(records, index)
	if err := b.scatter(set, byAccount, index, wanted); err != nil {
		return nil, err
	}

	for _, kind := range kinds {
		if kind.IsInteraction() {
			zeroDiagonal(set[kind])
		}
	}
	return set, nil
}

func groupByAccount(records []activity.Record, index map[string]int) map[string][]activity.Record {
	grouped := make(map[string][]activity.Record)
	for _, rec := range records {
		if _, ok := index[rec.AccountID]; !ok {
			continue
		}
		grouped[rec.AccountID] = append(grouped[rec.AccountID], rec)
	}
	return grouped
}

// scatter aggregates each account's records and writes its row into every
// kind matrix. Accounts map to disjoint rows, so workers write to disjoint
// regions of each backing array and no locking is needed.
func (b *Builder) scatter(set Set, byAccount map[string][]activity.Record, index map[string]int, wanted map[activity.Kind]bool) error {
	jobs := make(chan string)
	errOnce := sync.Once{}
	var firstErr error
	var wg sync.WaitGroup

	workers := b.workers
	if workers > len(byAccount) && len(byAccount) > 0 {
		workers = len(byAccount)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for accountID := range jobs {
				if err := scatterAccount(set, byAccount[accountID], index, wanted, accountID); err != nil {
					errOnce.Do(func() { firstErr = err })
				}
			}
		}()
	}

	for accountID := range byAccount {
		jobs <- accountID
	}
	close(jobs)
	wg.Wait()

	return firstErr
}

func scatterAccount(set Set, records []activity.Record, index map[string]int, wanted map[activity.Kind]bool, accountID string) error {
	for _, rec := range records {
		if !rec.Kind.IsValid() {
			return fmt.Errorf("%w: %q (account %s)", ErrUnsupportedActivityKind, rec.Kind, accountID)
		}
	}

	row := index[accountID]
	counts := aggregateCounts(records, accountID)

	for kind, perCounterpart := range counts {
		if !wanted[kind] {
			continue
		}
		m := set[kind]
		for counterpart, n := range perCounterpart {
			col, ok := index[counterpart]
			if !ok {
				continue
			}
			m.Set(row, col, m.At(row, col)+float64(n))
		}
	}
	return nil
}

// aggregateCounts sums engaged-account occurrences per counterpart per kind.
// Action records without counterparts become synthetic self-interactions.
func aggregateCounts(records []activity.Record, accountID string) map[activity.Kind]map[string]int {
	counts := make(map[activity.Kind]map[string]int)
	bump := func(kind activity.Kind, counterpart string, n int) {
		perCounterpart := counts[kind]
		if perCounterpart == nil {
			perCounterpart = make(map[string]int)
			counts[kind] = perCounterpart
		}
		perCounterpart[counterpart] += n
	}

	for _, rec := range records {
		if rec.Direction != activity.DirectionEmitter {
			continue
		}
		if len(rec.EngagedAccounts) == 0 {
			bump(rec.Kind, accountID, 1)
			continue
		}
		for _, counterpart := range rec.EngagedAccounts {
			bump(rec.Kind, counterpart, 1)
		}
	}
	return counts
}

func zeroDiagonal(m *mat.Dense) {
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		m.Set(i, i, 0)
	}
}
