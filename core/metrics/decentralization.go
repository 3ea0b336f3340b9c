package metrics

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/adalundhe/cohort/core/graphstore"
)

// UndefinedScore marks a date whose degree distribution is too small to
// summarize: fewer than two distinct scores.
const UndefinedScore = -1

// DecentralizationMetricName is the persistence key for the score.
const DecentralizationMetricName = "decentralization"

// DecentralizationScore summarizes how evenly interaction degree is spread
// across accounts on one date. Higher means more concentrated around few
// accounts; lower means more evenly spread.
type DecentralizationScore struct {
	Date  time.Time `json:"date"`
	Score float64   `json:"score"`
}

// decentralizationOptions is the fixed degree configuration the score is
// derived from: undirected, normalized, parallel edges collapsed.
func decentralizationOptions() Options {
	return Options{
		Direction:        DirectionUndirected,
		Normalize:        true,
		PreserveParallel: false,
	}
}

// Decentralization computes the per-date score from degree records. The
// records are expected to come from the undirected, normalized,
// non-parallel-preserving configuration.
func Decentralization(records []DegreeRecord) []DecentralizationScore {
	byDate := make(map[time.Time][]float64)
	for _, rec := range records {
		byDate[rec.Date] = append(byDate[rec.Date], rec.NormalizedDegree)
	}

	dates := make([]time.Time, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	scores := make([]DecentralizationScore, 0, len(dates))
	for _, date := range dates {
		scores = append(scores, DecentralizationScore{
			Date:  date,
			Score: giniScore(byDate[date]),
		})
	}
	return scores
}

// giniScore maps a degree distribution to [0, 100] via the Gini coefficient.
// Concentrating a fixed interaction volume onto fewer accounts never lowers
// the score relative to an even spread over the same accounts.
func giniScore(values []float64) float64 {
	if len(distinct(values)) < 2 {
		return UndefinedScore
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	total := floats.Sum(sorted)
	if total == 0 {
		return UndefinedScore
	}

	n := float64(len(sorted))
	var rankWeighted float64
	for i, v := range sorted {
		rankWeighted += float64(i+1) * v
	}

	gini := (2*rankWeighted)/(n*total) - (n+1)/n
	return gini * 100
}

func distinct(values []float64) []float64 {
	seen := make(map[float64]bool, len(values))
	var out []float64
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// DecentralizationForScope computes and returns the score for every stored
// edge date not yet persisted, honoring the recompute override set.
func (e *Engine) DecentralizationForScope(ctx context.Context, scope string, recompute []time.Time) ([]DecentralizationScore, error) {
	records, err := e.DegreeCentrality(ctx, scope, decentralizationOptions(), recompute)
	if err != nil {
		return nil, err
	}
	return Decentralization(records), nil
}

// PersistDecentralization writes scores through idempotent metric upserts.
// Undefined dates are persisted with the sentinel so they are not re-scanned
// on every run. Recompute dates are cleared at the head of the same
// transaction so the refreshed scores replace the stale ones.
func (e *Engine) PersistDecentralization(ctx context.Context, store *graphstore.Store, scope string, scores []DecentralizationScore, recompute []time.Time) error {
	codec := graphstore.Codec{}
	ops := make([]graphstore.UpsertOperation, 0, len(recompute)+len(scores))
	for _, date := range recompute {
		ops = append(ops, codec.EncodeMetricDelete(scope, DecentralizationMetricName, date))
	}
	for _, s := range scores {
		ops = append(ops, codec.EncodeMetric(scope, DecentralizationMetricName, s.Date, "", s.Score))
	}
	return store.Apply(ctx, ops)
}
