package window

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrHistoryInconsistent indicates persisted history with a gap or an
	// out-of-order date. Fatal for the scope: resuming would guess wrong.
	ErrHistoryInconsistent = errors.New("persisted history inconsistent")
)

// Plan is the outcome of resume planning.
type Plan struct {
	// Remaining is the range still needing computation, including any
	// backward extension required to fit at least one full window.
	Remaining Range

	// ResumeIndex is the window index the next computed window gets.
	// Equal to the number of persisted snapshots.
	ResumeIndex int

	// Windows is the number of full windows the remaining range yields.
	Windows int

	// Done is true when everything requested is already persisted.
	Done bool
}

// Planner decides which part of a requested range still needs computation
// given the snapshot dates already persisted for the scope.
type Planner struct{}

// NewPlanner creates a Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan computes the minimal remaining range and resume point.
//
// With empty history the whole requested range is remaining, extended
// backward to one full period when shorter, clamped at cfg.AnalysisStart.
// Otherwise the remaining range reaches back far enough that the first new
// window's snapshot falls exactly step days after the latest persisted one,
// keeping the snapshot sequence contiguous across resumes. The resume index
// counts persisted snapshots and is unaffected by how far back the range
// reaches.
func (p *Planner) Plan(requested Range, historyDates []time.Time, cfg Config) (Plan, error) {
	if err := cfg.Validate(); err != nil {
		return Plan{}, err
	}
	requested = NewRange(requested.Start, requested.End)
	if requested.IsZero() {
		return Plan{}, fmt.Errorf("%w: %v .. %v", ErrInvalidRange, requested.Start, requested.End)
	}

	if len(historyDates) == 0 {
		remaining := p.extend(requested, cfg)
		return Plan{
			Remaining: remaining,
			Windows:   MaxWindows(remaining.Days(), cfg.PeriodDays, cfg.StepDays),
		}, nil
	}

	latest, err := p.validateHistory(historyDates, cfg)
	if err != nil {
		return Plan{}, err
	}

	lastNeeded := requested.End.Add(-Day)
	if !lastNeeded.After(latest) {
		return Plan{Done: true, ResumeIndex: len(historyDates)}, nil
	}

	// Anchor the range so the first new window's snapshot lands exactly
	// step days after the latest persisted one.
	start := latest.Add(time.Duration(1+cfg.StepDays-cfg.PeriodDays) * Day)
	if analysisStart := Midnight(cfg.AnalysisStart); !cfg.AnalysisStart.IsZero() && start.Before(analysisStart) {
		start = analysisStart
	}
	remaining := Range{Start: start, End: requested.End}
	return Plan{
		Remaining:   remaining,
		ResumeIndex: len(historyDates),
		Windows:     MaxWindows(remaining.Days(), cfg.PeriodDays, cfg.StepDays),
	}, nil
}

// validateHistory checks snapshot dates are strictly ordered and step-spaced,
// returning the latest date.
func (p *Planner) validateHistory(dates []time.Time, cfg Config) (time.Time, error) {
	step := time.Duration(cfg.StepDays) * Day
	prev := Midnight(dates[0])
	for _, d := range dates[1:] {
		d = Midnight(d)
		gap := d.Sub(prev)
		if gap <= 0 {
			return time.Time{}, fmt.Errorf("%w: out-of-order date %s", ErrHistoryInconsistent, d.Format(time.DateOnly))
		}
		if gap != step {
			return time.Time{}, fmt.Errorf("%w: gap between %s and %s", ErrHistoryInconsistent,
				prev.Format(time.DateOnly), d.Format(time.DateOnly))
		}
		prev = d
	}
	return prev, nil
}

// extend widens a range backward until one full window fits, clamped at the
// configured analysis start.
func (p *Planner) extend(r Range, cfg Config) Range {
	if r.Days() >= cfg.PeriodDays {
		return r
	}
	start := r.End.Add(-time.Duration(cfg.PeriodDays) * Day)
	if analysisStart := Midnight(cfg.AnalysisStart); !cfg.AnalysisStart.IsZero() && start.Before(analysisStart) {
		start = analysisStart
	}
	return Range{Start: start, End: r.End}
}
