// Package window implements the sliding-window planner for incremental
// engagement analytics: date ranges, window geometry, resume planning over
// persisted history, and rolling membership tracking.
package window

import (
	"errors"
	"fmt"
	"time"
)

// Day is the granularity every range and window operates at.
const Day = 24 * time.Hour

var (
	// ErrInvalidConfig indicates an unusable window configuration.
	ErrInvalidConfig = errors.New("invalid window config")

	// ErrInvalidRange indicates a requested range whose end does not follow
	// its start.
	ErrInvalidRange = errors.New("invalid date range")
)

// Config describes the window geometry for a scope.
type Config struct {
	// PeriodDays is the span each window covers.
	PeriodDays int `yaml:"period_days"`

	// StepDays is how far consecutive windows advance.
	StepDays int `yaml:"step_days"`

	// AnalysisStart is the earliest date analysis may reach back to.
	// Backward extension during resume clamps here.
	AnalysisStart time.Time `yaml:"analysis_start"`
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.PeriodDays <= 0 {
		return fmt.Errorf("%w: period_days must be positive, got %d", ErrInvalidConfig, c.PeriodDays)
	}
	if c.StepDays <= 0 {
		return fmt.Errorf("%w: step_days must be positive, got %d", ErrInvalidConfig, c.StepDays)
	}
	if c.StepDays > c.PeriodDays {
		return fmt.Errorf("%w: step_days (%d) cannot exceed period_days (%d)", ErrInvalidConfig, c.StepDays, c.PeriodDays)
	}
	return nil
}

// Range is a half-open date range [Start, End) at day granularity.
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange normalizes both endpoints to UTC midnight.
func NewRange(start, end time.Time) Range {
	return Range{Start: Midnight(start), End: Midnight(end)}
}

// Days returns the number of days the range spans.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start) / Day)
}

// IsZero reports whether the range is empty or inverted.
func (r Range) IsZero() bool {
	return !r.End.After(r.Start)
}

// Midnight truncates t to UTC midnight.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TimeWindow is one fixed-length trailing period within a planned range.
type TimeWindow struct {
	// Index is the global window index, offset by the plan's resume index.
	Index int

	// Start is the first covered day (inclusive).
	Start time.Time

	// End is the day after the last covered day (exclusive).
	// End.Sub(Start) always equals PeriodDays.
	End time.Time

	// PeriodDays and StepDays echo the configuration the window was cut with.
	PeriodDays int
	StepDays   int
}

// SnapshotDate is the literal date a window's snapshot is recorded under:
// the last day the window covers.
func (w TimeWindow) SnapshotDate() time.Time {
	return w.End.Add(-Day)
}

// MaxWindows returns how many full windows fit in totalDays, advancing by
// stepDays. A pure function of the planned range and the window config;
// never negative.
func MaxWindows(totalDays, periodDays, stepDays int) int {
	if stepDays <= 0 || periodDays <= 0 {
		return 0
	}
	// Integer division truncates toward zero; a range shorter than one
	// period must yield zero windows, not one.
	if totalDays < periodDays {
		return 0
	}
	return (totalDays-periodDays)/stepDays + 1
}

// WindowAt cuts window i out of the planned range. resumeIndex offsets the
// window's global index so re-runs continue the persisted numbering.
func WindowAt(planned Range, cfg Config, i, resumeIndex int) TimeWindow {
	start := planned.Start.Add(time.Duration(i*cfg.StepDays) * Day)
	return TimeWindow{
		Index:      resumeIndex + i,
		Start:      start,
		End:        start.Add(time.Duration(cfg.PeriodDays) * Day),
		PeriodDays: cfg.PeriodDays,
		StepDays:   cfg.StepDays,
	}
}
