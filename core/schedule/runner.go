// Package schedule triggers daily analysis runs on a cron expression.
// The pipeline runner already serializes runs per scope, so an overlapping
// trigger waits instead of interleaving.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrNoRunFunc indicates the runner was started without a run callback.
	ErrNoRunFunc = errors.New("schedule: no run function configured")
)

// RunFunc executes one analysis pass for the range ending at end. A zero
// start leaves the range start to the planner's resume logic.
type RunFunc func(ctx context.Context, end time.Time) error

// Runner fires the analysis pipeline on a schedule. Each trigger requests
// the range ending "today", so the final persisted snapshot lands on
// yesterday.
type Runner struct {
	expr   string
	run    RunFunc
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRunner creates a Runner for a cron expression with seconds field.
func NewRunner(expr string, run RunFunc, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{expr: expr, run: run, logger: logger}
}

// Start registers the schedule and runs until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	if r.run == nil {
		return ErrNoRunFunc
	}

	r.cron = cron.New(cron.WithSeconds())
	if _, err := r.cron.AddFunc(r.expr, func() { r.trigger(ctx) }); err != nil {
		return err
	}

	r.cron.Start()
	r.logger.Info("scheduler started", "cron", r.expr)

	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

func (r *Runner) trigger(ctx context.Context) {
	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	r.logger.Info("scheduled analysis run starting", "end", end.Format(time.DateOnly))
	if err := r.run(ctx, end); err != nil {
		r.logger.Error("scheduled analysis run failed", "error", err)
	}
}
