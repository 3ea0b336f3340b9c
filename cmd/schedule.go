package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/cohort/core/config"
	"github.com/adalundhe/cohort/core/pipeline"
	"github.com/adalundhe/cohort/core/schedule"
	"github.com/adalundhe/cohort/core/window"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily analysis scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer app.Close()

		if !app.cfg.Schedule.Enabled {
			return fmt.Errorf("schedule.enabled is false in %s", configPath)
		}

		manager, err := config.NewManager(configPath, app.logger)
		if err != nil {
			return err
		}

		run := func(ctx context.Context, end time.Time) error {
			cfg := manager.Get()
			_, err := app.runner.Run(ctx, pipeline.RunRequest{
				Scope:      cfg.Scope,
				Range:      window.NewRange(cfg.Window.AnalysisStart, end),
				Window:     cfg.Window,
				Thresholds: cfg.Thresholds,
			})
			return err
		}

		ctx := cmd.Context()
		go func() {
			if err := manager.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Warn("config watch stopped", "error", err)
			}
		}()

		runner := schedule.NewRunner(app.cfg.Schedule.Cron, run, app.logger)
		if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
