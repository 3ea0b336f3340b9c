package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/cohort/core/metrics"
)

var metricsRecomputeDates []string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Compute and persist graph metrics for the configured scope",
	Long: `Computes degree centrality (in, out and undirected), the per-date
decentralization score and sender/receiver roles from the persisted
interaction graphs, skipping dates already computed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer app.Close()

		recompute, err := parseDates(metricsRecomputeDates)
		if err != nil {
			return err
		}

		return runMetrics(cmd.Context(), app, recompute)
	},
}

func init() {
	metricsCmd.Flags().StringArrayVar(&metricsRecomputeDates, "recompute-date", nil,
		"date (YYYY-MM-DD) to recompute even if already persisted; repeatable")
	rootCmd.AddCommand(metricsCmd)
}

func parseDates(raw []string) ([]time.Time, error) {
	dates := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("parse --recompute-date %q: %w", s, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func runMetrics(ctx context.Context, app *app, recompute []time.Time) error {
	scope := app.cfg.Scope

	var inRecords, outRecords []metrics.DegreeRecord
	for _, direction := range []metrics.Direction{metrics.DirectionIn, metrics.DirectionOut, metrics.DirectionUndirected} {
		opts := metrics.Options{Direction: direction, Weighted: true, PreserveParallel: true}
		records, err := app.metrics.DegreeCentrality(ctx, scope, opts, recompute)
		if err != nil {
			return err
		}
		if err := app.metrics.PersistDegrees(ctx, app.graphs, scope, opts, records, recompute); err != nil {
			return err
		}
		fmt.Printf("degree centrality (%s): %d records\n", direction, len(records))

		switch direction {
		case metrics.DirectionIn:
			inRecords = records
		case metrics.DirectionOut:
			outRecords = records
		}
	}

	scores, err := app.metrics.DecentralizationForScope(ctx, scope, recompute)
	if err != nil {
		return err
	}
	if err := app.metrics.PersistDecentralization(ctx, app.graphs, scope, scores, recompute); err != nil {
		return err
	}
	fmt.Printf("decentralization: %d dates\n", len(scores))

	roles, err := metrics.Roles(inRecords, outRecords, app.cfg.Metrics.RoleThreshold)
	if err != nil {
		return err
	}
	for _, rec := range roles {
		fmt.Printf("%s %s %s\n", rec.Date.Format(time.DateOnly), rec.AccountID, rec.Role)
	}
	return nil
}
