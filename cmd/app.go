package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/adalundhe/cohort/core/activity"
	"github.com/adalundhe/cohort/core/config"
	"github.com/adalundhe/cohort/core/engagement"
	"github.com/adalundhe/cohort/core/graphstore"
	"github.com/adalundhe/cohort/core/matrix"
	"github.com/adalundhe/cohort/core/metrics"
	"github.com/adalundhe/cohort/core/pipeline"
)

// app owns every store connection and component for one process. Components
// receive their dependencies explicitly; nothing here is a global.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	activity *activity.Store
	history  *engagement.HistoryStore
	graphs   *graphstore.Store
	runner   *pipeline.Runner
	metrics  *metrics.Engine
}

func newApp(cfgPath string) (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	activityStore, err := activity.Open(cfg.Storage.ActivityPath)
	if err != nil {
		return nil, err
	}

	historyStore, err := engagement.OpenHistory(cfg.Storage.HistoryPath)
	if err != nil {
		activityStore.Close()
		return nil, err
	}

	graphStore, err := graphstore.Open(graphstore.DefaultDBConfig(cfg.Storage.GraphPath))
	if err != nil {
		activityStore.Close()
		historyStore.Close()
		return nil, err
	}

	orchestrator, err := engagement.NewOrchestrator(engagement.OrchestratorConfig{
		Source:     activityStore,
		Classifier: engagement.NewThresholdClassifier(),
		Builder:    matrix.NewBuilder(cfg.Metrics.MatrixWorkers, logger),
		Logger:     logger,
	})
	if err != nil {
		activityStore.Close()
		historyStore.Close()
		graphStore.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		activity: activityStore,
		history:  historyStore,
		graphs:   graphStore,
		runner:   pipeline.NewRunner(historyStore, graphStore, orchestrator, logger),
		metrics:  metrics.NewEngine(graphStore, logger),
	}, nil
}

func (a *app) Close() {
	a.graphs.Close()
	a.history.Close()
	a.activity.Close()
}
