// Package config loads and watches the engine configuration. Configuration
// is explicit: components receive their settings and connections through
// constructors, and the process entry point owns every lifecycle.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/cohort/core/engagement"
	"github.com/adalundhe/cohort/core/window"
)

// Config is the full engine configuration for one process.
type Config struct {
	// Scope is the community the process analyzes.
	Scope string `yaml:"scope"`

	// Window is the sliding-window geometry.
	Window window.Config `yaml:"window"`

	// Thresholds parameterize the engagement classifier.
	Thresholds engagement.Thresholds `yaml:"thresholds"`

	// Storage holds the database paths.
	Storage StorageConfig `yaml:"storage"`

	// Metrics holds graph-metric settings.
	Metrics MetricsConfig `yaml:"metrics"`

	// Schedule holds the daily runner settings.
	Schedule ScheduleConfig `yaml:"schedule"`
}

// StorageConfig locates the three stores.
type StorageConfig struct {
	ActivityPath string `yaml:"activity_path"`
	HistoryPath  string `yaml:"history_path"`
	GraphPath    string `yaml:"graph_path"`
}

// MetricsConfig parameterizes the metrics engine.
type MetricsConfig struct {
	// RoleThreshold is the sender/receiver classification multiplier.
	RoleThreshold float64 `yaml:"role_threshold"`

	// MatrixWorkers bounds the per-account aggregation fan-out.
	MatrixWorkers int `yaml:"matrix_workers"`
}

// ScheduleConfig parameterizes the cron runner.
type ScheduleConfig struct {
	// Enabled turns the daily runner on.
	Enabled bool `yaml:"enabled"`

	// Cron is the schedule expression for analysis runs.
	Cron string `yaml:"cron"`
}

// Default returns the configuration the engine ships with.
func Default() Config {
	return Config{
		Window: window.Config{
			PeriodDays: 7,
			StepDays:   1,
		},
		Thresholds: engagement.DefaultThresholds(),
		Storage: StorageConfig{
			ActivityPath: "activity.db",
			HistoryPath:  "history.db",
			GraphPath:    "graph.db",
		},
		Metrics: MetricsConfig{
			RoleThreshold: 2.0,
			MatrixWorkers: 8,
		},
		Schedule: ScheduleConfig{
			Cron: "0 30 0 * * *",
		},
	}
}

// Load reads the config file at path, falling back to defaults for missing
// fields and applying environment overrides. A missing file yields the
// defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvironment(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c Config) Validate() error {
	if c.Scope == "" {
		return fmt.Errorf("config: scope is required")
	}
	if err := c.Window.Validate(); err != nil {
		return err
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Metrics.RoleThreshold <= 0 {
		return fmt.Errorf("config: metrics.role_threshold must be positive, got %v", c.Metrics.RoleThreshold)
	}
	if c.Storage.ActivityPath == "" || c.Storage.HistoryPath == "" || c.Storage.GraphPath == "" {
		return fmt.Errorf("config: all storage paths are required")
	}
	return nil
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("COHORT_SCOPE"); v != "" {
		cfg.Scope = v
	}
	if v := os.Getenv("COHORT_ACTIVITY_DB"); v != "" {
		cfg.Storage.ActivityPath = v
	}
	if v := os.Getenv("COHORT_HISTORY_DB"); v != "" {
		cfg.Storage.HistoryPath = v
	}
	if v := os.Getenv("COHORT_GRAPH_DB"); v != "" {
		cfg.Storage.GraphPath = v
	}
	if v := os.Getenv("COHORT_PERIOD_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Window.PeriodDays = n
		}
	}
	if v := os.Getenv("COHORT_STEP_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Window.StepDays = n
		}
	}
	if v := os.Getenv("COHORT_ANALYSIS_START"); v != "" {
		if t, err := time.Parse(time.DateOnly, v); err == nil {
			cfg.Window.AnalysisStart = t
		}
	}
	if v := os.Getenv("COHORT_ROLE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Metrics.RoleThreshold = f
		}
	}
}
