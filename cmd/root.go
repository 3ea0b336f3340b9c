package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cohort",
	Short: "Cohort - community engagement and relationship analytics",
	Long:  `Cohort computes per-account engagement states and social-interaction graphs over sliding time windows, then derives graph metrics from them.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "cohort.yaml", "path to the configuration file")
}

func Execute() error {
	return rootCmd.Execute()
}
