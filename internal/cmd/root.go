package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Transactional runner for workspace edit plans",
	Long: `stagehand applies plans of file edits to a workspace as a single transaction.

A plan is a set of steps with dependencies. Before anything is touched the
affected region of the workspace is snapshotted; steps then run with bounded
concurrency, each completed step is validated, and the plan either commits
or the snapshot is restored.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx. Cancelling ctx rolls back
// a plan that is still running.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default is <workspace>/stagehand.yaml)")
	pf.StringP("workspace", "w", "", "workspace root (default: discovered from the current directory)")
	pf.String("state-dir", "", "state directory, relative to the workspace (default .stagehand)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text, json")
	pf.BoolP("verbose", "v", false, "enable debug logging")
	pf.StringP("format", "o", "text", "output format: text, json, yaml")
}
