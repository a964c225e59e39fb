package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forge — an autonomous pipeline-execution engine",
	Long: `forge decomposes a unit of work into a dependency graph of phases and
drives each phase through iterative execution by an external coding agent,
arbitrating review findings and deciding the final disposition without
human intervention.

Run state is stored in ~/.forge/runs as JSON snapshots; an optional
Postgres database keeps the event history.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
}
