package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run and its phase records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return err
		}
		run, err := store.GetRun(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("run %s\n", run.ID)
		fmt.Printf("  issue:      #%d %s\n", run.Issue, run.Title)
		fmt.Printf("  status:     %s\n", run.Status)
		fmt.Printf("  iterations: %d\n", run.Iterations)
		if run.Branch != "" {
			fmt.Printf("  branch:     %s\n", run.Branch)
		}
		if run.Error != "" {
			fmt.Printf("  error:      %s\n", run.Error)
		}
		if !run.HoldReason.Empty() {
			fmt.Printf("  held for review: %d warning(s), %d accepted finding(s), %d fix attempt(s)\n",
				len(run.HoldReason.Warnings), len(run.HoldReason.ProceededFindings), run.HoldReason.FixAttempts)
		}

		phases, err := store.ListPhases(run.ID)
		if err != nil {
			return err
		}
		for _, ph := range phases {
			fmt.Printf("  phase %-20s %-10s %d/%d iteration(s)", ph.Name, ph.Status, ph.Iterations, ph.Budget)
			if ph.Sensitive {
				fmt.Printf(" [sensitive]")
			}
			if ph.Error != "" {
				fmt.Printf("  %s", ph.Error)
			}
			fmt.Println()
		}
		return nil
	},
}
