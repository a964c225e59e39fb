package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Mark a run cancelled",
	Long: `Marks a run's stored status as cancelled. The live scheduler observes
cancellation through its own signal handling; this command covers runs whose
process has already gone away.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return err
		}
		err = store.UpdateRun(args[0], func(run *pipeline.PipelineRun) {
			if !run.Status.Terminal() {
				run.Status = pipeline.RunCancelled
			}
		})
		if err != nil {
			return err
		}
		run, err := store.GetRun(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("run %s: %s\n", run.ID, run.Status)
		return nil
	},
}
