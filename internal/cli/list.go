package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return err
		}
		runs, err := store.ListRuns(pipeline.RunStatus(listStatus))
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tISSUE\tSTATUS\tPHASE\tITERS\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t#%d\t%s\t%s\t%d\t%s\n",
				r.ID, r.Issue, r.Status, r.CurrentPhase, r.Iterations, r.CreatedAt)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (queued, running, completed, failed, cancelled)")
}
