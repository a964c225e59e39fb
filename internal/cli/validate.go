package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/dag"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a pipeline config and its phase graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(validateConfigPath)
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}

		var graphErr error
		if len(errs) == 0 {
			if _, graphErr = dag.Build(cfg.Pipeline.Phases); graphErr != nil {
				fmt.Fprintf(os.Stderr, "  %v\n", graphErr)
			}
		}

		if len(errs) > 0 || graphErr != nil {
			return fmt.Errorf("config is invalid")
		}

		graph, _ := dag.Build(cfg.Pipeline.Phases)
		fmt.Printf("config OK: %d phase(s) in %d wave(s)\n", len(cfg.Pipeline.Phases), len(graph.Waves()))
		for i, wave := range graph.Waves() {
			fmt.Printf("  wave %d: %v\n", i+1, wave)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigPath, "config", "c", "", "path to pipeline config (default: forge.yaml)")
}
