package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jdsingh122918/forge-sub001/internal/agent"
	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/dag"
	"github.com/jdsingh122918/forge-sub001/internal/db"
	"github.com/jdsingh122918/forge-sub001/internal/gate"
	"github.com/jdsingh122918/forge-sub001/internal/notify"
	"github.com/jdsingh122918/forge-sub001/internal/phase"
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
	"github.com/jdsingh122918/forge-sub001/internal/promote"
	"github.com/jdsingh122918/forge-sub001/internal/review"
	"github.com/jdsingh122918/forge-sub001/internal/workspace"
)

var (
	runConfigPath  string
	runIssueTitle  string
	runIssueBody   string
	runDSN         string
	runInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run <issue-number>",
	Short: "Execute the pipeline for an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid issue number %q", args[0])
		}

		cfg, err := loadConfig(runConfigPath)
		if err != nil {
			return err
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "  %s\n", e)
			}
			return fmt.Errorf("config has %d validation error(s)", len(errs))
		}

		// Cycle detection happens before any run state is created; a cyclic
		// graph is a configuration error, never a runtime condition.
		graph, err := dag.Build(cfg.Pipeline.Phases)
		if err != nil {
			return fmt.Errorf("phase graph: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := pipeline.DefaultStore()
		if err != nil {
			return err
		}

		var history *db.DB
		if runDSN != "" {
			history, err = db.Open(ctx, runDSN)
			if err != nil {
				return err
			}
			defer history.Close()
			if err := history.Migrate(ctx); err != nil {
				return err
			}
		}

		runID := uuid.NewString()
		ws, err := workspace.NewManager(cfg.Pipeline.Repo, workdirBase(cfg), nil).Prepare(ctx, issue, runID)
		if err != nil {
			return err
		}

		run := &pipeline.PipelineRun{
			ID:      runID,
			Issue:   issue,
			Title:   runIssueTitle,
			Body:    runIssueBody,
			Workdir: ws.Path,
			Branch:  ws.Branch,
		}
		if run.Title == "" {
			run.Title = fmt.Sprintf("issue #%d", issue)
		}
		if err := store.CreateRun(run); err != nil {
			return err
		}
		fmt.Printf("run %s created for issue #%d (workdir %s)\n", runID, issue, ws.Path)

		out := os.Stderr
		var strategy gate.Strategy
		if runInteractive || cfg.Pipeline.Autonomy == config.AutonomyInteractive {
			strategy = gate.NewInteractive(gate.NewTerminalDecider(os.Stdin, os.Stderr))
		} else {
			strategy = gate.NewAutonomous(out)
		}

		harness := agent.NewHarness(cfg.Pipeline.Agent.Command, cfg.Pipeline.Agent.Flags, cfg.Pipeline.Agent.TailLines, nil)
		reviewer := review.NewAgentReviewer(harness, 0)
		engine := phase.NewEngine(phase.EngineOpts{
			Config:   cfg.Pipeline,
			Runner:   harness,
			Strategy: strategy,
			Reviewer: reviewer,
			Store:    store,
			Notifier: notify.NewWriterNotifier(os.Stdout),
			History:  history,
			Output:   out,
		})
		scheduler := dag.NewScheduler(dag.SchedulerOpts{
			Graph:       graph,
			Executor:    engine,
			Store:       store,
			Notifier:    notify.NewWriterNotifier(os.Stdout),
			History:     history,
			MaxParallel: cfg.Pipeline.MaxParallel,
			Output:      out,
		})

		// A second interrupt kills the live subprocess directly.
		go func() {
			<-ctx.Done()
			harness.Cancel(runID)
		}()

		if err := scheduler.Run(ctx, run); err != nil {
			return err
		}

		phases, err := store.ListPhases(runID)
		if err != nil {
			return err
		}
		decision := promote.Decide(run, phases)
		run.HoldReason = decision.HoldReason
		if err := store.SaveRun(run); err != nil {
			return err
		}

		fmt.Printf("run %s: %s, disposition %s\n", runID, run.Status, decision.Disposition)
		if decision.Disposition == promote.InReview {
			fmt.Printf("  held for review: %d warning(s), %d accepted finding(s), %d fix attempt(s)\n",
				len(decision.HoldReason.Warnings), len(decision.HoldReason.ProceededFindings), decision.HoldReason.FixAttempts)
		}
		if run.Status != pipeline.RunCompleted {
			return fmt.Errorf("run finished with status %s", run.Status)
		}
		return nil
	},
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

func workdirBase(cfg *config.Config) string {
	if cfg.Pipeline.Workdir != "" {
		return cfg.Pipeline.Workdir
	}
	return os.TempDir()
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "path to pipeline config (default: forge.yaml)")
	runCmd.Flags().StringVar(&runIssueTitle, "title", "", "issue title")
	runCmd.Flags().StringVar(&runIssueBody, "body", "", "issue body")
	runCmd.Flags().StringVar(&runDSN, "dsn", "", "Postgres DSN for run history (optional)")
	runCmd.Flags().BoolVar(&runInteractive, "interactive", false, "gate every checkpoint on a terminal prompt")
}
