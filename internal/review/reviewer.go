package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jdsingh122918/forge-sub001/internal/agent"
	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
	"github.com/jdsingh122918/forge-sub001/internal/prompt"
)

// Reviewer produces a specialist review of the work a phase has done.
type Reviewer interface {
	Review(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase, rv config.Review, workSummary string) (Result, error)
}

// IterationRunner is the slice of the agent harness a reviewer needs.
type IterationRunner interface {
	RunIteration(ctx context.Context, opts agent.RunOpts) (agent.IterationResult, error)
}

// AgentReviewer asks the coding agent to review its own phase output under a
// specialist persona and parses the JSON verdict from the output tail.
type AgentReviewer struct {
	runner  IterationRunner
	timeout time.Duration
}

// NewAgentReviewer creates an AgentReviewer. timeout bounds each review
// subprocess; zero means no limit.
func NewAgentReviewer(runner IterationRunner, timeout time.Duration) *AgentReviewer {
	return &AgentReviewer{runner: runner, timeout: timeout}
}

func (r *AgentReviewer) Review(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase, rv config.Review, workSummary string) (Result, error) {
	tmpl, err := prompt.LoadTemplate(prompt.ReviewTemplate, run.Workdir)
	if err != nil {
		return Result{}, fmt.Errorf("load review template: %w", err)
	}
	rendered, err := prompt.Render(tmpl, prompt.Vars{
		"phase_name":   ph.Name,
		"specialist":   rv.Specialist,
		"issue_number": strconv.Itoa(run.Issue),
		"issue_title":  run.Title,
		"instructions": ph.Instructions,
		"work_summary": workSummary,
	})
	if err != nil {
		return Result{}, fmt.Errorf("render review prompt: %w", err)
	}

	res, err := r.runner.RunIteration(ctx, agent.RunOpts{
		RunID:   run.ID,
		Workdir: run.Workdir,
		Prompt:  rendered,
		Timeout: r.timeout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("review iteration: %w", err)
	}
	if res.Outcome == agent.Cancelled {
		return Result{}, context.Canceled
	}
	if res.Outcome != agent.Succeeded {
		return Result{}, fmt.Errorf("reviewer %s exited with code %d", rv.Specialist, res.ExitCode)
	}

	verdict, err := parseVerdict(res.Summary)
	if err != nil {
		return Result{}, fmt.Errorf("reviewer %s: %w", rv.Specialist, err)
	}
	verdict.Specialist = rv.Specialist
	verdict.Gating = rv.Gating
	return verdict, nil
}

// parseVerdict scans the output tail from the bottom for the last line that
// unmarshals as a review verdict.
func parseVerdict(tail string) (Result, error) {
	lines := strings.Split(tail, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") || !strings.Contains(line, "confidence") {
			continue
		}
		var res Result
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			continue
		}
		if res.Confidence < 0 || res.Confidence > 1 {
			return Result{}, fmt.Errorf("verdict confidence %v out of range", res.Confidence)
		}
		return res, nil
	}
	return Result{}, fmt.Errorf("no verdict found in review output")
}
