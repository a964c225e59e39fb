package phase

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jdsingh122918/forge-sub001/internal/agent"
	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/gate"
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
	"github.com/jdsingh122918/forge-sub001/internal/review"
)

// fakeRunner returns scripted iteration results and records every prompt.
type fakeRunner struct {
	mu      sync.Mutex
	results []agent.IterationResult
	prompts []string
}

func (f *fakeRunner) RunIteration(ctx context.Context, opts agent.RunOpts) (agent.IterationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, opts.Prompt)
	if len(f.results) == 0 {
		return agent.IterationResult{Outcome: agent.Succeeded, Summary: "default ok"}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

// fakeReviewer returns scripted review results in order.
type fakeReviewer struct {
	results []review.Result
	calls   int
}

func (f *fakeReviewer) Review(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase, rv config.Review, workSummary string) (review.Result, error) {
	if f.calls >= len(f.results) {
		f.calls++
		return review.Result{Specialist: rv.Specialist, Gating: rv.Gating, Confidence: 1}, nil
	}
	res := f.results[f.calls]
	f.calls++
	res.Specialist = rv.Specialist
	res.Gating = rv.Gating
	return res, nil
}

func testConfig() config.Pipeline {
	return config.Pipeline{
		Name:           "test",
		StaleThreshold: 3,
		Specialists:    []string{"security", "style"},
		Arbiter:        config.Arbiter{ConfidenceThreshold: 0.7, MaxFixAttempts: 2},
		Agent:          config.Agent{Command: "fake", TailLines: 40},
	}
}

func newTestEngine(t *testing.T, cfg config.Pipeline, runner *fakeRunner, reviewer review.Reviewer) *Engine {
	t.Helper()
	return NewEngine(EngineOpts{
		Config:   cfg,
		Runner:   runner,
		Strategy: gate.NewAutonomous(nil),
		Reviewer: reviewer,
		Store:    pipeline.NewStore(t.TempDir()),
	})
}

func testRun() *pipeline.PipelineRun {
	return &pipeline.PipelineRun{ID: "r1", Issue: 5, Title: "wire the feature", Workdir: "/tmp/ws"}
}

func TestExecutePhase_SucceedsWithCleanReview(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Succeeded, Summary: "implemented", FilesChanged: 4},
	}}
	reviewer := &fakeReviewer{results: []review.Result{
		{Confidence: 0.9},
	}}
	e := newTestEngine(t, testConfig(), runner, reviewer)

	ph := config.Phase{Name: "implement", Budget: 5, Instructions: "build it",
		Reviews: []config.Review{{Specialist: "security", Gating: true}}}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseCompleted {
		t.Errorf("expected completed, got %s (%s)", record.Status, record.Error)
	}
	if record.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", record.Iterations)
	}
	if record.FixAttempts != 0 || len(record.Warnings) != 0 {
		t.Errorf("clean run should have no review trail: %+v", record)
	}
	if reviewer.calls != 1 {
		t.Errorf("expected 1 review, got %d", reviewer.calls)
	}
}

func TestExecutePhase_FailedIterationsFeedErrorForward(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Failed, Summary: "compile error: missing import", ExitCode: 1, FilesChanged: 1},
		{Outcome: agent.Succeeded, Summary: "fixed and done", FilesChanged: 1},
	}}
	e := newTestEngine(t, testConfig(), runner, &fakeReviewer{})

	ph := config.Phase{Name: "implement", Budget: 5, Instructions: "build it"}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseCompleted {
		t.Errorf("expected completed, got %s (%s)", record.Status, record.Error)
	}
	if record.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", record.Iterations)
	}
	if !strings.Contains(runner.prompts[1], "compile error: missing import") {
		t.Error("second prompt should carry the previous iteration's error")
	}
}

func TestExecutePhase_BudgetExhaustion(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Failed, Summary: "fail 1", FilesChanged: 1},
		{Outcome: agent.Failed, Summary: "fail 2", FilesChanged: 1},
	}}
	e := newTestEngine(t, testConfig(), runner, &fakeReviewer{})

	ph := config.Phase{Name: "implement", Budget: 2}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseFailed {
		t.Errorf("expected failed, got %s", record.Status)
	}
	if !strings.Contains(record.Error, "budget exhausted") {
		t.Errorf("expected budget exhaustion reason, got %q", record.Error)
	}
	if record.Iterations != 2 {
		t.Errorf("iteration count must not exceed budget: %d", record.Iterations)
	}
}

func TestExecutePhase_StalePivotThenStop(t *testing.T) {
	// Six failing no-change iterations with threshold 3: stall at 3 triggers
	// the pivot, stall at 6 stops the phase.
	noChange := agent.IterationResult{Outcome: agent.Failed, Summary: "spinning"}
	runner := &fakeRunner{results: []agent.IterationResult{
		noChange, noChange, noChange, noChange, noChange, noChange, noChange,
	}}
	e := newTestEngine(t, testConfig(), runner, &fakeReviewer{})

	ph := config.Phase{Name: "implement", Budget: 10}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseFailed {
		t.Errorf("expected failed, got %s", record.Status)
	}
	if !strings.Contains(record.Error, "no progress") {
		t.Errorf("expected a non-progress reason, got %q", record.Error)
	}
	if record.Iterations != 6 {
		t.Errorf("expected 6 iterations (stop at second stall), got %d", record.Iterations)
	}
	if !strings.Contains(runner.prompts[3], "Course Correction") {
		t.Error("iteration after the first stall should carry the pivot directive")
	}
}

func TestExecutePhase_ArbiterFixLoop(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Succeeded, Summary: "work done", FilesChanged: 2},
		{Outcome: agent.Succeeded, Summary: "findings addressed", FilesChanged: 1},
	}}
	reviewer := &fakeReviewer{results: []review.Result{
		{Confidence: 0.5, Remediable: true, Findings: []review.Finding{
			{Severity: review.SeverityMajor, Description: "missing input validation"},
		}},
		{Confidence: 0.9}, // re-review after fix: clean
	}}
	e := newTestEngine(t, testConfig(), runner, reviewer)

	ph := config.Phase{Name: "implement", Budget: 5,
		Reviews: []config.Review{{Specialist: "security", Gating: true}}}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseCompleted {
		t.Errorf("expected completed, got %s (%s)", record.Status, record.Error)
	}
	if record.FixAttempts != 1 {
		t.Errorf("expected 1 fix attempt, got %d", record.FixAttempts)
	}
	if record.Iterations != 2 {
		t.Errorf("fix iteration should consume budget: got %d iterations", record.Iterations)
	}
	if !strings.Contains(runner.prompts[1], "missing input validation") {
		t.Error("fix prompt should carry the findings")
	}
}

func TestExecutePhase_ArbiterFailPhase(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Succeeded, Summary: "work done", FilesChanged: 2},
	}}
	reviewer := &fakeReviewer{results: []review.Result{
		{Confidence: 0.3, Remediable: false, Findings: []review.Finding{
			{Severity: review.SeverityCritical, Description: "secrets committed"},
		}},
	}}
	e := newTestEngine(t, testConfig(), runner, reviewer)

	ph := config.Phase{Name: "implement", Budget: 5,
		Reviews: []config.Review{{Specialist: "security", Gating: true}}}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseFailed {
		t.Errorf("expected failed, got %s", record.Status)
	}
	if !strings.Contains(record.Error, "secrets committed") {
		t.Errorf("failure should carry the findings, got %q", record.Error)
	}
}

func TestExecutePhase_ArbiterProceedRecordsFindings(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Succeeded, Summary: "work done", FilesChanged: 2},
	}}
	reviewer := &fakeReviewer{results: []review.Result{
		{Confidence: 0.85, Remediable: true, Findings: []review.Finding{
			{Severity: review.SeverityMinor, Description: "inconsistent naming"},
		}},
	}}
	e := newTestEngine(t, testConfig(), runner, reviewer)

	ph := config.Phase{Name: "implement", Budget: 5,
		Reviews: []config.Review{{Specialist: "style", Gating: true}}}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseCompleted {
		t.Errorf("expected completed, got %s", record.Status)
	}
	if len(record.ProceededFindings) != 1 {
		t.Fatalf("expected 1 proceeded finding, got %d", len(record.ProceededFindings))
	}
	if !strings.Contains(record.ProceededFindings[0], "inconsistent naming") {
		t.Errorf("unexpected finding text %q", record.ProceededFindings[0])
	}
}

func TestExecutePhase_NonGatingFindingsBecomeWarnings(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Succeeded, Summary: "work done", FilesChanged: 2},
	}}
	reviewer := &fakeReviewer{results: []review.Result{
		{Confidence: 0.4, Findings: []review.Finding{
			{Severity: review.SeverityMajor, Description: "slow query"},
		}},
	}}
	e := newTestEngine(t, testConfig(), runner, reviewer)

	ph := config.Phase{Name: "implement", Budget: 5,
		Reviews: []config.Review{{Specialist: "style", Gating: false}}}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseCompleted {
		t.Errorf("non-gating findings must not block completion, got %s", record.Status)
	}
	if len(record.Warnings) != 1 || !strings.Contains(record.Warnings[0], "slow query") {
		t.Errorf("expected finding recorded as warning, got %v", record.Warnings)
	}
}

func TestExecutePhase_SensitiveForcesSpecialistsAndDoublesFixBudget(t *testing.T) {
	cfg := testConfig()
	cfg.SensitivePatterns = []string{"auth"}

	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Succeeded, Summary: "work done", FilesChanged: 2},
	}}
	reviewer := &fakeReviewer{}
	e := newTestEngine(t, cfg, runner, reviewer)

	// Declared with a single non-gating review; sensitivity overrides it.
	ph := config.Phase{Name: "auth-endpoints", Budget: 5,
		Reviews: []config.Review{{Specialist: "style", Gating: false}}}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !record.Sensitive {
		t.Error("phase should be classified sensitive")
	}
	if record.GatingReviews != 2 {
		t.Errorf("expected both specialists forced gating, got %d", record.GatingReviews)
	}
	if reviewer.calls != 2 {
		t.Errorf("expected 2 reviews, got %d", reviewer.calls)
	}
	if record.Status != pipeline.PhaseCompleted {
		t.Errorf("expected completed, got %s", record.Status)
	}
}

func TestExecutePhase_SensitiveFixPromptShowsDoubledBudget(t *testing.T) {
	cfg := testConfig()
	cfg.SensitivePatterns = []string{"auth"}

	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Succeeded, Summary: "work done", FilesChanged: 2},
		{Outcome: agent.Succeeded, Summary: "findings addressed", FilesChanged: 1},
	}}
	reviewer := &fakeReviewer{results: []review.Result{
		{Confidence: 0.5, Remediable: true, Findings: []review.Finding{
			{Severity: review.SeverityMajor, Description: "token not validated"},
		}},
		{Confidence: 0.9}, // re-review after fix: clean
	}}
	e := newTestEngine(t, cfg, runner, reviewer)

	ph := config.Phase{Name: "auth-endpoints", Budget: 8}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseCompleted {
		t.Errorf("expected completed, got %s (%s)", record.Status, record.Error)
	}
	if !strings.Contains(runner.prompts[1], "Fix attempt 1 of 4") {
		t.Errorf("sensitive fix prompt should show the doubled attempt ceiling, got %q", runner.prompts[1])
	}
}

func TestExecutePhase_CancelledIteration(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Cancelled},
	}}
	e := newTestEngine(t, testConfig(), runner, &fakeReviewer{})

	ph := config.Phase{Name: "implement", Budget: 5}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseCancelled {
		t.Errorf("expected cancelled, got %s", record.Status)
	}
	if record.Error != "" {
		t.Errorf("cancellation is not an error, got %q", record.Error)
	}
}

func TestExecutePhase_DeclaredSubPhaseRuns(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Succeeded, Summary: "parent done", FilesChanged: 2},
		{Outcome: agent.Succeeded, Summary: "docs updated", FilesChanged: 1},
	}}
	e := newTestEngine(t, testConfig(), runner, &fakeReviewer{})

	ph := config.Phase{Name: "implement", Budget: 5,
		SubPhases: []config.SubPhase{{Name: "docs", Budget: 2, Instructions: "update the docs"}}}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseCompleted {
		t.Errorf("expected completed, got %s (%s)", record.Status, record.Error)
	}
	if len(runner.prompts) != 2 {
		t.Fatalf("expected parent + sub-phase iterations, got %d", len(runner.prompts))
	}
	if !strings.Contains(runner.prompts[1], "update the docs") {
		t.Error("sub-phase prompt should carry its own instructions")
	}
}

func TestExecutePhase_FailingSubPhaseFailsParent(t *testing.T) {
	runner := &fakeRunner{results: []agent.IterationResult{
		{Outcome: agent.Succeeded, Summary: "parent done", FilesChanged: 2},
		{Outcome: agent.Failed, Summary: "docs broke", FilesChanged: 1},
		{Outcome: agent.Failed, Summary: "docs broke again", FilesChanged: 1},
	}}
	e := newTestEngine(t, testConfig(), runner, &fakeReviewer{})

	ph := config.Phase{Name: "implement", Budget: 5,
		SubPhases: []config.SubPhase{{Name: "docs", Budget: 2}}}
	record, err := e.ExecutePhase(context.Background(), testRun(), ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != pipeline.PhaseFailed {
		t.Errorf("expected failed parent, got %s", record.Status)
	}
	if !strings.Contains(record.Error, "docs") {
		t.Errorf("failure should name the sub-phase, got %q", record.Error)
	}
}

func TestSpawnSubPhase_BudgetCeiling(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestEngine(t, testConfig(), runner, &fakeReviewer{})

	run := testRun()
	record := &pipeline.PipelinePhase{Run: "r1", Name: "implement", Budget: 5, Iterations: 3}

	ok, err := e.SpawnSubPhase(context.Background(), run, record, gate.SubPhaseRequest{Name: "extra", Budget: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("over-budget spawn must be rejected")
	}
	if len(runner.prompts) != 0 {
		t.Error("rejected spawn must not run iterations")
	}

	ok, err = e.SpawnSubPhase(context.Background(), run, record, gate.SubPhaseRequest{Name: "extra", Budget: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("in-budget spawn should run and succeed")
	}
	if record.Iterations <= 3 {
		t.Error("spawned work must consume the parent's budget")
	}
}
