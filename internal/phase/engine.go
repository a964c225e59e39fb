package phase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jdsingh122918/forge-sub001/internal/agent"
	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/db"
	"github.com/jdsingh122918/forge-sub001/internal/gate"
	"github.com/jdsingh122918/forge-sub001/internal/notify"
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
	"github.com/jdsingh122918/forge-sub001/internal/prompt"
	"github.com/jdsingh122918/forge-sub001/internal/review"
)

// IterationRunner is the slice of the agent harness the engine consumes.
type IterationRunner interface {
	RunIteration(ctx context.Context, opts agent.RunOpts) (agent.IterationResult, error)
}

// Engine executes one phase at a time: the iteration loop, stall handling,
// specialist reviews with arbitration, and declared sub-phases. It is safe
// for concurrent use across phases; all mutable state lives in per-call
// records and trackers.
type Engine struct {
	cfg      config.Pipeline
	runner   IterationRunner
	strategy gate.Strategy
	reviewer review.Reviewer
	arbiter  *review.Arbiter
	detector *review.Detector
	store    *pipeline.Store
	notifier notify.Notifier
	history  *db.DB
	timeout  time.Duration
	out      io.Writer
}

// EngineOpts configures an Engine.
type EngineOpts struct {
	Config   config.Pipeline
	Runner   IterationRunner
	Strategy gate.Strategy
	Reviewer review.Reviewer
	Arbiter  *review.Arbiter
	Detector *review.Detector
	Store    *pipeline.Store
	Notifier notify.Notifier
	History  *db.DB
	Output   io.Writer
}

// NewEngine creates an Engine from opts.
func NewEngine(opts EngineOpts) *Engine {
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	if opts.Detector == nil {
		opts.Detector = review.NewDetector(opts.Config.SensitivePatterns)
	}
	if opts.Arbiter == nil {
		opts.Arbiter = review.NewArbiter(opts.Config.Arbiter.ConfidenceThreshold, opts.Config.Arbiter.MaxFixAttempts)
	}
	timeout, _ := time.ParseDuration(opts.Config.Agent.Timeout)
	return &Engine{
		cfg:      opts.Config,
		runner:   opts.Runner,
		strategy: opts.Strategy,
		reviewer: opts.Reviewer,
		arbiter:  opts.Arbiter,
		detector: opts.Detector,
		store:    opts.Store,
		notifier: opts.Notifier,
		history:  opts.History,
		timeout:  timeout,
		out:      opts.Output,
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.out != nil {
		fmt.Fprintf(e.out, format+"\n", args...)
	}
}

// ExecutePhase drives one phase to a terminal status. The returned record is
// always terminal; the error reports infrastructure failures only (gate
// transport, template loading), never agent or review outcomes.
func (e *Engine) ExecutePhase(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase) (*pipeline.PipelinePhase, error) {
	cls := e.detector.Classify(ph)
	reviews := review.EffectiveReviews(ph.Reviews, e.cfg.Specialists, cls.Sensitive)
	maxFix := review.EffectiveMaxFixAttempts(e.cfg.Arbiter.MaxFixAttempts, cls.Sensitive)

	gatingCount := 0
	for _, rv := range reviews {
		if rv.Gating {
			gatingCount++
		}
	}

	record := &pipeline.PipelinePhase{
		Run:           run.ID,
		Name:          ph.Name,
		Status:        pipeline.PhaseRunning,
		Budget:        ph.Budget,
		Sensitive:     cls.Sensitive,
		GatingReviews: gatingCount,
		StartedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if cls.Sensitive {
		e.logf("phase %s classified sensitive (pattern %q): %d gating review(s), fix budget %d", ph.Name, cls.Matched, gatingCount, maxFix)
	}

	gdec, err := e.strategy.CheckPhase(ctx, run, ph)
	if err != nil {
		return nil, fmt.Errorf("phase gate: %w", err)
	}
	if !gdec.Approved {
		return e.finish(record, pipeline.PhaseFailed, fmt.Sprintf("phase gate declined: %s", gdec.Reason)), nil
	}

	e.savePhase(ctx, record)
	e.emit(ctx, notify.PhaseStarted, run.ID, ph.Name, "")

	tracker := gate.NewProgressTracker(e.cfg.StaleThreshold)
	summary, result := e.iterate(ctx, run, ph.Name, ph.Instructions, record, record.Budget, tracker)
	switch result {
	case iterCancelled:
		return e.finish(record, pipeline.PhaseCancelled, ""), nil
	case iterStopped:
		return e.finish(record, pipeline.PhaseFailed, "stopped by gate before completion"), nil
	case iterStale:
		return e.finish(record, pipeline.PhaseFailed, "no progress across repeated iterations"), nil
	case iterExhausted:
		return e.finish(record, pipeline.PhaseFailed, fmt.Sprintf("iteration budget exhausted (%d)", record.Budget)), nil
	case iterError:
		return nil, fmt.Errorf("phase %s: iteration loop failed", ph.Name)
	}

	if done, err := e.runReviews(ctx, run, ph, record, reviews, maxFix, tracker, summary); err != nil {
		return nil, err
	} else if done != nil {
		return done, nil
	}

	for _, sub := range ph.SubPhases {
		done, err := e.runDeclaredSubPhase(ctx, run, record, sub)
		if err != nil {
			return nil, err
		}
		if done != nil {
			return done, nil
		}
	}

	record.Error = ""
	return e.finish(record, pipeline.PhaseCompleted, ""), nil
}

type iterOutcome int

const (
	iterCompleted iterOutcome = iota
	iterExhausted
	iterStopped
	iterStale
	iterCancelled
	iterError
)

// iterate runs the bounded iteration loop for a phase or sub-phase. It
// returns the last successful iteration's summary and how the loop ended.
// budget is an absolute ceiling on record.Iterations, letting sub-phase work
// draw down the same counter.
func (e *Engine) iterate(ctx context.Context, run *pipeline.PipelineRun, name, instructions string, record *pipeline.PipelinePhase, budget int, tracker *gate.ProgressTracker) (string, iterOutcome) {
	var lastError, priorSummary, directive string

	for record.Iterations < budget {
		idec, err := e.strategy.CheckIteration(ctx, record, tracker)
		if err != nil {
			e.logf("iteration gate error: %v", err)
			return "", iterError
		}
		if idec.Action == gate.StopPhase {
			return "", iterStopped
		}
		if idec.Directive != "" {
			directive = idec.Directive
		}

		rendered, err := e.renderPhasePrompt(run, name, instructions, record, lastError, priorSummary, directive)
		if err != nil {
			e.logf("render prompt: %v", err)
			return "", iterError
		}
		iterNum := record.Iterations + 1
		e.savePrompt(run.ID, record.Name, iterNum, rendered)

		res, err := e.runner.RunIteration(ctx, agent.RunOpts{
			RunID:   run.ID,
			Workdir: run.Workdir,
			Prompt:  rendered,
			Timeout: e.timeout,
			OnEvent: e.eventSink(run.ID, name),
		})
		if err != nil {
			e.logf("run iteration: %v", err)
			return "", iterError
		}
		record.Iterations++
		directive = ""
		e.saveTail(run.ID, record.Name, iterNum, res.Summary)
		e.savePhase(ctx, record)
		e.emit(ctx, notify.IterationDone, run.ID, record.Name, fmt.Sprintf("iteration %d: %s", iterNum, res.Outcome))

		tracker.Observe(gate.ChangeStats{FilesChanged: res.FilesChanged})

		switch res.Outcome {
		case agent.Cancelled:
			return "", iterCancelled
		case agent.Succeeded:
			return res.Summary, iterCompleted
		}

		// Failed iteration: carry the error into the next prompt and let the
		// normal decision flow absorb it.
		lastError = res.Summary
		priorSummary = ""
		e.logf("phase %s iteration %d failed (exit %d)", name, iterNum, res.ExitCode)

		if tracker.Stale() {
			sdec, err := e.strategy.CheckStaleProgress(ctx, record, tracker)
			if err != nil {
				e.logf("stale gate error: %v", err)
				return "", iterError
			}
			if sdec.Action == gate.StopPhase {
				return "", iterStale
			}
			if sdec.Directive != "" {
				directive = sdec.Directive
				e.emit(ctx, notify.StalePivot, run.ID, record.Name, "pivot directive issued")
			}
		}
	}
	return "", iterExhausted
}

// runReviews executes the phase's review set. A non-nil record return means
// the phase reached a terminal status during review.
func (e *Engine) runReviews(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase, record *pipeline.PipelinePhase, reviews []config.Review, maxFix int, tracker *gate.ProgressTracker, workSummary string) (*pipeline.PipelinePhase, error) {
	for _, rv := range reviews {
		result, err := e.reviewer.Review(ctx, run, ph, rv, workSummary)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return e.finish(record, pipeline.PhaseCancelled, ""), nil
			}
			if rv.Gating {
				return e.finish(record, pipeline.PhaseFailed, fmt.Sprintf("gating review %s: %v", rv.Specialist, err)), nil
			}
			record.Warnings = append(record.Warnings, fmt.Sprintf("%s review did not complete: %v", rv.Specialist, err))
			continue
		}

		if !rv.Gating {
			for _, f := range result.Findings {
				record.Warnings = append(record.Warnings, fmt.Sprintf("%s: [%s] %s", rv.Specialist, f.Severity, f.Description))
			}
			continue
		}
		if result.Clean() {
			continue
		}

		done, err := e.arbitrate(ctx, run, ph, record, rv, result, maxFix, tracker)
		if err != nil || done != nil {
			return done, err
		}
	}
	return nil, nil
}

// arbitrate resolves a gating review with findings through the verdict loop.
// The Fix branch is a bounded iteration, not recursion: each pass increments
// the attempt counter and the arbiter's own rules guarantee termination.
func (e *Engine) arbitrate(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase, record *pipeline.PipelinePhase, rv config.Review, result review.Result, maxFix int, tracker *gate.ProgressTracker) (*pipeline.PipelinePhase, error) {
	for {
		verdict := e.arbiter.Decide(result, record.FixAttempts, maxFix, record.RemainingBudget())
		e.emit(ctx, notify.ReviewVerdict, run.ID, record.Name, fmt.Sprintf("%s: %s (confidence %.2f)", rv.Specialist, verdict, result.Confidence))
		if err := e.history.LogArbiterEvent(context.WithoutCancel(ctx), run.ID, record.Name, rv.Specialist, string(verdict), result.Confidence, record.FixAttempts, result.Summary); err != nil {
			e.logf("warning: log arbiter event: %v", err)
		}

		switch verdict {
		case review.Proceed:
			for _, f := range result.Findings {
				record.ProceededFindings = append(record.ProceededFindings, fmt.Sprintf("%s: [%s] %s", rv.Specialist, f.Severity, f.Description))
			}
			return nil, nil

		case review.FailPhase:
			return e.finish(record, pipeline.PhaseFailed, fmt.Sprintf("review %s failed arbitration: %s", rv.Specialist, result.FindingsText())), nil

		case review.Fix:
			record.FixAttempts++
			res, err := e.runFixIteration(ctx, run, ph, record, rv, result, maxFix)
			if err != nil {
				return nil, err
			}
			tracker.Observe(gate.ChangeStats{FilesChanged: res.FilesChanged})
			if res.Outcome == agent.Cancelled {
				return e.finish(record, pipeline.PhaseCancelled, ""), nil
			}

			// Re-review the corrected work and feed the new result back into
			// the same decision.
			next, rerr := e.reviewer.Review(ctx, run, ph, rv, res.Summary)
			if rerr != nil {
				if errors.Is(rerr, context.Canceled) {
					return e.finish(record, pipeline.PhaseCancelled, ""), nil
				}
				return e.finish(record, pipeline.PhaseFailed, fmt.Sprintf("re-review after fix %s: %v", rv.Specialist, rerr)), nil
			}
			if next.Clean() {
				return nil, nil
			}
			result = next
		}
	}
}

func (e *Engine) runFixIteration(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase, record *pipeline.PipelinePhase, rv config.Review, result review.Result, maxFix int) (agent.IterationResult, error) {
	tmpl, err := prompt.LoadTemplate(prompt.FixTemplate, run.Workdir)
	if err != nil {
		return agent.IterationResult{}, fmt.Errorf("load fix template: %w", err)
	}
	rendered, err := prompt.Render(tmpl, prompt.Vars{
		"phase_name":       ph.Name,
		"issue_number":     strconv.Itoa(run.Issue),
		"issue_title":      run.Title,
		"findings":         result.FindingsText(),
		"review_summary":   result.Summary,
		"fix_attempt":      strconv.Itoa(record.FixAttempts),
		"max_fix_attempts": strconv.Itoa(maxFix),
	})
	if err != nil {
		return agent.IterationResult{}, fmt.Errorf("render fix prompt: %w", err)
	}

	iterNum := record.Iterations + 1
	e.savePrompt(run.ID, record.Name, iterNum, rendered)

	res, err := e.runner.RunIteration(ctx, agent.RunOpts{
		RunID:   run.ID,
		Workdir: run.Workdir,
		Prompt:  rendered,
		Timeout: e.timeout,
		OnEvent: e.eventSink(run.ID, ph.Name),
	})
	if err != nil {
		return agent.IterationResult{}, fmt.Errorf("fix iteration: %w", err)
	}
	record.Iterations++
	e.saveTail(run.ID, record.Name, iterNum, res.Summary)
	e.savePhase(ctx, record)
	return res, nil
}

// runDeclaredSubPhase gates and executes one statically declared child. A
// non-nil record return means the parent phase reached a terminal status.
func (e *Engine) runDeclaredSubPhase(ctx context.Context, run *pipeline.PipelineRun, record *pipeline.PipelinePhase, sub config.SubPhase) (*pipeline.PipelinePhase, error) {
	gdec, err := e.strategy.CheckSubPhase(ctx, record, sub)
	if err != nil {
		return nil, fmt.Errorf("sub-phase gate: %w", err)
	}
	if !gdec.Approved {
		e.logf("sub-phase %s of %s declined: %s", sub.Name, record.Name, gdec.Reason)
		record.Warnings = append(record.Warnings, fmt.Sprintf("sub-phase %s skipped: %s", sub.Name, gdec.Reason))
		return nil, nil
	}

	// Children draw on their own budget, tracked as a child record but
	// reported through the parent.
	child := &pipeline.PipelinePhase{
		Run:       run.ID,
		Name:      record.Name + "/" + sub.Name,
		Status:    pipeline.PhaseRunning,
		Budget:    sub.Budget,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	tracker := gate.NewProgressTracker(e.cfg.StaleThreshold)
	_, result := e.iterate(ctx, run, sub.Name, sub.Instructions, child, sub.Budget, tracker)
	switch result {
	case iterCancelled:
		e.finish(child, pipeline.PhaseCancelled, "")
		return e.finish(record, pipeline.PhaseCancelled, ""), nil
	case iterCompleted:
		e.finish(child, pipeline.PhaseCompleted, "")
		return nil, nil
	case iterError:
		return nil, fmt.Errorf("sub-phase %s: iteration loop failed", sub.Name)
	default:
		e.finish(child, pipeline.PhaseFailed, "sub-phase did not complete")
		return e.finish(record, pipeline.PhaseFailed, fmt.Sprintf("sub-phase %s did not complete", sub.Name)), nil
	}
}

// SpawnSubPhase handles a dynamic mid-phase request for child work. The
// spawn gate enforces the hard budget ceiling; approved children consume the
// parent's remaining iteration budget.
func (e *Engine) SpawnSubPhase(ctx context.Context, run *pipeline.PipelineRun, record *pipeline.PipelinePhase, req gate.SubPhaseRequest) (bool, error) {
	sdec, err := e.strategy.CheckSubPhaseSpawn(ctx, record, req)
	if err != nil {
		return false, fmt.Errorf("spawn gate: %w", err)
	}
	if !sdec.Approved {
		e.logf("sub-phase spawn %q rejected: %s", req.Name, sdec.Reason)
		return false, nil
	}

	tracker := gate.NewProgressTracker(e.cfg.StaleThreshold)
	ceiling := record.Iterations + sdec.Budget
	if ceiling > record.Budget {
		ceiling = record.Budget
	}
	_, result := e.iterate(ctx, run, req.Name, req.Reason, record, ceiling, tracker)
	switch result {
	case iterCompleted:
		return true, nil
	case iterError:
		return false, fmt.Errorf("sub-phase %s: iteration loop failed", req.Name)
	default:
		return false, nil
	}
}

func (e *Engine) renderPhasePrompt(run *pipeline.PipelineRun, name, instructions string, record *pipeline.PipelinePhase, lastError, priorSummary, directive string) (string, error) {
	tmpl, err := prompt.LoadTemplate(prompt.PhaseTemplate, run.Workdir)
	if err != nil {
		return "", fmt.Errorf("load phase template: %w", err)
	}
	return prompt.Render(tmpl, prompt.Vars{
		"phase_name":      name,
		"issue_number":    strconv.Itoa(run.Issue),
		"issue_title":     run.Title,
		"issue_body":      run.Body,
		"instructions":    instructions,
		"workdir":         run.Workdir,
		"iteration":       strconv.Itoa(record.Iterations + 1),
		"budget":          strconv.Itoa(record.Budget),
		"last_error":      lastError,
		"prior_summary":   priorSummary,
		"pivot_directive": directive,
	})
}

// eventSink forwards structured agent events to the progress log.
func (e *Engine) eventSink(runID, phaseName string) func(agent.Event) {
	return func(ev agent.Event) {
		if !ev.Structured() {
			return
		}
		switch ev.Type {
		case agent.EventProgress:
			e.logf("[%s] %s progress: iteration %d, %.0f%%", runID, phaseName, ev.Iteration, ev.Percent)
		case agent.EventPhase:
			e.logf("[%s] %s agent phase %q status %s", runID, phaseName, ev.Phase, ev.Status)
		}
	}
}

func (e *Engine) finish(record *pipeline.PipelinePhase, status pipeline.PhaseStatus, errText string) *pipeline.PipelinePhase {
	record.Status = status
	record.Error = errText
	record.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	e.savePhase(context.Background(), record)
	return record
}

func (e *Engine) savePrompt(runID, phaseName string, iteration int, rendered string) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePrompt(runID, phaseName, iteration, rendered); err != nil {
		e.logf("warning: save prompt: %v", err)
	}
}

func (e *Engine) saveTail(runID, phaseName string, iteration int, tail string) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOutputTail(runID, phaseName, iteration, tail); err != nil {
		e.logf("warning: save output tail: %v", err)
	}
}

func (e *Engine) savePhase(ctx context.Context, record *pipeline.PipelinePhase) {
	if e.store != nil {
		if err := e.store.SavePhase(record); err != nil {
			e.logf("warning: save phase %s: %v", record.Name, err)
		}
	}
	if err := e.history.SavePhaseSnapshot(context.WithoutCancel(ctx), record); err != nil {
		e.logf("warning: db phase snapshot: %v", err)
	}
}

func (e *Engine) emit(ctx context.Context, typ notify.EventType, runID, phaseName, msg string) {
	e.notifier.Notify(notify.Event{Type: typ, RunID: runID, Phase: phaseName, Message: msg})
	if err := e.history.LogRunEvent(context.WithoutCancel(ctx), runID, phaseName, string(typ), msg); err != nil {
		e.logf("warning: db event log: %v", err)
	}
}
