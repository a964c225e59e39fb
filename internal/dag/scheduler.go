package dag

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/db"
	"github.com/jdsingh122918/forge-sub001/internal/notify"
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

// PhaseExecutor runs a single phase to a terminal status. Implementations
// must honor ctx cancellation and must never return a record with a
// non-terminal status.
type PhaseExecutor interface {
	ExecutePhase(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase) (*pipeline.PipelinePhase, error)
}

// Scheduler drives a run through the phase graph wave by wave. Phases within
// a wave execute in parallel up to MaxParallel; a wave must fully finish
// before the next begins.
type Scheduler struct {
	graph       *Graph
	executor    PhaseExecutor
	store       *pipeline.Store
	notifier    notify.Notifier
	history     *db.DB // optional, nil-safe
	maxParallel int
	out         io.Writer
}

// SchedulerOpts configures a Scheduler.
type SchedulerOpts struct {
	Graph       *Graph
	Executor    PhaseExecutor
	Store       *pipeline.Store
	Notifier    notify.Notifier
	History     *db.DB
	MaxParallel int
	Output      io.Writer
}

// NewScheduler creates a Scheduler from opts.
func NewScheduler(opts SchedulerOpts) *Scheduler {
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	return &Scheduler{
		graph:       opts.Graph,
		executor:    opts.Executor,
		store:       opts.Store,
		notifier:    opts.Notifier,
		history:     opts.History,
		maxParallel: opts.MaxParallel,
		out:         opts.Output,
	}
}

func (s *Scheduler) logf(format string, args ...interface{}) {
	if s.out != nil {
		fmt.Fprintf(s.out, format+"\n", args...)
	}
}

// Run executes the full phase graph for a run and drives the run to a
// terminal status. The returned error reports infrastructure failures only;
// phase failures surface through the run status.
func (s *Scheduler) Run(ctx context.Context, run *pipeline.PipelineRun) error {
	run.Status = pipeline.RunRunning
	if err := s.saveRun(ctx, run); err != nil {
		return err
	}
	s.emit(ctx, notify.RunStarted, run.ID, "", fmt.Sprintf("pipeline started: %s", run.Title))

	// results guards the per-phase outcome map; wave goroutines and the
	// dependency check both touch it.
	var mu sync.Mutex
	results := make(map[string]pipeline.PhaseStatus)

	for i, wave := range s.graph.Waves() {
		s.logf("wave %d: %v", i+1, wave)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.maxParallel)

		for _, name := range wave {
			ph, _ := s.graph.Phase(name)

			if ctx.Err() != nil {
				s.cancelPhase(ctx, run, ph, results, &mu)
				continue
			}

			mu.Lock()
			blocked := s.failedDependency(ph, results)
			mu.Unlock()
			if blocked != "" {
				s.skipPhase(ctx, run, ph, blocked, results, &mu)
				continue
			}

			g.Go(func() error {
				record, err := s.executor.ExecutePhase(gctx, run, ph)
				if err != nil {
					// Infrastructure failure: record the phase as failed so
					// dependents do not run on a half-executed ancestor.
					record = &pipeline.PipelinePhase{
						Run:        run.ID,
						Name:       ph.Name,
						Status:     pipeline.PhaseFailed,
						Budget:     ph.Budget,
						Error:      err.Error(),
						FinishedAt: time.Now().UTC().Format(time.RFC3339),
					}
				}

				mu.Lock()
				results[ph.Name] = record.Status
				run.CurrentPhase = ph.Name
				run.Iterations += record.Iterations
				if record.Status == pipeline.PhaseFailed && run.Error == "" {
					run.Error = fmt.Sprintf("phase %s: %s", record.Name, record.Error)
				}
				mu.Unlock()

				s.finishPhase(ctx, run, record)
				return nil
			})
		}

		// Wave barrier: nothing in wave i+1 starts until all of wave i is
		// terminal, even when some phases failed.
		if err := g.Wait(); err != nil {
			return err
		}
		if err := s.saveRun(ctx, run); err != nil {
			return err
		}
	}

	s.finishRun(ctx, run, results)
	return s.saveRun(ctx, run)
}

// failedDependency returns the name of the first dependency that did not
// complete, or "" if the phase is clear to run.
func (s *Scheduler) failedDependency(ph config.Phase, results map[string]pipeline.PhaseStatus) string {
	for _, dep := range ph.DependsOn {
		if results[dep] != pipeline.PhaseCompleted {
			return dep
		}
	}
	return ""
}

func (s *Scheduler) skipPhase(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase, dep string, results map[string]pipeline.PhaseStatus, mu *sync.Mutex) {
	record := &pipeline.PipelinePhase{
		Run:        run.ID,
		Name:       ph.Name,
		Status:     pipeline.PhaseFailed,
		Budget:     ph.Budget,
		Error:      fmt.Sprintf("dependency %q did not complete", dep),
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
	}
	mu.Lock()
	results[ph.Name] = record.Status
	if run.Error == "" {
		run.Error = fmt.Sprintf("phase %s: %s", ph.Name, record.Error)
	}
	mu.Unlock()

	s.logf("phase %s skipped: dependency %s did not complete", ph.Name, dep)
	s.savePhase(ctx, record)
	s.emit(ctx, notify.PhaseSkipped, run.ID, ph.Name, record.Error)
}

func (s *Scheduler) cancelPhase(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase, results map[string]pipeline.PhaseStatus, mu *sync.Mutex) {
	record := &pipeline.PipelinePhase{
		Run:        run.ID,
		Name:       ph.Name,
		Status:     pipeline.PhaseCancelled,
		Budget:     ph.Budget,
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
	}
	mu.Lock()
	results[ph.Name] = record.Status
	mu.Unlock()

	s.savePhase(ctx, record)
	s.emit(ctx, notify.PhaseSkipped, run.ID, ph.Name, "run cancelled")
}

func (s *Scheduler) finishPhase(ctx context.Context, run *pipeline.PipelineRun, record *pipeline.PipelinePhase) {
	s.savePhase(ctx, record)

	switch record.Status {
	case pipeline.PhaseCompleted:
		s.logf("phase %s completed after %d iteration(s)", record.Name, record.Iterations)
		s.emit(ctx, notify.PhaseCompleted, run.ID, record.Name, "")
	case pipeline.PhaseCancelled:
		s.logf("phase %s cancelled", record.Name)
		s.emit(ctx, notify.PhaseFailed, run.ID, record.Name, "cancelled")
	default:
		s.logf("phase %s failed: %s", record.Name, record.Error)
		s.emit(ctx, notify.PhaseFailed, run.ID, record.Name, record.Error)
	}
}

func (s *Scheduler) finishRun(ctx context.Context, run *pipeline.PipelineRun, results map[string]pipeline.PhaseStatus) {
	cancelled := ctx.Err() != nil
	failed := false
	for _, st := range results {
		switch st {
		case pipeline.PhaseFailed:
			failed = true
		case pipeline.PhaseCancelled:
			cancelled = true
		}
	}

	switch {
	case cancelled:
		run.Status = pipeline.RunCancelled
		s.logf("run %s cancelled", run.ID)
		s.emit(ctx, notify.RunCancelled, run.ID, "", "")
	case failed:
		run.Status = pipeline.RunFailed
		s.logf("run %s failed", run.ID)
		s.emit(ctx, notify.RunFailed, run.ID, "", run.Error)
	default:
		run.Status = pipeline.RunCompleted
		s.logf("run %s completed", run.ID)
		s.emit(ctx, notify.RunCompleted, run.ID, "", run.Summary)
	}
}

func (s *Scheduler) saveRun(ctx context.Context, run *pipeline.PipelineRun) error {
	if s.store != nil {
		if err := s.store.SaveRun(run); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
	}
	if err := s.history.SaveRunSnapshot(context.WithoutCancel(ctx), run); err != nil {
		s.logf("warning: db snapshot failed: %v", err)
	}
	return nil
}

func (s *Scheduler) savePhase(ctx context.Context, record *pipeline.PipelinePhase) {
	if s.store != nil {
		if err := s.store.SavePhase(record); err != nil {
			s.logf("warning: save phase %s failed: %v", record.Name, err)
		}
	}
	if err := s.history.SavePhaseSnapshot(context.WithoutCancel(ctx), record); err != nil {
		s.logf("warning: db phase snapshot failed: %v", err)
	}
}

func (s *Scheduler) emit(ctx context.Context, typ notify.EventType, runID, phase, msg string) {
	s.notifier.Notify(notify.Event{Type: typ, RunID: runID, Phase: phase, Message: msg})
	if err := s.history.LogRunEvent(context.WithoutCancel(ctx), runID, phase, string(typ), msg); err != nil {
		s.logf("warning: db event log failed: %v", err)
	}
}
