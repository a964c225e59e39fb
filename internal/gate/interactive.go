package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

// Decider answers a yes/no question, typically by asking a human.
type Decider interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// TerminalDecider prompts on out and reads y/n answers from in.
type TerminalDecider struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalDecider creates a Decider over the given streams.
func NewTerminalDecider(in io.Reader, out io.Writer) *TerminalDecider {
	return &TerminalDecider{in: bufio.NewReader(in), out: out}
}

func (d *TerminalDecider) Confirm(ctx context.Context, question string) (bool, error) {
	fmt.Fprintf(d.out, "%s [y/N]: ", question)

	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := d.in.ReadString('\n')
		if err != nil {
			ch <- answer{err: err}
			return
		}
		resp := strings.ToLower(strings.TrimSpace(line))
		ch <- answer{ok: resp == "y" || resp == "yes"}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		return a.ok, a.err
	}
}

// Interactive pauses at every gate checkpoint and asks the decider. Stalls
// still follow the standard pivot-then-stop policy when the human elects to
// continue.
type Interactive struct {
	decider Decider
	stale   StaleHandler
}

// NewInteractive creates the interactive strategy backed by a Decider.
func NewInteractive(decider Decider) *Interactive {
	return &Interactive{decider: decider}
}

func (s *Interactive) CheckPhase(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase) (GateDecision, error) {
	ok, err := s.decider.Confirm(ctx, fmt.Sprintf("Start phase %q for issue #%d?", ph.Name, run.Issue))
	if err != nil {
		return GateDecision{}, fmt.Errorf("phase gate: %w", err)
	}
	if !ok {
		return GateDecision{Reason: "declined by operator"}, nil
	}
	return GateDecision{Approved: true}, nil
}

func (s *Interactive) CheckIteration(ctx context.Context, record *pipeline.PipelinePhase, tracker *ProgressTracker) (IterationDecision, error) {
	ok, err := s.decider.Confirm(ctx, fmt.Sprintf("Run iteration %d/%d of phase %q?", record.Iterations+1, record.Budget, record.Name))
	if err != nil {
		return IterationDecision{}, fmt.Errorf("iteration gate: %w", err)
	}
	if !ok {
		return IterationDecision{Action: StopPhase}, nil
	}
	return IterationDecision{Action: Continue}, nil
}

func (s *Interactive) CheckStaleProgress(ctx context.Context, record *pipeline.PipelinePhase, tracker *ProgressTracker) (IterationDecision, error) {
	ok, err := s.decider.Confirm(ctx, fmt.Sprintf("Phase %q has stalled (%d iterations without changes). Keep going?", record.Name, tracker.ConsecutiveNoChange))
	if err != nil {
		return IterationDecision{}, fmt.Errorf("stale gate: %w", err)
	}
	if !ok {
		return IterationDecision{Action: StopPhase}, nil
	}
	return s.stale.Handle(record, tracker), nil
}

func (s *Interactive) CheckSubPhaseSpawn(ctx context.Context, record *pipeline.PipelinePhase, req SubPhaseRequest) (SpawnDecision, error) {
	if req.Budget > record.RemainingBudget() {
		return SpawnDecision{
			Approved: false,
			Reason:   fmt.Sprintf("requested budget %d exceeds remaining %d", req.Budget, record.RemainingBudget()),
		}, nil
	}
	ok, err := s.decider.Confirm(ctx, fmt.Sprintf("Spawn sub-phase %q (budget %d, reason: %s)?", req.Name, req.Budget, req.Reason))
	if err != nil {
		return SpawnDecision{}, fmt.Errorf("spawn gate: %w", err)
	}
	if !ok {
		return SpawnDecision{Reason: "declined by operator"}, nil
	}
	return SpawnDecision{Approved: true, Budget: req.Budget}, nil
}

func (s *Interactive) CheckSubPhase(ctx context.Context, record *pipeline.PipelinePhase, sub config.SubPhase) (GateDecision, error) {
	ok, err := s.decider.Confirm(ctx, fmt.Sprintf("Run sub-phase %q of phase %q?", sub.Name, record.Name))
	if err != nil {
		return GateDecision{}, fmt.Errorf("sub-phase gate: %w", err)
	}
	if !ok {
		return GateDecision{Reason: "declined by operator"}, nil
	}
	return GateDecision{Approved: true}, nil
}
