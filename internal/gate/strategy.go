package gate

import (
	"context"

	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

// GateDecision is a yes/no answer at a gate checkpoint.
type GateDecision struct {
	Approved bool
	Reason   string
}

// IterationAction is what the engine should do after a gate consults on an
// iteration boundary.
type IterationAction string

const (
	// Continue lets the phase run its next iteration.
	Continue IterationAction = "continue"
	// StopPhase terminates the phase without further iterations.
	StopPhase IterationAction = "stop_phase"
)

// IterationDecision controls the next iteration of a phase. Directive, when
// non-empty, is injected into the iteration prompt.
type IterationDecision struct {
	Action    IterationAction
	Directive string
}

// SpawnDecision answers a dynamic sub-phase spawn request.
type SpawnDecision struct {
	Approved bool
	Budget   int
	Reason   string
}

// ChangeStats summarizes the repository effect of one iteration.
type ChangeStats struct {
	FilesChanged int
}

// SubPhaseRequest is a dynamic request to spawn a child phase mid-run.
type SubPhaseRequest struct {
	Name   string
	Budget int
	Reason string
}

// Strategy decides, at each checkpoint, whether execution proceeds. The
// engine consults it before every phase, before every iteration, when
// progress stalls, and for sub-phase work. Implementations may block (the
// interactive strategy waits on a human), so every method takes a ctx.
type Strategy interface {
	// CheckPhase gates the start of a phase.
	CheckPhase(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase) (GateDecision, error)

	// CheckIteration gates each iteration before it launches.
	CheckIteration(ctx context.Context, record *pipeline.PipelinePhase, tracker *ProgressTracker) (IterationDecision, error)

	// CheckStaleProgress is consulted when the tracker reports a stall. The
	// returned decision either redirects the agent or stops the phase.
	CheckStaleProgress(ctx context.Context, record *pipeline.PipelinePhase, tracker *ProgressTracker) (IterationDecision, error)

	// CheckSubPhaseSpawn gates a dynamic sub-phase request from the engine.
	CheckSubPhaseSpawn(ctx context.Context, record *pipeline.PipelinePhase, req SubPhaseRequest) (SpawnDecision, error)

	// CheckSubPhase gates a statically declared child phase.
	CheckSubPhase(ctx context.Context, record *pipeline.PipelinePhase, sub config.SubPhase) (GateDecision, error)
}
