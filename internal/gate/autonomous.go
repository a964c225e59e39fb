package gate

import (
	"context"
	"fmt"
	"io"

	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

// Autonomous is the hands-off strategy: phases and iterations always
// proceed, stalls are resolved by the stale policy, and sub-phase spawns
// are approved as long as the parent has budget to cover them. Approvals
// are logged so the run transcript shows each gate passing.
type Autonomous struct {
	stale StaleHandler
	out   io.Writer
}

// NewAutonomous creates the autonomous strategy. out receives warnings about
// rejected spawns; nil silences them.
func NewAutonomous(out io.Writer) *Autonomous {
	return &Autonomous{out: out}
}

func (a *Autonomous) logf(format string, args ...interface{}) {
	if a.out != nil {
		fmt.Fprintf(a.out, format+"\n", args...)
	}
}

func (a *Autonomous) CheckPhase(ctx context.Context, run *pipeline.PipelineRun, ph config.Phase) (GateDecision, error) {
	a.logf("phase %s approved (autonomous)", ph.Name)
	return GateDecision{Approved: true}, nil
}

func (a *Autonomous) CheckIteration(ctx context.Context, record *pipeline.PipelinePhase, tracker *ProgressTracker) (IterationDecision, error) {
	return IterationDecision{Action: Continue}, nil
}

func (a *Autonomous) CheckStaleProgress(ctx context.Context, record *pipeline.PipelinePhase, tracker *ProgressTracker) (IterationDecision, error) {
	return a.stale.Handle(record, tracker), nil
}

func (a *Autonomous) CheckSubPhaseSpawn(ctx context.Context, record *pipeline.PipelinePhase, req SubPhaseRequest) (SpawnDecision, error) {
	remaining := record.RemainingBudget()
	if req.Budget > remaining {
		a.logf("warning: sub-phase %q rejected: requested budget %d exceeds remaining %d", req.Name, req.Budget, remaining)
		return SpawnDecision{
			Approved: false,
			Reason:   fmt.Sprintf("requested budget %d exceeds remaining %d", req.Budget, remaining),
		}, nil
	}
	return SpawnDecision{Approved: true, Budget: req.Budget}, nil
}

func (a *Autonomous) CheckSubPhase(ctx context.Context, record *pipeline.PipelinePhase, sub config.SubPhase) (GateDecision, error) {
	a.logf("sub-phase %s/%s approved (autonomous)", record.Name, sub.Name)
	return GateDecision{Approved: true}, nil
}
