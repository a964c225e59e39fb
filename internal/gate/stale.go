package gate

import (
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
	"github.com/jdsingh122918/forge-sub001/internal/prompt"
)

// StaleHandler implements the two-step stall policy: the first stall in a
// phase gets one pivot directive, a second stall after the pivot ends the
// phase.
type StaleHandler struct{}

// Handle resolves a detected stall. It mutates the tracker when issuing the
// pivot so the decision is made at most once per phase execution.
func (StaleHandler) Handle(record *pipeline.PipelinePhase, tracker *ProgressTracker) IterationDecision {
	if !tracker.PivotIssued() {
		tracker.MarkPivot()
		return IterationDecision{
			Action:    Continue,
			Directive: prompt.PivotDirective,
		}
	}
	return IterationDecision{
		Action: StopPhase,
	}
}
