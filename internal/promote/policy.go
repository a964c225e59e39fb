package promote

import (
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

// Disposition is the final routing for a finished run.
type Disposition string

const (
	// Done: every phase completed and no review trail remains; the run is
	// promoted without human involvement.
	Done Disposition = "done"
	// InReview: phases completed but the review trail holds warnings,
	// accepted findings, or fix attempts; a human signs off.
	InReview Disposition = "in_review"
	// Failed: the run did not complete.
	Failed Disposition = "failed"
)

// Decision is the outcome of the auto-promote policy.
type Decision struct {
	Disposition Disposition
	HoldReason  *pipeline.ReviewHoldReason
}

// Decide routes a finished run. It is pure and idempotent: it reads the run
// and its phase records, mutates nothing, and always returns the same
// decision for the same inputs.
//
// Routing:
//   - run failed or cancelled: Failed
//   - all phases completed, empty review trail: Done
//   - all phases completed, non-empty review trail: InReview, with the
//     aggregated trail as the hold reason
func Decide(run *pipeline.PipelineRun, phases []pipeline.PipelinePhase) Decision {
	if run.Status != pipeline.RunCompleted {
		return Decision{Disposition: Failed}
	}
	for _, ph := range phases {
		if ph.Status != pipeline.PhaseCompleted {
			return Decision{Disposition: Failed}
		}
	}

	hold := aggregate(phases)
	if hold.Empty() {
		return Decision{Disposition: Done}
	}
	return Decision{Disposition: InReview, HoldReason: hold}
}

// aggregate collects the review trail across phase records.
func aggregate(phases []pipeline.PipelinePhase) *pipeline.ReviewHoldReason {
	hold := &pipeline.ReviewHoldReason{}
	for _, ph := range phases {
		hold.Warnings = append(hold.Warnings, ph.Warnings...)
		hold.ProceededFindings = append(hold.ProceededFindings, ph.ProceededFindings...)
		hold.FixAttempts += ph.FixAttempts
	}
	return hold
}
