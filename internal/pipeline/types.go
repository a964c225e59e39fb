package pipeline

// RunStatus is the overall status of a PipelineRun. Terminal statuses are
// monotonic: once Failed, Completed, or Cancelled, no further transitions.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// PhaseStatus is the status of a single phase execution record.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseCancelled PhaseStatus = "cancelled"
)

// Terminal reports whether the phase has finished, one way or another.
func (s PhaseStatus) Terminal() bool {
	return s == PhaseCompleted || s == PhaseFailed || s == PhaseCancelled
}

// PipelineRun is one execution attempt for a work unit. It is owned
// exclusively by the scheduler for its duration; stores persist snapshots on
// transitions but do not own the live object.
type PipelineRun struct {
	ID           string            `json:"id"`
	Issue        int               `json:"issue"`
	Title        string            `json:"title"`
	Body         string            `json:"body,omitempty"`
	Status       RunStatus         `json:"status"`
	CurrentPhase string            `json:"current_phase,omitempty"`
	Iterations   int               `json:"iterations"`
	Summary      string            `json:"summary,omitempty"`
	Error        string            `json:"error,omitempty"`
	Workdir      string            `json:"workdir,omitempty"`
	Branch       string            `json:"branch,omitempty"`
	HoldReason   *ReviewHoldReason `json:"review_hold_reason,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

// PipelinePhase is the per-phase execution record, distinct from the phase
// definition in config. One record exists per phase per run.
type PipelinePhase struct {
	Run        string      `json:"run"`
	Name       string      `json:"name"`
	Status     PhaseStatus `json:"status"`
	Iterations int         `json:"iterations"`
	Budget     int         `json:"budget"`
	Sensitive  bool        `json:"sensitive,omitempty"`
	StartedAt  string      `json:"started_at,omitempty"`
	FinishedAt string      `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`

	// Review trail, aggregated into the run's ReviewHoldReason by the
	// auto-promote policy.
	GatingReviews     int      `json:"gating_reviews,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	ProceededFindings []string `json:"proceeded_findings,omitempty"`
	FixAttempts       int      `json:"fix_attempts,omitempty"`
}

// RemainingBudget returns the iteration budget left for this phase.
func (p *PipelinePhase) RemainingBudget() int {
	rem := p.Budget - p.Iterations
	if rem < 0 {
		return 0
	}
	return rem
}

// ReviewHoldReason explains why a completed run was routed to human review
// instead of auto-promoted.
type ReviewHoldReason struct {
	Warnings          []string `json:"warnings,omitempty"`
	ProceededFindings []string `json:"proceeded_findings,omitempty"`
	FixAttempts       int      `json:"fix_attempts,omitempty"`
}

// Empty reports whether the hold reason carries no review data at all.
func (r *ReviewHoldReason) Empty() bool {
	return r == nil || (len(r.Warnings) == 0 && len(r.ProceededFindings) == 0 && r.FixAttempts == 0)
}
