package gate

// ProgressTracker watches iteration outcomes for one phase execution and
// detects stalls. A fresh tracker is created each time a phase starts, so a
// restarted phase always begins with a clean stall history.
type ProgressTracker struct {
	threshold int

	TotalIterations     int
	ConsecutiveNoChange int
	LastChangeIteration int

	pivotIssued bool
}

// NewProgressTracker creates a tracker that reports staleness after
// threshold consecutive no-change iterations.
func NewProgressTracker(threshold int) *ProgressTracker {
	if threshold <= 0 {
		threshold = 1
	}
	return &ProgressTracker{threshold: threshold}
}

// Observe records the outcome of one iteration.
func (t *ProgressTracker) Observe(stats ChangeStats) {
	t.TotalIterations++
	if stats.FilesChanged > 0 {
		t.ConsecutiveNoChange = 0
		t.LastChangeIteration = t.TotalIterations
	} else {
		t.ConsecutiveNoChange++
	}
}

// Stale reports whether the no-change streak has reached the threshold.
func (t *ProgressTracker) Stale() bool {
	return t.ConsecutiveNoChange >= t.threshold
}

// PivotIssued reports whether a pivot directive was already spent on this
// phase execution.
func (t *ProgressTracker) PivotIssued() bool {
	return t.pivotIssued
}

// MarkPivot records that the one allowed pivot has been issued and resets
// the stall counter so the redirected agent gets a full threshold of
// iterations to show progress.
func (t *ProgressTracker) MarkPivot() {
	t.pivotIssued = true
	t.ConsecutiveNoChange = 0
}
