package review

// Arbiter turns a gating review with findings into a verdict. It holds only
// configured thresholds and is safe to share across phases.
type Arbiter struct {
	ConfidenceThreshold float64
	MaxFixAttempts      int
}

// NewArbiter creates an Arbiter with the given thresholds.
func NewArbiter(confidenceThreshold float64, maxFixAttempts int) *Arbiter {
	return &Arbiter{
		ConfidenceThreshold: confidenceThreshold,
		MaxFixAttempts:      maxFixAttempts,
	}
}

// Decide applies the arbitration rules in order and returns the first that
// matches:
//
//  1. High reviewer confidence with no critical finding: proceed, findings
//     are carried on the phase record.
//  2. Remediable findings with fix attempts and iteration budget left: fix.
//  3. Otherwise: fail the phase.
//
// fixAttempts is how many corrective rounds this phase has already consumed;
// maxFixAttempts is the effective cap (sensitive phases double it).
// remainingBudget is the phase's unspent iteration budget.
func (a *Arbiter) Decide(res Result, fixAttempts, maxFixAttempts, remainingBudget int) Verdict {
	if maxFixAttempts <= 0 {
		maxFixAttempts = a.MaxFixAttempts
	}

	if res.Confidence >= a.ConfidenceThreshold && !res.HasCritical() {
		return Proceed
	}
	if res.Remediable && fixAttempts < maxFixAttempts && remainingBudget > 0 {
		return Fix
	}
	return FailPhase
}
