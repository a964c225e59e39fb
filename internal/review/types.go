package review

import "strings"

// Severity ranks a review finding.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Finding is one issue raised by a specialist review.
type Finding struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Location    string   `json:"location,omitempty"`
}

// Result is the structured outcome of one specialist review.
type Result struct {
	Specialist string    `json:"specialist"`
	Gating     bool      `json:"gating"`
	Confidence float64   `json:"confidence"`
	Remediable bool      `json:"remediable"`
	Summary    string    `json:"summary,omitempty"`
	Findings   []Finding `json:"findings"`
}

// Clean reports whether the review raised no findings at all.
func (r Result) Clean() bool {
	return len(r.Findings) == 0
}

// HasCritical reports whether any finding is critical.
func (r Result) HasCritical() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// FindingsText renders the findings as a bulleted block for prompts.
func (r Result) FindingsText() string {
	var b strings.Builder
	for _, f := range r.Findings {
		b.WriteString("- [")
		b.WriteString(string(f.Severity))
		b.WriteString("] ")
		b.WriteString(f.Description)
		if f.Location != "" {
			b.WriteString(" (")
			b.WriteString(f.Location)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Verdict is the arbiter's ruling on a non-clean gating review.
type Verdict string

const (
	// Proceed accepts the work despite findings; they are recorded on the
	// phase for the promotion decision.
	Proceed Verdict = "proceed"
	// Fix sends the agent back for a corrective iteration.
	Fix Verdict = "fix"
	// FailPhase ends the phase as failed.
	FailPhase Verdict = "fail_phase"
)
