package review

import (
	"path"
	"strings"

	"github.com/jdsingh122918/forge-sub001/internal/config"
)

// Classification is the result of sensitivity detection for one phase.
type Classification struct {
	Sensitive bool
	// Matched is the pattern that triggered classification, for logging.
	Matched string
}

// Detector classifies phases as sensitive by matching configured patterns
// against the phase name and instructions. Patterns containing glob
// metacharacters match with path.Match semantics against the phase name;
// bare tokens match as case-insensitive substrings of name or instructions.
type Detector struct {
	patterns []string
}

// NewDetector creates a Detector from configured patterns.
func NewDetector(patterns []string) *Detector {
	return &Detector{patterns: patterns}
}

// Classify evaluates a phase against the detector's patterns.
func (d *Detector) Classify(ph config.Phase) Classification {
	for _, pat := range d.patterns {
		if pat == "" {
			continue
		}
		if strings.ContainsAny(pat, "*?[") {
			if ok, err := path.Match(pat, ph.Name); err == nil && ok {
				return Classification{Sensitive: true, Matched: pat}
			}
			continue
		}
		needle := strings.ToLower(pat)
		if strings.Contains(strings.ToLower(ph.Name), needle) ||
			strings.Contains(strings.ToLower(ph.Instructions), needle) {
			return Classification{Sensitive: true, Matched: pat}
		}
	}
	return Classification{}
}

// EffectiveReviews returns the review set a phase actually runs. A sensitive
// phase runs every configured specialist as gating, overriding any narrower
// per-phase declaration; a non-sensitive phase runs its declared set
// unchanged. When no specialists are configured pipeline-wide, the declared
// reviews are upgraded to gating instead.
func EffectiveReviews(declared []config.Review, specialists []string, sensitive bool) []config.Review {
	if !sensitive {
		return declared
	}
	if len(specialists) == 0 {
		out := make([]config.Review, len(declared))
		for i, rv := range declared {
			out[i] = rv
			out[i].Gating = true
		}
		return out
	}
	out := make([]config.Review, 0, len(specialists))
	for _, sp := range specialists {
		out = append(out, config.Review{Specialist: sp, Gating: true})
	}
	return out
}

// EffectiveMaxFixAttempts returns the fix-attempt cap for a phase. Sensitive
// phases get double the configured cap.
func EffectiveMaxFixAttempts(base int, sensitive bool) int {
	if sensitive {
		return base * 2
	}
	return base
}
