package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
// Cycle detection in the phase graph is a scheduling concern and lives in
// the dag package; it also runs before any execution starts.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}
	if len(p.Phases) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.phases", Message: "at least one phase is required"})
	}
	if p.Agent.Command == "" {
		errs = append(errs, ValidationError{Field: "pipeline.agent.command", Message: "is required"})
	}

	if p.Autonomy != AutonomyAutonomous && p.Autonomy != AutonomyInteractive {
		errs = append(errs, ValidationError{
			Field:   "pipeline.autonomy",
			Message: fmt.Sprintf("must be %q or %q, got %q", AutonomyAutonomous, AutonomyInteractive, p.Autonomy),
		})
	}
	if p.Arbiter.ConfidenceThreshold < 0 || p.Arbiter.ConfidenceThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.arbiter.confidence_threshold",
			Message: fmt.Sprintf("must be in (0, 1], got %v", p.Arbiter.ConfidenceThreshold),
		})
	}

	// Build set of phase names for reference validation
	phaseNames := make(map[string]bool)
	for i, ph := range p.Phases {
		if ph.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("pipeline.phases[%d].name", i),
				Message: "is required",
			})
			continue
		}
		if phaseNames[ph.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("pipeline.phases[%d].name", i),
				Message: fmt.Sprintf("duplicate phase name %q", ph.Name),
			})
		}
		phaseNames[ph.Name] = true
	}

	specialists := make(map[string]bool)
	for _, s := range p.Specialists {
		specialists[s] = true
	}

	for i, ph := range p.Phases {
		prefix := fmt.Sprintf("pipeline.phases[%d]", i)

		if ph.Budget <= 0 {
			errs = append(errs, ValidationError{
				Field:   prefix + ".budget",
				Message: "must be positive",
			})
		}

		for _, dep := range ph.DependsOn {
			if dep == ph.Name {
				errs = append(errs, ValidationError{
					Field:   prefix + ".depends_on",
					Message: fmt.Sprintf("phase %q depends on itself", ph.Name),
				})
				continue
			}
			if !phaseNames[dep] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".depends_on",
					Message: fmt.Sprintf("references undefined phase %q", dep),
				})
			}
		}

		// Review specialists must be declared when a specialists list exists.
		if len(specialists) > 0 {
			for _, rv := range ph.Reviews {
				if !specialists[rv.Specialist] {
					errs = append(errs, ValidationError{
						Field:   prefix + ".reviews",
						Message: fmt.Sprintf("references undeclared specialist %q", rv.Specialist),
					})
				}
			}
		}

		for j, sub := range ph.SubPhases {
			if sub.Name == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.subphases[%d].name", prefix, j),
					Message: "is required",
				})
			}
			if sub.Budget <= 0 {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.subphases[%d].budget", prefix, j),
					Message: "must be positive",
				})
			}
		}
	}

	return errs
}
