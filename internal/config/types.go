package config

// Config is the top-level configuration structure parsed from pipeline YAML.
type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline declares the full pipeline: agent settings, gating policy,
// arbiter thresholds, and the phase graph. It is read once at run start and
// immutable for the run's duration.
type Pipeline struct {
	Name              string   `yaml:"name"`
	Repo              string   `yaml:"repo"`    // git repo root; empty = plain workspace dirs
	Workdir           string   `yaml:"workdir"` // base dir for run workspaces
	MaxParallel       int      `yaml:"max_parallel"`
	Autonomy          string   `yaml:"autonomy"` // "autonomous" or "interactive"
	StaleThreshold    int      `yaml:"stale_threshold"`
	Specialists       []string `yaml:"specialists"`
	SensitivePatterns []string `yaml:"sensitive_patterns"`
	Agent             Agent    `yaml:"agent"`
	Arbiter           Arbiter  `yaml:"arbiter"`
	Phases            []Phase  `yaml:"phases"`
}

// Agent configures the external coding-agent subprocess.
type Agent struct {
	Command   string `yaml:"command"`
	Flags     string `yaml:"flags"`
	Timeout   string `yaml:"timeout"`
	TailLines int    `yaml:"tail_lines"`
}

// Arbiter holds the review-arbitration budgets.
type Arbiter struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaxFixAttempts      int     `yaml:"max_fix_attempts"`
}

// Phase defines a single unit of work in the dependency graph.
type Phase struct {
	Name         string     `yaml:"name"`
	DependsOn    []string   `yaml:"depends_on"`
	Budget       int        `yaml:"budget"` // maximum iterations
	Instructions string     `yaml:"instructions"`
	Reviews      []Review   `yaml:"reviews"`
	SubPhases    []SubPhase `yaml:"subphases"`
}

// Review names a specialist review for a phase and whether it gates completion.
type Review struct {
	Specialist string `yaml:"specialist"`
	Gating     bool   `yaml:"gating"`
}

// SubPhase is a child phase declared statically on its parent.
type SubPhase struct {
	Name         string `yaml:"name"`
	Budget       int    `yaml:"budget"`
	Instructions string `yaml:"instructions"`
}

// AutonomyModes lists the valid autonomy switch values.
const (
	AutonomyAutonomous  = "autonomous"
	AutonomyInteractive = "interactive"
)
