package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the config omits a value.
const (
	DefaultMaxParallel         = 2
	DefaultStaleThreshold      = 3
	DefaultConfidenceThreshold = 0.7
	DefaultMaxFixAttempts      = 2
	DefaultPhaseBudget         = 5
	DefaultTailLines           = 40
)

// Load reads and parses a pipeline configuration from the given YAML file path.
// After parsing, it applies defaults to fields that weren't specified.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a pipeline config in standard locations and loads
// the first one found. Search order: ./forge.yaml, ~/.forge/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"forge.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".forge", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no pipeline config found (searched: %v)", candidates)
}

// applyDefaults fills pipeline-level defaults and per-phase budgets.
func applyDefaults(cfg *Config) {
	p := &cfg.Pipeline

	if p.MaxParallel <= 0 {
		p.MaxParallel = DefaultMaxParallel
	}
	if p.Autonomy == "" {
		p.Autonomy = AutonomyAutonomous
	}
	if p.StaleThreshold <= 0 {
		p.StaleThreshold = DefaultStaleThreshold
	}
	if p.Arbiter.ConfidenceThreshold <= 0 {
		p.Arbiter.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if p.Arbiter.MaxFixAttempts <= 0 {
		p.Arbiter.MaxFixAttempts = DefaultMaxFixAttempts
	}
	if p.Agent.TailLines <= 0 {
		p.Agent.TailLines = DefaultTailLines
	}

	for i := range p.Phases {
		if p.Phases[i].Budget <= 0 {
			p.Phases[i].Budget = DefaultPhaseBudget
		}
	}
}
