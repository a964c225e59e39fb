package dag

import (
	"fmt"
	"sort"

	"github.com/jdsingh122918/forge-sub001/internal/config"
)

// Graph is the phase dependency graph for a pipeline, validated to be
// acyclic at construction.
type Graph struct {
	phases map[string]config.Phase
	deps   map[string][]string // phase -> its dependencies
	waves  [][]string
}

// Build constructs a Graph from the pipeline's phase list. It returns an
// error if any dependency references an unknown phase or the graph contains
// a cycle.
func Build(phases []config.Phase) (*Graph, error) {
	g := &Graph{
		phases: make(map[string]config.Phase, len(phases)),
		deps:   make(map[string][]string, len(phases)),
	}

	for _, ph := range phases {
		if _, dup := g.phases[ph.Name]; dup {
			return nil, fmt.Errorf("duplicate phase %q", ph.Name)
		}
		g.phases[ph.Name] = ph
		g.deps[ph.Name] = ph.DependsOn
	}

	for name, deps := range g.deps {
		for _, dep := range deps {
			if _, ok := g.phases[dep]; !ok {
				return nil, fmt.Errorf("phase %q depends on unknown phase %q", name, dep)
			}
		}
	}

	waves, err := computeWaves(g.phases, g.deps)
	if err != nil {
		return nil, err
	}
	g.waves = waves
	return g, nil
}

// Phase returns the definition for a named phase.
func (g *Graph) Phase(name string) (config.Phase, bool) {
	ph, ok := g.phases[name]
	return ph, ok
}

// Waves returns phases grouped into execution waves. Every phase in wave N
// depends only on phases in waves < N. Phases within a wave are sorted by
// name for deterministic scheduling.
func (g *Graph) Waves() [][]string {
	return g.waves
}

// Dependencies returns the direct dependencies of a phase.
func (g *Graph) Dependencies(name string) []string {
	return g.deps[name]
}

// computeWaves runs Kahn's algorithm, peeling off all zero-indegree phases
// as one wave per round. A non-empty remainder means a cycle.
func computeWaves(phases map[string]config.Phase, deps map[string][]string) ([][]string, error) {
	indegree := make(map[string]int, len(phases))
	dependents := make(map[string][]string)
	for name := range phases {
		indegree[name] = 0
	}
	for name, ds := range deps {
		for _, dep := range ds {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	remaining := len(phases)
	var waves [][]string
	for remaining > 0 {
		var wave []string
		for name, deg := range indegree {
			if deg == 0 {
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			var stuck []string
			for name, deg := range indegree {
				if deg > 0 {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("phase dependency cycle involving: %v", stuck)
		}

		sort.Strings(wave)
		for _, name := range wave {
			delete(indegree, name)
			for _, dep := range dependents[name] {
				if _, alive := indegree[dep]; alive {
					indegree[dep]--
				}
			}
		}
		remaining -= len(wave)
		waves = append(waves, wave)
	}
	return waves, nil
}
