package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// writeAtomic lands data at path via a sibling temp file and a rename, so a
// crash mid-write never leaves a truncated snapshot behind.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Store persists run and phase snapshots on disk. The engine treats it as
// fire-and-forget durable storage, not a source of truth during execution.
type Store struct {
	baseDir string // defaults to ~/.forge/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.forge/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".forge", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.runDir(id), "run.json")
}

func (s *Store) phasePath(runID, phase string) string {
	return filepath.Join(s.runDir(runID), "phases", phase+".json")
}

func (s *Store) iterationDir(runID, phase string, iteration int) string {
	return filepath.Join(s.runDir(runID), "phases", phase, fmt.Sprintf("iteration-%d", iteration))
}

// CreateRun initialises a new run on disk.
func (s *Store) CreateRun(run *PipelineRun) error {
	dir := s.runDir(run.ID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if err := os.MkdirAll(filepath.Join(dir, "phases"), 0o755); err != nil {
		return fmt.Errorf("mkdir phases: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = RunQueued
	}
	if err := writeJSON(s.runPath(run.ID), run); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

// GetRun reads the run snapshot for an ID.
func (s *Store) GetRun(id string) (*PipelineRun, error) {
	var run PipelineRun
	if err := readJSON(s.runPath(id), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, err
	}
	return &run, nil
}

// SaveRun writes a snapshot of the live run object.
func (s *Store) SaveRun(run *PipelineRun) error {
	run.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return writeJSON(s.runPath(run.ID), run)
}

// UpdateRun performs a read-modify-write of the stored run snapshot.
func (s *Store) UpdateRun(id string, fn func(*PipelineRun)) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	fn(run)
	return s.SaveRun(run)
}

// ListRuns returns all runs, optionally filtered by status.
// Pass "" for statusFilter to return all runs.
func (s *Store) ListRuns(statusFilter RunStatus) ([]PipelineRun, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []PipelineRun
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.GetRun(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || run.Status == statusFilter {
			runs = append(runs, *run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt < runs[j].CreatedAt
	})
	return runs, nil
}

// DeleteRun removes all data for a run.
func (s *Store) DeleteRun(id string) error {
	dir := s.runDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", id)
	}
	return os.RemoveAll(dir)
}

// SavePhase writes the snapshot for a phase execution record.
func (s *Store) SavePhase(ph *PipelinePhase) error {
	return writeJSON(s.phasePath(ph.Run, ph.Name), ph)
}

// GetPhase reads a phase execution record.
func (s *Store) GetPhase(runID, phase string) (*PipelinePhase, error) {
	var ph PipelinePhase
	if err := readJSON(s.phasePath(runID, phase), &ph); err != nil {
		return nil, err
	}
	return &ph, nil
}

// ListPhases returns all phase records for a run, sorted by name.
func (s *Store) ListPhases(runID string) ([]PipelinePhase, error) {
	dir := filepath.Join(s.runDir(runID), "phases")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var phases []PipelinePhase
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		name := entry.Name()[:len(entry.Name())-len(".json")]
		ph, err := s.GetPhase(runID, name)
		if err != nil {
			continue
		}
		phases = append(phases, *ph)
	}

	sort.Slice(phases, func(i, j int) bool {
		return phases[i].Name < phases[j].Name
	})
	return phases, nil
}

// SavePrompt writes the rendered prompt for a phase iteration.
func (s *Store) SavePrompt(runID, phase string, iteration int, prompt string) error {
	dir := s.iterationDir(runID, phase, iteration)
	return writeAtomic(filepath.Join(dir, "prompt.md"), []byte(prompt))
}

// SaveOutputTail writes the bounded subprocess output tail for an iteration.
func (s *Store) SaveOutputTail(runID, phase string, iteration int, tail string) error {
	dir := s.iterationDir(runID, phase, iteration)
	return writeAtomic(filepath.Join(dir, "output.log"), []byte(tail))
}

// GetPrompt reads the rendered prompt for a phase iteration.
func (s *Store) GetPrompt(runID, phase string, iteration int) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.iterationDir(runID, phase, iteration), "prompt.md"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
