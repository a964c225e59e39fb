package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRunner executes git commands. Abstracted for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit runs real git commands.
type ExecGit struct{}

func (ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Workspace is an isolated directory for one run.
type Workspace struct {
	Path   string
	Branch string // empty when not a git worktree
}

// Manager provisions run workspaces. When repo is set, each run gets a git
// worktree on its own branch; otherwise a plain directory under baseDir.
type Manager struct {
	repo    string
	baseDir string
	git     GitRunner
}

// NewManager creates a Manager. repo may be empty for non-git pipelines.
func NewManager(repo, baseDir string, git GitRunner) *Manager {
	if git == nil {
		git = ExecGit{}
	}
	return &Manager{repo: repo, baseDir: baseDir, git: git}
}

// Prepare creates the workspace for a run. runID should be unique; only its
// first 8 characters feed the branch name.
func (m *Manager) Prepare(ctx context.Context, issue int, runID string) (*Workspace, error) {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("issue-%d-%s", issue, short)
	path := filepath.Join(m.baseDir, name)

	if m.repo == "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dir: %w", err)
		}
		return &Workspace{Path: path}, nil
	}

	branch := sanitizeBranch("forge/" + name)
	if _, err := m.git.Run(ctx, m.repo, "worktree", "add", "-b", branch, path); err != nil {
		return nil, fmt.Errorf("add worktree: %w", err)
	}
	return &Workspace{Path: path, Branch: branch}, nil
}

// Remove tears down a workspace. Worktree removal is forced; run state under
// ~/.forge/runs is untouched.
func (m *Manager) Remove(ctx context.Context, ws *Workspace) error {
	if m.repo == "" || ws.Branch == "" {
		return os.RemoveAll(ws.Path)
	}
	if _, err := m.git.Run(ctx, m.repo, "worktree", "remove", "--force", ws.Path); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	return nil
}

// sanitizeBranch makes a string safe for use as a git branch name.
func sanitizeBranch(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '/', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-/.")
}
