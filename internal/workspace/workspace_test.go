package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeGit records invocations.
type fakeGit struct {
	calls [][]string
	fail  bool
}

func (f *fakeGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if f.fail {
		return "", os.ErrPermission
	}
	return "", nil
}

func TestPrepare_PlainDirWithoutRepo(t *testing.T) {
	base := t.TempDir()
	m := NewManager("", base, &fakeGit{})

	ws, err := m.Prepare(context.Background(), 42, "0123456789abcdef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws.Branch != "" {
		t.Errorf("plain workspace should have no branch, got %q", ws.Branch)
	}
	if !strings.Contains(ws.Path, "issue-42-01234567") {
		t.Errorf("unexpected path %q", ws.Path)
	}
	if fi, err := os.Stat(ws.Path); err != nil || !fi.IsDir() {
		t.Errorf("workspace dir not created: %v", err)
	}
}

func TestPrepare_WorktreeWithRepo(t *testing.T) {
	git := &fakeGit{}
	m := NewManager("/repo", t.TempDir(), git)

	ws, err := m.Prepare(context.Background(), 7, "deadbeefcafe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws.Branch != "forge/issue-7-deadbeef" {
		t.Errorf("unexpected branch %q", ws.Branch)
	}
	if len(git.calls) != 1 || git.calls[0][0] != "worktree" || git.calls[0][1] != "add" {
		t.Errorf("expected a worktree add call, got %v", git.calls)
	}
}

func TestPrepare_GitFailure(t *testing.T) {
	m := NewManager("/repo", t.TempDir(), &fakeGit{fail: true})
	if _, err := m.Prepare(context.Background(), 1, "abc"); err == nil {
		t.Error("expected error when git fails")
	}
}

func TestRemove_PlainDir(t *testing.T) {
	base := t.TempDir()
	m := NewManager("", base, &fakeGit{})
	ws, err := m.Prepare(context.Background(), 1, "aaaa")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := m.Remove(context.Background(), ws); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Error("workspace dir should be gone")
	}
}

func TestRemove_Worktree(t *testing.T) {
	git := &fakeGit{}
	m := NewManager("/repo", t.TempDir(), git)
	ws := &Workspace{Path: filepath.Join(t.TempDir(), "w"), Branch: "forge/issue-1-aaaa"}
	if err := m.Remove(context.Background(), ws); err != nil {
		t.Fatalf("remove: %v", err)
	}
	last := git.calls[len(git.calls)-1]
	if last[0] != "worktree" || last[1] != "remove" {
		t.Errorf("expected worktree remove, got %v", last)
	}
}

func TestSanitizeBranch(t *testing.T) {
	cases := map[string]string{
		"forge/issue-1-abc":     "forge/issue-1-abc",
		"forge/has space":       "forge/has-space",
		"forge/weird:chars?":    "forge/weird-chars",
		"--leading-and-trail--": "leading-and-trail",
	}
	for in, want := range cases {
		if got := sanitizeBranch(in); got != want {
			t.Errorf("sanitizeBranch(%q) = %q, want %q", in, got, want)
		}
	}
}
