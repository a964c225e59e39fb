package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Outcome classifies how an iteration ended. Process failures are failed
// iterations, not a separate error class; RunIteration returns an error only
// for harness-internal problems.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	Cancelled Outcome = "cancelled"
)

// IterationResult is the outcome of one agent subprocess invocation.
type IterationResult struct {
	Outcome      Outcome
	ExitCode     int
	Summary      string // bounded tail of subprocess output
	FilesChanged int
}

// RunOpts configures one iteration.
type RunOpts struct {
	RunID   string
	Workdir string
	Prompt  string
	Timeout time.Duration
	// OnEvent receives every output line as it streams, parsed when
	// structured. May be nil.
	OnEvent func(Event)
}

// ChangeCounter reports how many files an iteration touched in a workdir.
type ChangeCounter interface {
	Count(ctx context.Context, workdir string) (int, error)
}

// GitChangeCounter counts changed files via git status.
type GitChangeCounter struct{}

func (GitChangeCounter) Count(ctx context.Context, workdir string) (int, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = workdir
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("git status: %w", err)
	}
	count := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

// Harness launches the external coding agent as a subprocess, one invocation
// per iteration, and tracks live processes per run so a run can be
// cancelled. The registry map is the only mutable state shared across runs.
type Harness struct {
	command   string
	args      []string
	tailLines int
	changes   ChangeCounter

	mu        sync.Mutex
	procs     map[string]*exec.Cmd
	cancelled map[string]bool
}

// NewHarness creates a Harness for the given agent command line.
// flags is split on whitespace; tailLines bounds the retained output tail.
func NewHarness(command, flags string, tailLines int, changes ChangeCounter) *Harness {
	if tailLines <= 0 {
		tailLines = 40
	}
	if changes == nil {
		changes = GitChangeCounter{}
	}
	return &Harness{
		command:   command,
		args:      strings.Fields(flags),
		tailLines: tailLines,
		changes:   changes,
		procs:     make(map[string]*exec.Cmd),
		cancelled: make(map[string]bool),
	}
}

// RunIteration launches the agent once with the prompt on stdin and streams
// its output until exit, timeout, or cancellation. A failed or killed
// subprocess yields a Failed or Cancelled result, not an error.
func (h *Harness) RunIteration(ctx context.Context, opts RunOpts) (IterationResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, h.command, h.args...)
	cmd.Dir = opts.Workdir
	cmd.Stdin = strings.NewReader(opts.Prompt)
	cmd.Cancel = func() error {
		// SIGTERM first so the agent can flush; CommandContext falls back to
		// SIGKILL via WaitDelay.
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return IterationResult{}, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		// Spawn failure counts as a failed iteration.
		return IterationResult{
			Outcome:  Failed,
			ExitCode: -1,
			Summary:  fmt.Sprintf("failed to start %s: %v", h.command, err),
		}, nil
	}
	h.register(opts.RunID, cmd)
	defer h.deregister(opts.RunID)

	tail := make([]string, 0, h.tailLines)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if opts.OnEvent != nil {
			opts.OnEvent(parseLine(line))
		}
		tail = append(tail, line)
		if len(tail) > h.tailLines {
			tail = tail[1:]
		}
	}

	waitErr := cmd.Wait()
	result := IterationResult{
		Summary: strings.Join(tail, "\n"),
	}

	switch {
	case h.wasCancelled(opts.RunID) || errors.Is(ctx.Err(), context.Canceled):
		result.Outcome = Cancelled
		result.ExitCode = exitCode(cmd, waitErr)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Outcome = Failed
		result.ExitCode = exitCode(cmd, waitErr)
		result.Summary = fmt.Sprintf("iteration timed out after %s\n%s", opts.Timeout, result.Summary)
	case waitErr != nil:
		result.Outcome = Failed
		result.ExitCode = exitCode(cmd, waitErr)
	default:
		result.Outcome = Succeeded
		result.ExitCode = 0
	}

	if result.Outcome != Cancelled && opts.Workdir != "" {
		if n, err := h.changes.Count(context.WithoutCancel(ctx), opts.Workdir); err == nil {
			result.FilesChanged = n
		}
	}
	return result, nil
}

// Cancel requests termination of the live subprocess for a run, if any, and
// marks the run cancelled so an in-flight iteration reports Cancelled.
func (h *Harness) Cancel(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled[runID] = true

	cmd, ok := h.procs[runID]
	if !ok || cmd.Process == nil {
		return false
	}
	cmd.Process.Signal(syscall.SIGTERM)
	return true
}

func (h *Harness) register(runID string, cmd *exec.Cmd) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.procs[runID] = cmd
}

func (h *Harness) deregister(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.procs, runID)
}

func (h *Harness) wasCancelled(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled[runID]
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
