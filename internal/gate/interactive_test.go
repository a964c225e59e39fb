package gate

import (
	"context"
	"strings"
	"testing"

	"github.com/jdsingh122918/forge-sub001/internal/config"
	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

// scriptedDecider returns canned answers in order.
type scriptedDecider struct {
	answers []bool
	calls   int
}

func (d *scriptedDecider) Confirm(ctx context.Context, question string) (bool, error) {
	if d.calls >= len(d.answers) {
		return false, nil
	}
	ans := d.answers[d.calls]
	d.calls++
	return ans, nil
}

func TestInteractive_PhaseGateFollowsDecider(t *testing.T) {
	ctx := context.Background()
	run := &pipeline.PipelineRun{ID: "r1", Issue: 3}
	ph := config.Phase{Name: "implement"}

	s := NewInteractive(&scriptedDecider{answers: []bool{true, false}})
	dec, err := s.CheckPhase(ctx, run, ph)
	if err != nil || !dec.Approved {
		t.Errorf("expected approval, got %+v err=%v", dec, err)
	}
	dec, err = s.CheckPhase(ctx, run, ph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Approved {
		t.Error("expected decline")
	}
}

func TestInteractive_DeclinedIterationStopsPhase(t *testing.T) {
	s := NewInteractive(&scriptedDecider{answers: []bool{false}})
	record := &pipeline.PipelinePhase{Name: "implement", Budget: 3}
	dec, err := s.CheckIteration(context.Background(), record, NewProgressTracker(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Action != StopPhase {
		t.Errorf("expected StopPhase, got %s", dec.Action)
	}
}

func TestInteractive_StaleContinueStillPivots(t *testing.T) {
	s := NewInteractive(&scriptedDecider{answers: []bool{true}})
	record := &pipeline.PipelinePhase{Name: "implement", Budget: 5}
	tr := NewProgressTracker(2)
	tr.Observe(ChangeStats{})
	tr.Observe(ChangeStats{})

	dec, err := s.CheckStaleProgress(context.Background(), record, tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Action != Continue || dec.Directive == "" {
		t.Errorf("expected pivot on operator continue, got %+v", dec)
	}
}

func TestInteractive_SpawnBudgetCeilingBeforePrompting(t *testing.T) {
	d := &scriptedDecider{answers: []bool{true}}
	s := NewInteractive(d)
	record := &pipeline.PipelinePhase{Name: "implement", Budget: 3, Iterations: 2}

	dec, err := s.CheckSubPhaseSpawn(context.Background(), record, SubPhaseRequest{Name: "x", Budget: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Approved {
		t.Error("over-budget spawn must be rejected")
	}
	if d.calls != 0 {
		t.Error("budget ceiling should reject without prompting the operator")
	}
}

func TestTerminalDecider_ParsesAnswers(t *testing.T) {
	var out strings.Builder
	d := NewTerminalDecider(strings.NewReader("y\nno\n"), &out)

	ok, err := d.Confirm(context.Background(), "proceed?")
	if err != nil || !ok {
		t.Errorf("expected yes, got %v err=%v", ok, err)
	}
	ok, err = d.Confirm(context.Background(), "proceed?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no")
	}
	if !strings.Contains(out.String(), "proceed?") {
		t.Error("question should be written to out")
	}
}
