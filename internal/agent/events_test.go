package agent

import "testing"

func TestParseLine_PhaseEvent(t *testing.T) {
	ev := parseLine(`{"type": "phase", "phase": "implement", "wave": 2, "status": "completed", "success": true}`)
	if !ev.Structured() {
		t.Fatal("expected structured event")
	}
	if ev.Type != EventPhase || ev.Phase != "implement" || ev.Wave != 2 || !ev.Success {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseLine_ProgressEvent(t *testing.T) {
	ev := parseLine(`{"type": "progress", "iteration": 3, "percent": 62.5}`)
	if !ev.Structured() {
		t.Fatal("expected structured event")
	}
	if ev.Type != EventProgress || ev.Iteration != 3 || ev.Percent != 62.5 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseLine_ProgressEventWithPhaseIndex(t *testing.T) {
	ev := parseLine(`{"type": "progress", "phase": 1, "iteration": 3, "percent": 62.5}`)
	if !ev.Structured() {
		t.Fatalf("progress event with numeric phase index must parse, got %+v", ev)
	}
	if ev.PhaseIndex != 1 || ev.Iteration != 3 || ev.Percent != 62.5 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseLine_ProgressEventWithQuotedPhase(t *testing.T) {
	ev := parseLine(`{"type": "progress", "phase": "implement", "iteration": 2, "percent": 10}`)
	if !ev.Structured() {
		t.Fatalf("expected structured event, got %+v", ev)
	}
	if ev.Phase != "implement" || ev.Iteration != 2 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseLine_OpaqueText(t *testing.T) {
	for _, line := range []string{
		"compiling module...",
		"{not json at all",
		`{"type": "unknown-shape", "x": 1}`,
		`{"no_type_field": true}`,
		"",
	} {
		ev := parseLine(line)
		if ev.Structured() {
			t.Errorf("line %q should be opaque, got %+v", line, ev)
		}
		if ev.Raw != line {
			t.Errorf("line %q: raw text not preserved (%q)", line, ev.Raw)
		}
	}
}
