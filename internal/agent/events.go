package agent

import (
	"encoding/json"
	"strings"
)

// Event is one line of agent output. The agent emits two structured shapes:
// phase lifecycle events (named phase, wave, status, success flag) and
// progress ticks (numeric phase index, iteration, percent). Lines that parse
// as neither are kept as opaque log text in Raw.
type Event struct {
	Type string

	// Lifecycle shape.
	Phase   string
	Wave    int
	Status  string
	Success bool

	// Progress shape.
	PhaseIndex int
	Iteration  int
	Percent    float64

	// Raw holds the original line verbatim.
	Raw string
}

// Structured reports whether the event carried a recognized type.
func (e Event) Structured() bool {
	return e.Type != ""
}

// Recognized structured event types.
const (
	EventPhase    = "phase"
	EventProgress = "progress"
)

type phaseEventWire struct {
	Type    string `json:"type"`
	Phase   string `json:"phase"`
	Wave    int    `json:"wave"`
	Status  string `json:"status"`
	Success bool   `json:"success"`
}

type progressEventWire struct {
	Type      string          `json:"type"`
	Phase     json.RawMessage `json:"phase"`
	Iteration int             `json:"iteration"`
	Percent   float64         `json:"percent"`
}

// parseLine interprets one output line. Each shape decodes through its own
// wire struct; the progress shape carries its phase as a numeric index.
// Anything else, including malformed JSON, is returned as an opaque Raw
// event. Unparseable output is normal agent chatter, never an error.
func parseLine(line string) Event {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return Event{Raw: line}
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return Event{Raw: line}
	}

	switch probe.Type {
	case EventPhase:
		var wire phaseEventWire
		if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
			return Event{Raw: line}
		}
		return Event{
			Type:    EventPhase,
			Phase:   wire.Phase,
			Wave:    wire.Wave,
			Status:  wire.Status,
			Success: wire.Success,
			Raw:     line,
		}
	case EventProgress:
		var wire progressEventWire
		if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
			return Event{Raw: line}
		}
		ev := Event{
			Type:      EventProgress,
			Iteration: wire.Iteration,
			Percent:   wire.Percent,
			Raw:       line,
		}
		// The phase index is numeric on the wire; tolerate a quoted name
		// from older agents.
		if len(wire.Phase) > 0 {
			var idx int
			if err := json.Unmarshal(wire.Phase, &idx); err == nil {
				ev.PhaseIndex = idx
			} else {
				var name string
				if err := json.Unmarshal(wire.Phase, &name); err != nil {
					return Event{Raw: line}
				}
				ev.Phase = name
			}
		}
		return ev
	default:
		return Event{Raw: line}
	}
}
