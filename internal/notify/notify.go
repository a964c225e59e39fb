package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// EventType identifies a lifecycle event emitted during a run.
type EventType string

const (
	RunStarted     EventType = "run_started"
	RunCompleted   EventType = "run_completed"
	RunFailed      EventType = "run_failed"
	RunCancelled   EventType = "run_cancelled"
	PhaseStarted   EventType = "phase_started"
	PhaseCompleted EventType = "phase_completed"
	PhaseFailed    EventType = "phase_failed"
	PhaseSkipped   EventType = "phase_skipped"
	IterationDone  EventType = "iteration_done"
	ReviewVerdict  EventType = "review_verdict"
	StalePivot     EventType = "stale_pivot"
)

// Event is a single notification about run progress.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives lifecycle events. Implementations must be safe for
// concurrent use; phases in the same wave emit in parallel.
type Notifier interface {
	Notify(ev Event)
}

// Noop discards all events.
type Noop struct{}

func (Noop) Notify(Event) {}

// WriterNotifier writes each event as a JSON line to w.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier wraps w in a line-oriented JSON notifier.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Notify(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.w, string(data))
}

// Broadcaster fans events out to subscribers over channels. Slow subscribers
// drop events rather than block the pipeline.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *Broadcaster) Notify(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
