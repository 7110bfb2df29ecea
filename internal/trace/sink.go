package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"confusage/internal/graph"
)

// EventKind names a traversal step.
type EventKind string

const (
	EventBegin           EventKind = "GO_THROUGH_BEGIN"
	EventBodyNull        EventKind = "BODY_NULL"
	EventLocal           EventKind = "LOCAL"
	EventUnit            EventKind = "UNIT"
	EventInvokeUnit      EventKind = "INVOKE_UNIT"
	EventArgument        EventKind = "ARGUMENT"
	EventArgumentPassing EventKind = "ARGUMENT_PASSING"
	EventConfGet         EventKind = "CONFIGURATION_GET_METHOD"
	EventConfReturn      EventKind = "RETURN_CONFIGURATION_GET_METHOD"
	EventConfParam       EventKind = "CONF_METHOD_PARAMETER"
	EventSkip            EventKind = "SKIP"
	EventFinish          EventKind = "FINISH"
)

// Event is one line of the trace report.
type Event struct {
	Kind    EventKind
	Level   int
	Message string
	Method  *graph.Method
	Invoke  *graph.Invoke
}

// Sink receives trace events in order.
type Sink interface {
	Emit(Event)
}

// TextSink prints events as indented diagnostic lines: one tab per level,
// then the level in parentheses.
type TextSink struct {
	w   io.Writer
	err error
}

// NewTextSink creates a TextSink writing to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

// Emit implements Sink.
func (s *TextSink) Emit(e Event) {
	if s.err != nil {
		return
	}
	_, s.err = fmt.Fprintln(s.w, FormatLine(e.Level, e.Message))
}

// Err returns the first write error.
func (s *TextSink) Err() error { return s.err }

// FormatLine renders a message at the given level.
func FormatLine(level int, msg string) string {
	return strings.Repeat("\t", level) + fmt.Sprintf("(%d) ", level) + msg
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k EventKind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
