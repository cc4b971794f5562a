package transcript

import (
	"slices"
	"strings"

	"github.com/mtzanidakis/teamfeed/internal/event"
)

const (
	lineSeparator      = "\n"
	paragraphSeparator = "\n\n"
)

// Aggregator applies the per-kind merge policy. It holds configuration only
// and is safe for concurrent use.
type Aggregator struct {
	topLevelNode string
	errorMarker  string
}

type Option func(*Aggregator)

// WithTopLevelNode sets the node whose events reach the transcript.
func WithTopLevelNode(node string) Option {
	return func(a *Aggregator) {
		if node != "" {
			a.topLevelNode = node
		}
	}
}

// WithErrorMarker sets the prefix put in front of in-band error text.
func WithErrorMarker(marker string) Option {
	return func(a *Aggregator) { a.errorMarker = marker }
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		topLevelNode: DefaultTopLevelNode,
		errorMarker:  DefaultErrorMarker,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Accepts reports whether ev passes the origin filter. Events without a node
// come from the stream layer itself (connection, end, transport errors).
func (a *Aggregator) Accepts(ev event.StreamEvent) bool {
	return ev.OriginNode == "" || ev.OriginNode == a.topLevelNode
}

// Apply returns s updated with ev. The boolean is false when ev was
// filtered out or of an unknown kind, in which case s is returned as is.
func (a *Aggregator) Apply(s Session, ev event.StreamEvent) (Session, bool) {
	if !a.Accepts(ev) || !ev.Kind.Known() {
		return s, false
	}

	switch ev.Kind {
	case event.KindThinking, event.KindStatus:
		return merge(s, ev, ev.Text, lineSeparator), true
	case event.KindResult:
		return merge(s, ev, ev.Text, paragraphSeparator), true
	case event.KindError:
		return merge(s, ev, a.errorMarker+ev.Text, paragraphSeparator), true
	case event.KindFinal:
		return closeSlot(merge(s, ev, ev.Text, paragraphSeparator)), true
	case event.KindEnd:
		return closeSlot(appendEntry(s, ev)), true
	default:
		// connection, user, decomposition, assignment, execution, aggregation
		return appendEntry(s, ev), true
	}
}

func newEntry(ev event.StreamEvent, text string) Entry {
	return Entry{
		Kind:        ev.Kind,
		AgentName:   ev.AgentName,
		Text:        text,
		Timestamp:   ev.Timestamp,
		Subtasks:    slices.Clone(ev.Subtasks),
		CurrentTask: ev.CurrentTask,
	}
}

func appendEntry(s Session, ev event.StreamEvent) Session {
	entries := make([]Entry, len(s.Entries), len(s.Entries)+1)
	copy(entries, s.Entries)
	s.Entries = append(entries, newEntry(ev, ev.Text))
	return s
}

// merge appends text to the main slot, opening one if none is open. The
// slot keeps the kind it was opened with.
func merge(s Session, ev event.StreamEvent, text, sep string) Session {
	slot, ok := s.Slot()
	if !ok {
		entries := make([]Entry, len(s.Entries), len(s.Entries)+1)
		copy(entries, s.Entries)
		s.Entries = append(entries, newEntry(ev, text))
		s.MainSlot = len(s.Entries) - 1
		return s
	}

	slot.Text = joinText(slot.Text, text, sep, ev.IsDelta)
	slot.AgentName = ev.AgentName
	if ev.Timestamp != "" {
		slot.Timestamp = ev.Timestamp
	}
	if ev.Subtasks != nil {
		slot.Subtasks = slices.Clone(ev.Subtasks)
	}
	if ev.CurrentTask != nil {
		slot.CurrentTask = ev.CurrentTask
	}

	s.Entries = slices.Clone(s.Entries)
	s.Entries[s.MainSlot] = slot
	return s
}

// joinText inserts sep only when existing text is non-empty and does not
// already end in a newline. Delta fragments continue the text directly.
func joinText(existing, text, sep string, delta bool) string {
	if delta || existing == "" || strings.HasSuffix(existing, lineSeparator) {
		return existing + text
	}
	return existing + sep + text
}

func closeSlot(s Session) Session {
	s.MainSlot = NoSlot
	s.Running = false
	return s
}
