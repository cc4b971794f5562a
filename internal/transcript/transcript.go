// Package transcript folds stream events into a run's conversation model.
//
// A Session holds the ordered entries of one run. At most one entry, the
// main slot, is open for merging: thinking, status, result, final and error
// events from the top-level node accumulate in it, so a run renders as one
// live box plus a few independent markers. Sessions are values; Apply never
// mutates the Session it is given, and a merged slot is always a new Entry,
// so observers can detect change by comparing snapshots.
package transcript

import (
	"slices"
	"strings"

	"github.com/mtzanidakis/teamfeed/internal/event"
)

// NoSlot marks a Session with no entry open for merging.
const NoSlot = -1

const (
	DefaultTopLevelNode = "supervisor"
	DefaultErrorMarker  = "❌ "
)

type Entry struct {
	Kind        event.Kind         `json:"kind"`
	AgentName   string             `json:"agent"`
	Text        string             `json:"text"`
	Timestamp   string             `json:"timestamp,omitempty"`
	Subtasks    []event.Subtask    `json:"subtasks,omitempty"`
	CurrentTask *event.CurrentTask `json:"current_task,omitempty"`
}

type Session struct {
	RunID       uint64  `json:"run_id"`
	Task        string  `json:"task"`
	Entries     []Entry `json:"entries"`
	MainSlot    int     `json:"main_slot"`
	Running     bool    `json:"running"`
	ActiveAgent string  `json:"active_agent,omitempty"`
}

// NewSession returns the empty, running Session a run starts from.
func NewSession(runID uint64, task string) Session {
	return Session{
		RunID:    runID,
		Task:     task,
		MainSlot: NoSlot,
		Running:  true,
	}
}

// Clone returns a copy that shares no entry storage with s.
func (s Session) Clone() Session {
	s.Entries = slices.Clone(s.Entries)
	return s
}

// Slot returns the entry currently open for merging.
func (s Session) Slot() (Entry, bool) {
	if s.MainSlot == NoSlot || s.MainSlot >= len(s.Entries) {
		return Entry{}, false
	}
	return s.Entries[s.MainSlot], true
}

// View returns the entries shown to a reader. User entries record the
// triggering task for history and are left out.
func View(s Session) []Entry {
	out := make([]Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Kind == event.KindUser {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Mergeable reports whether entries of kind k may be the main slot.
func Mergeable(k event.Kind) bool {
	switch k {
	case event.KindThinking, event.KindStatus, event.KindResult, event.KindFinal, event.KindError:
		return true
	}
	return false
}

// Render joins the visible entries into plain text, one block per entry.
func Render(s Session) string {
	var b strings.Builder
	for i, e := range View(s) {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[")
		b.WriteString(e.AgentName)
		b.WriteString("] ")
		b.WriteString(e.Text)
	}
	return b.String()
}
