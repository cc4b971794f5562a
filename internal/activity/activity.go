// Package activity derives per-agent status from stream events.
package activity

import (
	"maps"

	"github.com/mtzanidakis/teamfeed/internal/event"
)

type Status string

const (
	Idle      Status = "idle"
	Active    Status = "active"
	Completed Status = "completed"
)

// State maps agent ID to status. Treat it as immutable: Apply returns a new
// map whenever it changes anything.
type State map[string]Status

// Resolver maps the agent name carried by an event to a known agent ID.
type Resolver interface {
	Resolve(name string) (string, bool)
	IDs() []string
}

// Uniform returns a state with every id set to s.
func Uniform(ids []string, s Status) State {
	st := make(State, len(ids))
	for _, id := range ids {
		st[id] = s
	}
	return st
}

type Tracker struct {
	agents Resolver
}

func NewTracker(agents Resolver) *Tracker {
	return &Tracker{agents: agents}
}

// Idle is the state before any run and after a run ends.
func (t *Tracker) Idle() State {
	return Uniform(t.agents.IDs(), Idle)
}

// Engaged is the optimistic state shown while a run is being submitted.
func (t *Tracker) Engaged() State {
	return Uniform(t.agents.IDs(), Active)
}

// Apply returns the state and active agent after ev. Events naming an agent
// that does not resolve leave both unchanged; end resets everyone.
func (t *Tracker) Apply(st State, active string, ev event.StreamEvent) (State, string) {
	if ev.Kind == event.KindEnd {
		return t.Idle(), ""
	}

	var next Status
	switch ev.Kind {
	case event.KindStatus:
		next = Active
	case event.KindResult, event.KindFinal:
		next = Completed
	case event.KindError:
		next = Idle
	default:
		return st, active
	}

	id, ok := t.agents.Resolve(ev.AgentName)
	if !ok {
		return st, active
	}

	out := maps.Clone(st)
	if out == nil {
		out = make(State, 1)
	}
	out[id] = next

	switch ev.Kind {
	case event.KindStatus:
		active = ev.AgentName
	case event.KindFinal, event.KindError:
		active = ""
	}
	return out, active
}

// Count returns how many agents are in status s.
func (st State) Count(s Status) int {
	n := 0
	for _, v := range st {
		if v == s {
			n++
		}
	}
	return n
}
