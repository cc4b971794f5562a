package session

import (
	"encoding/json"
	"errors"

	"github.com/mtzanidakis/teamfeed/internal/activity"
	"github.com/mtzanidakis/teamfeed/internal/frame"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
)

// Outcome records how a run left the streaming state.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Snapshot is a consistent view of the controller after one mutation.
// Entries and Activity are never modified in place, so a Snapshot can be
// kept and shared without copying.
type Snapshot struct {
	Session  transcript.Session
	Activity activity.State
	Stats    frame.Stats
	Source   string
	Outcome  Outcome
	// Err is the transport fault that ended the run, if any.
	Err error
}

func (s Snapshot) RunID() uint64 { return s.Session.RunID }

func (s Snapshot) Streaming() bool { return s.Session.Running }

type snapshotJSON struct {
	Session  transcript.Session `json:"session"`
	Entries  []transcript.Entry `json:"transcript"`
	Activity activity.State     `json:"activity"`
	Stats    frame.Stats        `json:"stats"`
	Source   string             `json:"source,omitempty"`
	Outcome  Outcome            `json:"outcome,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// MarshalJSON adds the reader-facing transcript (user entries removed) next
// to the full session.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		Session:  s.Session,
		Entries:  transcript.View(s.Session),
		Activity: s.Activity,
		Stats:    s.Stats,
		Source:   s.Source,
		Outcome:  s.Outcome,
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Snapshot{
		Session:  in.Session,
		Activity: in.Activity,
		Stats:    in.Stats,
		Source:   in.Source,
		Outcome:  in.Outcome,
	}
	if in.Error != "" {
		s.Err = errors.New(in.Error)
	}
	return nil
}

// Observer receives every snapshot of the current run, in order. OnSnapshot
// runs on the goroutine that made the change and must not call Submit or
// Cancel.
type Observer interface {
	OnSnapshot(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) OnSnapshot(s Snapshot) { f(s) }
