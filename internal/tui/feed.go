package tui

import (
	"github.com/mtzanidakis/teamfeed/internal/session"
)

// Feed hands controller snapshots to the program. Only the newest pending
// snapshot is kept, so a slow terminal never holds up the stream reader.
type Feed struct {
	ch chan session.Snapshot
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan session.Snapshot, 1)}
}

func (f *Feed) OnSnapshot(s session.Snapshot) {
	for {
		select {
		case f.ch <- s:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}
