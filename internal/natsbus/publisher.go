package natsbus

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/mtzanidakis/teamfeed/internal/activity"
	"github.com/mtzanidakis/teamfeed/internal/session"
)

// AgentsEvent is published on TopicEventsAgents whenever the activity
// board changes.
type AgentsEvent struct {
	RunID       uint64         `json:"run_id"`
	ActiveAgent string         `json:"active_agent,omitempty"`
	Activity    activity.State `json:"activity"`
}

// Publisher forwards controller snapshots onto the bus.
type Publisher struct {
	client *Client

	mu   sync.Mutex
	last activity.State
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) OnSnapshot(s session.Snapshot) {
	if s.RunID() == 0 {
		return
	}
	if err := p.client.PublishJSON(TopicEventsRun(s.RunID()), s); err != nil {
		slog.Warn("publish snapshot failed", "run", s.RunID(), "error", err)
	}

	p.mu.Lock()
	changed := !maps.Equal(p.last, s.Activity)
	if changed {
		p.last = s.Activity
	}
	p.mu.Unlock()
	if !changed {
		return
	}

	ev := AgentsEvent{RunID: s.RunID(), ActiveAgent: s.Session.ActiveAgent, Activity: s.Activity}
	if err := p.client.PublishJSON(TopicEventsAgents, ev); err != nil {
		slog.Warn("publish agent activity failed", "error", err)
	}
}
