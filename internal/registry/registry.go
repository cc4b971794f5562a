// Package registry holds the fixed roster of agents a run can report on and
// resolves the display names found in stream events to agent IDs.
package registry

import (
	"fmt"
	"sync"

	"github.com/mtzanidakis/teamfeed/internal/activity"
	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/store"
)

type Registry struct {
	store *store.Store

	mu     sync.RWMutex
	roster *Roster
}

// Roster is the agent roster at one point in time. It never changes once
// built; Reload installs a new one.
type Roster struct {
	agents []config.AgentDefinition
	byID   map[string]int
	byName map[string]int
}

func newRoster(agents []config.AgentDefinition) *Roster {
	ro := &Roster{
		agents: append([]config.AgentDefinition(nil), agents...),
		byID:   make(map[string]int, len(agents)),
		byName: make(map[string]int, len(agents)),
	}
	for i, a := range ro.agents {
		ro.byID[a.ID] = i
		ro.byName[a.Name] = i
	}
	return ro
}

// Resolve maps an event's agent name to an agent ID. Display names are
// matched exactly; an ID is accepted as its own name.
func (ro *Roster) Resolve(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if i, ok := ro.byName[name]; ok {
		return ro.agents[i].ID, true
	}
	if i, ok := ro.byID[name]; ok {
		return ro.agents[i].ID, true
	}
	return "", false
}

// IDs returns the known agent IDs in roster order.
func (ro *Roster) IDs() []string {
	ids := make([]string, len(ro.agents))
	for i, a := range ro.agents {
		ids[i] = a.ID
	}
	return ids
}

// New builds a registry over agents. s may be nil, in which case Sync is a
// no-op and the roster lives only in memory.
func New(s *store.Store, agents []config.AgentDefinition) *Registry {
	r := &Registry{store: s}
	r.set(agents)
	return r
}

func (r *Registry) set(agents []config.AgentDefinition) {
	ro := newRoster(agents)
	r.mu.Lock()
	r.roster = ro
	r.mu.Unlock()
}

// Pin returns the roster currently in effect. Later reloads do not affect
// it.
func (r *Registry) Pin() activity.Resolver {
	return r.current()
}

func (r *Registry) current() *Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roster
}

// Sync persists the roster to the store and removes agents no longer
// configured.
func (r *Registry) Sync() error {
	if r.store == nil {
		return nil
	}

	agents := r.List()
	ids := make([]string, 0, len(agents))
	for _, def := range agents {
		ids = append(ids, def.ID)

		a := &store.Agent{
			ID:          def.ID,
			Name:        def.Name,
			Role:        def.Role,
			Description: def.Description,
			Layer:       def.Layer,
			Parent:      def.Parent,
		}
		if err := r.store.SaveAgent(a); err != nil {
			return fmt.Errorf("save agent %s: %w", def.ID, err)
		}
	}

	if err := r.store.DeleteAgentsNotIn(ids); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}

// Reload replaces the roster and syncs it.
func (r *Registry) Reload(agents []config.AgentDefinition) error {
	r.set(agents)
	return r.Sync()
}

func (r *Registry) Resolve(name string) (string, bool) {
	return r.current().Resolve(name)
}

func (r *Registry) IDs() []string {
	return r.current().IDs()
}

func (r *Registry) Get(id string) (config.AgentDefinition, bool) {
	ro := r.current()
	i, ok := ro.byID[id]
	if !ok {
		return config.AgentDefinition{}, false
	}
	return ro.agents[i], true
}

func (r *Registry) List() []config.AgentDefinition {
	return append([]config.AgentDefinition(nil), r.current().agents...)
}

// Children returns the agents whose parent is id, in roster order.
func (r *Registry) Children(id string) []config.AgentDefinition {
	var out []config.AgentDefinition
	for _, a := range r.current().agents {
		if a.Parent == id {
			out = append(out, a)
		}
	}
	return out
}
