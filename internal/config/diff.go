package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	AgentsAdded   []string
	AgentsRemoved []string
	AgentsChanged []string

	SchedulesChanged bool
	NewSchedules     []ScheduleDefinition

	SchedulerChanged bool
	NewPollInterval  SchedulerConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.AgentsAdded) > 0 ||
		len(d.AgentsRemoved) > 0 ||
		len(d.AgentsChanged) > 0 ||
		d.SchedulesChanged ||
		d.SchedulerChanged
}

// Diff compares two configs and returns what changed. Agents are matched
// by ID; the result lists IDs in roster order.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	oldAgents := agentsByID(old.Agents)
	newAgents := agentsByID(new.Agents)

	for _, a := range new.Agents {
		prev, ok := oldAgents[a.ID]
		switch {
		case !ok:
			d.AgentsAdded = append(d.AgentsAdded, a.ID)
		case !reflect.DeepEqual(prev, a):
			d.AgentsChanged = append(d.AgentsChanged, a.ID)
		}
	}
	for _, a := range old.Agents {
		if _, ok := newAgents[a.ID]; !ok {
			d.AgentsRemoved = append(d.AgentsRemoved, a.ID)
		}
	}

	if !slices.EqualFunc(old.Schedules, new.Schedules, func(a, b ScheduleDefinition) bool {
		return a.Name == b.Name && a.Task == b.Task && a.Cron == b.Cron &&
			a.Interval == b.Interval && a.At.Equal(b.At)
	}) {
		d.SchedulesChanged = true
		d.NewSchedules = new.Schedules
	}

	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewPollInterval = new.Scheduler
	}

	// Non-reloadable warnings
	if old.Backend != new.Backend {
		d.NonReloadable = append(d.NonReloadable, "backend")
	}
	if old.Transcript != new.Transcript {
		d.NonReloadable = append(d.NonReloadable, "transcript")
	}
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}

func agentsByID(agents []AgentDefinition) map[string]AgentDefinition {
	m := make(map[string]AgentDefinition, len(agents))
	for _, a := range agents {
		m[a.ID] = a
	}
	return m
}
