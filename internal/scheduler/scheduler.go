// Package scheduler submits configured tasks when their schedule falls due.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/schedule"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/store"
)

// Runner is the part of the session controller the scheduler needs.
type Runner interface {
	Submit(ctx context.Context, task string, opts ...session.SubmitOption) (*session.Run, error)
	Snapshot() session.Snapshot
}

type Scheduler struct {
	store  *store.Store
	runner Runner
	now    func() time.Time

	mu           sync.Mutex
	pollInterval time.Duration
	defs         []config.ScheduleDefinition
	reloadCh     chan struct{}
}

func New(s *store.Store, runner Runner, cfg config.SchedulerConfig, defs []config.ScheduleDefinition) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       runner,
		now:          time.Now,
		pollInterval: cfg.PollInterval,
		defs:         defs,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig replaces the poll interval and schedule definitions, then
// signals the run loop to resync and reset its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration, defs []config.ScheduleDefinition) {
	s.mu.Lock()
	s.pollInterval = pollInterval
	s.defs = defs
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// Sync brings the stored schedule state in line with the definitions. A
// definition whose schedule or task changed gets a fresh next run; unchanged
// ones keep their bookkeeping. Invalid definitions are skipped and reported.
func (s *Scheduler) Sync() error {
	s.mu.Lock()
	defs := s.defs
	s.mu.Unlock()

	now := s.now()
	var errs []error
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)

		sched, err := schedule.FromDefinition(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		encoded := sched.Encode()

		existing, err := s.store.GetSchedule(def.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if existing != nil && existing.Schedule == encoded && existing.Task == def.Task {
			continue
		}

		state := &store.ScheduleState{
			Name:      def.Name,
			Task:      def.Task,
			Schedule:  encoded,
			Status:    "active",
			NextRunAt: schedule.NextRun(encoded, now),
		}
		if state.NextRunAt == nil {
			state.Status = "completed"
		}
		if err := s.store.SaveSchedule(state); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("schedule synced", "name", def.Name, "schedule", schedule.FormatSchedule(encoded), "next_run", state.NextRunAt)
	}

	if err := s.store.DeleteSchedulesNotIn(names); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		return 30 * time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) Start(ctx context.Context) {
	if err := s.Sync(); err != nil {
		slog.Error("schedule sync failed", "error", err)
	}

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			if err := s.Sync(); err != nil {
				slog.Error("schedule sync failed", "error", err)
			}
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll submits every due schedule. While a run is streaming due schedules
// wait for a later poll rather than superseding it.
func (s *Scheduler) Poll(ctx context.Context) {
	due, err := s.store.GetDueSchedules(s.now().UTC())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}

	for _, st := range due {
		if s.runner.Snapshot().Streaming() {
			slog.Info("run in progress, deferring schedule", "name", st.Name)
			return
		}
		s.execute(ctx, st)
	}
}

func (s *Scheduler) execute(ctx context.Context, st store.ScheduleState) {
	slog.Info("executing schedule", "name", st.Name)

	run, err := s.runner.Submit(ctx, st.Task, session.WithSource("schedule"))

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled submit failed", "name", st.Name, "error", err)
	} else {
		lastStatus = "submitted"
		slog.Info("scheduled run started", "name", st.Name, "run", run.ID)
	}

	nextRun := schedule.NextRun(st.Schedule, s.now())
	if err := s.store.UpdateScheduleRun(st.Name, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update schedule run", "name", st.Name, "error", err)
	}

	// One-off schedules are done once they have no next run
	if nextRun == nil {
		slog.Info("no next run, marking schedule as completed", "name", st.Name)
		if err := s.store.UpdateScheduleStatus(st.Name, "completed"); err != nil {
			slog.Error("failed to complete schedule", "name", st.Name, "error", err)
		}
	}
}
