package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/history"
	"github.com/mtzanidakis/teamfeed/internal/natsbus"
	"github.com/mtzanidakis/teamfeed/internal/registry"
	"github.com/mtzanidakis/teamfeed/internal/scheduler"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/telegram"
	"github.com/mtzanidakis/teamfeed/internal/web"
)

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting teamfeed", "version", version, "backend", cfg.Backend.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Agent registry
	reg := registry.New(db, cfg.Agents)
	if err := reg.Sync(); err != nil {
		return fmt.Errorf("sync agent registry: %w", err)
	}

	// Run history
	rec := history.New(db, newVault(cfg))
	if n, err := rec.Interrupted(); err != nil {
		return fmt.Errorf("mark interrupted runs: %w", err)
	} else if n > 0 {
		slog.Warn("runs interrupted by previous shutdown", "count", n)
	}
	recDone := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(recDone)
	}()

	ctrl := newController(cfg, newBackend(cfg), reg, session.WithObserver(rec))

	// Embedded NATS
	var bus *natsbus.Bus
	if cfg.NATS.Enabled {
		bus, err = natsbus.New(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer bus.Close()
		slog.Info("nats started", "port", bus.Port())

		client, err := natsbus.NewClient(bus)
		if err != nil {
			return fmt.Errorf("nats client: %w", err)
		}
		defer client.Close()

		ctrl.Observe(natsbus.NewPublisher(client))

		ipc := natsbus.NewIPC(client, ctrl)
		if err := ipc.Start(); err != nil {
			return fmt.Errorf("start ipc: %w", err)
		}
		defer ipc.Stop()
	}

	// Scheduler
	sched := scheduler.New(db, ctrl, cfg.Scheduler, cfg.Schedules)
	go sched.Start(ctx)

	// Telegram bot
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, ctrl)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		ctrl.Observe(bot)
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(ctrl, reg, rec, bus, cfg.Web, version)
		if bus == nil {
			ctrl.Observe(srv)
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal, reload on SIGHUP
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			cfg = reload(cfg, reg, sched)
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}

	ctrl.Cancel()
	cancel()
	<-recDone
	return nil
}

// reload applies the reloadable parts of a changed config file and returns
// the config now in effect.
func reload(old *config.Config, reg *registry.Registry, sched *scheduler.Scheduler) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config reload failed, keeping current config", "error", err)
		return old
	}

	diff := config.Diff(old, cfg)
	for _, field := range diff.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	if !diff.HasChanges() {
		slog.Info("config reloaded, nothing to apply")
		return old
	}

	if len(diff.AgentsAdded)+len(diff.AgentsRemoved)+len(diff.AgentsChanged) > 0 {
		if err := reg.Reload(cfg.Agents); err != nil {
			slog.Error("agent roster reload failed", "error", err)
		}
		slog.Info("agent roster reloaded, applies from the next run",
			"added", diff.AgentsAdded, "removed", diff.AgentsRemoved, "changed", diff.AgentsChanged)
	}
	if diff.SchedulesChanged || diff.SchedulerChanged {
		sched.UpdateConfig(cfg.Scheduler.PollInterval, cfg.Schedules)
	}

	// Keep non-reloadable settings as they are running.
	applied := *old
	applied.Agents = cfg.Agents
	applied.Schedules = cfg.Schedules
	applied.Scheduler = cfg.Scheduler
	return &applied
}
