package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mtzanidakis/teamfeed/internal/backend"
	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/history"
	"github.com/mtzanidakis/teamfeed/internal/registry"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
	"github.com/mtzanidakis/teamfeed/internal/tui"
	"github.com/muesli/reflow/wordwrap"
)

const wrapWidth = 100

// runOnce submits one task, waits for the run to end and prints its
// transcript.
func runOnce(args []string) error {
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" {
		return fmt.Errorf("usage: teamfeed run <task>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(nil, cfg.Agents)
	ctrl := newController(cfg, newBackend(cfg), reg)
	run, err := ctrl.Submit(ctx, task, session.WithSource("cli"))
	if err != nil {
		return err
	}

	snap, err := session.Wait(ctx, run)
	if errors.Is(err, context.Canceled) {
		ctrl.Cancel()
		snap = run.Final()
		err = nil
	}
	fmt.Println(formatTranscript(snap.Session.Entries))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\nrun %d %s: %d events, %d dropped\n",
		run.ID, snap.Outcome, snap.Stats.Events, snap.Stats.Malformed+snap.Stats.Incomplete)
	return nil
}

func formatTranscript(entries []transcript.Entry) string {
	text := transcript.Render(transcript.Session{Entries: entries})
	return wordwrap.String(text, wrapWidth)
}

func runTUI() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := registry.New(nil, cfg.Agents)
	feed := tui.NewFeed()
	ctrl := newController(cfg, newBackend(cfg), reg, session.WithObserver(feed))
	defer ctrl.Cancel()

	p := tea.NewProgram(tui.New(ctrl, feed, reg.List()), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()
	return err
}

func runAgents() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir, err := newBackend(cfg).Agents(ctx)
	if err != nil {
		return err
	}
	printDirectory(os.Stdout, dir)
	return nil
}

func printDirectory(w io.Writer, dir backend.AgentDirectory) {
	layers := make([]string, 0, len(dir))
	for k := range dir {
		layers = append(layers, k)
	}
	sort.Strings(layers)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tID\tNAME\tROLE")
	for _, k := range layers {
		layer := dir[k]
		ids := make([]string, 0, len(layer.Nodes))
		for id := range layer.Nodes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			n := layer.Nodes[id]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", layer.Name, id, n.Name, n.Role)
		}
	}
	tw.Flush()
}

func runHealth() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := newBackend(cfg).Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s (version %s, %s)\n", cfg.Backend.URL, h.Status, h.Version, h.Timestamp)
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	rec := history.New(db, newVault(cfg))

	if id := fs.Arg(0); id != "" {
		r, err := rec.Get(id)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("run %s not found", id)
		}
		fmt.Printf("Run %s (%s, %s)\nTask: %s\n\n", r.Run.ID, r.Run.Source, r.Run.Status, r.Run.Task)
		fmt.Println(formatTranscript(r.Entries))
		return nil
	}

	runs, err := rec.List(*limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs stored.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSOURCE\tSTATUS\tTASK")
	for _, r := range runs {
		task := r.Task
		if len(task) > 50 {
			task = task[:47] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Local().Format("Jan 2 15:04"), r.Source, r.Status, task)
	}
	return tw.Flush()
}
