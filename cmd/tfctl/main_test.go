package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/event"
	"github.com/mtzanidakis/teamfeed/internal/natsbus"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{
			name: "empty",
			args: []string{},
			want: map[string]string{},
		},
		{
			name: "task",
			args: []string{"--task", "write a report"},
			want: map[string]string{"task": "write a report"},
		},
		{
			name: "follow takes no value",
			args: []string{"--follow", "--task", "x"},
			want: map[string]string{"follow": "true", "task": "x"},
		},
		{
			name: "flag without value is ignored",
			args: []string{"--task"},
			want: map[string]string{},
		},
		{
			name: "short prefix not treated as flag",
			args: []string{"-t", "x"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.args)
			if len(got) != len(tt.want) {
				t.Errorf("parseArgs(%v) returned %d entries, want %d", tt.args, len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseArgs(%v)[%q] = %q, want %q", tt.args, k, got[k], v)
				}
			}
		})
	}
}

// scriptedRunner streams a fixed two-step run through the publisher.
type scriptedRunner struct {
	pub *natsbus.Publisher

	mu   sync.Mutex
	seq  uint64
	last session.Snapshot
	err  error
}

func (r *scriptedRunner) Submit(_ context.Context, task string, _ ...session.SubmitOption) (*session.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.seq++
	id := r.seq

	go func() {
		streaming := session.Snapshot{Session: transcript.Session{
			RunID: id, Task: task, Running: true, ActiveAgent: "Writer", MainSlot: 1,
			Entries: []transcript.Entry{
				{Kind: event.KindUser, AgentName: "user", Text: task},
				{Kind: event.KindResult, AgentName: "Writer", Text: "Draft ready."},
			},
		}}
		r.publish(streaming)

		done := streaming
		done.Session.Running = false
		done.Session.ActiveAgent = ""
		done.Session.MainSlot = transcript.NoSlot
		done.Outcome = session.OutcomeCompleted
		r.publish(done)
	}()
	return &session.Run{ID: id, Task: task}, nil
}

func (r *scriptedRunner) publish(s session.Snapshot) {
	r.mu.Lock()
	r.last = s
	r.mu.Unlock()
	r.pub.OnSnapshot(s)
}

func (r *scriptedRunner) Cancel() {}

func (r *scriptedRunner) Snapshot() session.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func startService(t *testing.T) (*natsbus.Client, *scriptedRunner) {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{
		Port:    -1,
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(bus.Close)

	server, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(server.Close)

	runner := &scriptedRunner{pub: natsbus.NewPublisher(server)}
	ipc := natsbus.NewIPC(server, runner)
	if err := ipc.Start(); err != nil {
		t.Fatalf("start ipc: %v", err)
	}
	t.Cleanup(ipc.Stop)
	server.Flush()

	client, err := natsbus.NewClientFromURL(bus.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client, runner
}

func TestSubmitAndFollow(t *testing.T) {
	client, _ := startService(t)

	var (
		mu     sync.Mutex
		agents []string
	)
	f, err := follow(client, func(agent string) {
		mu.Lock()
		agents = append(agents, agent)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}

	resp, err := sendIPC(client, "submit", natsbus.SubmitPayload{Task: "write a report"})
	if err != nil {
		t.Fatalf("sendIPC: %v", err)
	}
	if !resp.OK || resp.Run != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	snap, err := f.wait(resp.Run, 5*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if snap.Outcome != session.OutcomeCompleted {
		t.Errorf("outcome = %q", snap.Outcome)
	}
	if got := transcript.Render(snap.Session); got != "[Writer] Draft ready." {
		t.Errorf("transcript = %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(agents) != 1 || agents[0] != "Writer" {
		t.Errorf("progress = %v, want [Writer]", agents)
	}
}

func TestSubmitError(t *testing.T) {
	client, runner := startService(t)
	runner.mu.Lock()
	runner.err = errors.New("task must not be empty")
	runner.mu.Unlock()

	resp, err := sendIPC(client, "submit", natsbus.SubmitPayload{Task: " "})
	if err != nil {
		t.Fatalf("sendIPC: %v", err)
	}
	if resp.Error != "task must not be empty" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestStatusLine(t *testing.T) {
	if got := statusLine(&natsbus.IPCResponse{OK: true}); got != "No run yet." {
		t.Errorf("idle status = %q", got)
	}

	streaming := &session.Snapshot{Session: transcript.Session{RunID: 3, Running: true, ActiveAgent: "Searcher"}}
	if got := statusLine(&natsbus.IPCResponse{OK: true, Run: 3, Snapshot: streaming}); !strings.Contains(got, "streaming (Searcher)") {
		t.Errorf("streaming status = %q", got)
	}

	failed := &session.Snapshot{Session: transcript.Session{RunID: 4}, Outcome: session.OutcomeFailed, Err: errors.New("connection reset")}
	if got := statusLine(&natsbus.IPCResponse{OK: true, Run: 4, Snapshot: failed}); got != "Run 4 failed: connection reset" {
		t.Errorf("failed status = %q", got)
	}
}

func TestStatusOverIPC(t *testing.T) {
	client, _ := startService(t)
	resp, err := sendIPC(client, "status", nil)
	if err != nil {
		t.Fatalf("sendIPC: %v", err)
	}
	if got := statusLine(resp); got != "No run yet." {
		t.Errorf("status = %q", got)
	}
}
