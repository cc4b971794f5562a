package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/natsbus"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
	"github.com/nats-io/nats.go"
)

const requestTimeout = 10 * time.Second

func sendIPC(client *natsbus.Client, cmdType string, payload any) (*natsbus.IPCResponse, error) {
	cmd := natsbus.IPCCommand{Type: cmdType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		cmd.Payload = data
	}

	var resp natsbus.IPCResponse
	if err := client.RequestJSON(natsbus.TopicIPCRuns, cmd, &resp, requestTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

// follower collects the terminal snapshots of every run and reports agent
// hand-offs of the run it is told to follow.
type follower struct {
	sub      *nats.Subscription
	finished chan session.Snapshot
	progress func(agent string)
	lastSeen string
}

func follow(client *natsbus.Client, progress func(agent string)) (*follower, error) {
	f := &follower{finished: make(chan session.Snapshot, 16), progress: progress}
	sub, err := client.Subscribe(natsbus.TopicEventsRuns, func(msg *nats.Msg) {
		var snap session.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			return
		}
		if snap.Outcome != session.OutcomeNone {
			select {
			case f.finished <- snap:
			default:
			}
			return
		}
		if agent := snap.Session.ActiveAgent; agent != "" && agent != f.lastSeen {
			f.lastSeen = agent
			if f.progress != nil {
				f.progress(agent)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if err := client.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	f.sub = sub
	return f, nil
}

// wait returns the terminal snapshot of run.
func (f *follower) wait(run uint64, timeout time.Duration) (session.Snapshot, error) {
	defer f.sub.Unsubscribe()
	deadline := time.After(timeout)
	for {
		select {
		case snap := <-f.finished:
			if snap.RunID() == run {
				return snap, nil
			}
		case <-deadline:
			return session.Snapshot{}, fmt.Errorf("run %d did not finish within %s", run, timeout)
		}
	}
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" {
			key := args[i][2:]
			if key == "follow" {
				result[key] = "true"
				continue
			}
			if i+1 < len(args) {
				result[key] = args[i+1]
				i++
			}
		}
	}
	return result
}

func statusLine(resp *natsbus.IPCResponse) string {
	if resp.Snapshot == nil || resp.Run == 0 {
		return "No run yet."
	}
	s := resp.Snapshot
	switch {
	case s.Streaming() && s.Session.ActiveAgent != "":
		return fmt.Sprintf("Run %d streaming (%s), %d entries", resp.Run, s.Session.ActiveAgent, len(s.Session.Entries))
	case s.Streaming():
		return fmt.Sprintf("Run %d streaming, %d entries", resp.Run, len(s.Session.Entries))
	case s.Err != nil:
		return fmt.Sprintf("Run %d %s: %v", resp.Run, s.Outcome, s.Err)
	default:
		return fmt.Sprintf("Run %d %s, %d entries", resp.Run, s.Outcome, len(s.Session.Entries))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  tfctl submit --task "..." [--follow]`)
	fmt.Fprintln(os.Stderr, "  tfctl status")
	fmt.Fprintln(os.Stderr, "  tfctl cancel")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		fatal("%v", err)
	}
	defer client.Close()

	switch command {
	case "submit":
		args := parseArgs(rest)
		if args["task"] == "" {
			fatal("--task is required")
		}

		var f *follower
		if args["follow"] != "" {
			f, err = follow(client, func(agent string) {
				fmt.Fprintf(os.Stderr, "… %s\n", agent)
			})
			if err != nil {
				fatal("%v", err)
			}
		}

		resp, err := sendIPC(client, "submit", natsbus.SubmitPayload{Task: args["task"]})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		if f == nil {
			fmt.Printf("Run submitted: %d\n", resp.Run)
			return
		}

		snap, err := f.wait(resp.Run, time.Hour)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println(transcript.Render(snap.Session))
		if snap.Err != nil {
			fatal("run %s: %v", snap.Outcome, snap.Err)
		}

	case "status":
		resp, err := sendIPC(client, "status", nil)
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Println(statusLine(resp))

	case "cancel":
		resp, err := sendIPC(client, "cancel", nil)
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Println(statusLine(resp))

	default:
		fatal("unknown command: %s", command)
	}
}
