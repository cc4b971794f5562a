package natsbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/nats-io/nats.go"
)

// Runner is the part of the session controller the IPC handler drives.
type Runner interface {
	Submit(ctx context.Context, task string, opts ...session.SubmitOption) (*session.Run, error)
	Cancel()
	Snapshot() session.Snapshot
}

// IPCCommand is a request sent to TopicIPCRuns.
type IPCCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IPCResponse is the reply to every IPCCommand.
type IPCResponse struct {
	OK       bool              `json:"ok"`
	Error    string            `json:"error,omitempty"`
	Run      uint64            `json:"run,omitempty"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
}

type SubmitPayload struct {
	Task string `json:"task"`
}

// IPC answers run commands from local tools such as tfctl.
type IPC struct {
	client *Client
	runner Runner
	sub    *nats.Subscription
}

func NewIPC(client *Client, runner Runner) *IPC {
	return &IPC{client: client, runner: runner}
}

func (h *IPC) Start() error {
	sub, err := h.client.Subscribe(TopicIPCRuns, h.handle)
	if err != nil {
		return err
	}
	h.sub = sub
	return nil
}

func (h *IPC) Stop() {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
}

func (h *IPC) handle(msg *nats.Msg) {
	var cmd IPCCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		h.respond(msg, IPCResponse{Error: "invalid command"})
		return
	}

	slog.Info("IPC command received", "type", cmd.Type)

	switch cmd.Type {
	case "submit":
		var p SubmitPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			h.respond(msg, IPCResponse{Error: "invalid payload"})
			return
		}
		run, err := h.runner.Submit(context.Background(), p.Task, session.WithSource("ipc"))
		if err != nil {
			h.respond(msg, IPCResponse{Error: err.Error()})
			return
		}
		h.respond(msg, IPCResponse{OK: true, Run: run.ID})
	case "cancel":
		h.runner.Cancel()
		snap := h.runner.Snapshot()
		h.respond(msg, IPCResponse{OK: true, Run: snap.RunID(), Snapshot: &snap})
	case "status":
		snap := h.runner.Snapshot()
		h.respond(msg, IPCResponse{OK: true, Run: snap.RunID(), Snapshot: &snap})
	default:
		slog.Warn("unknown IPC command", "type", cmd.Type)
		h.respond(msg, IPCResponse{Error: "unknown command: " + cmd.Type})
	}
}

func (h *IPC) respond(msg *nats.Msg, resp IPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("failed to respond to IPC", "error", err)
	}
}
