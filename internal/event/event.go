// Package event defines the progress events emitted by the orchestrator
// stream and their wire decoding.
package event

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindConnection    Kind = "connection"
	KindStatus        Kind = "status"
	KindDecomposition Kind = "decomposition"
	KindAssignment    Kind = "assignment"
	KindExecution     Kind = "execution"
	KindThinking      Kind = "thinking"
	KindResult        Kind = "result"
	KindAggregation   Kind = "aggregation"
	KindFinal         Kind = "final"
	KindError         Kind = "error"
	KindEnd           Kind = "end"
	KindUser          Kind = "user"
)

// DefaultSystemAgent is attributed to events that carry no agent name.
const DefaultSystemAgent = "system"

var knownKinds = map[Kind]bool{
	KindConnection:    true,
	KindStatus:        true,
	KindDecomposition: true,
	KindAssignment:    true,
	KindExecution:     true,
	KindThinking:      true,
	KindResult:        true,
	KindAggregation:   true,
	KindFinal:         true,
	KindError:         true,
	KindEnd:           true,
	KindUser:          true,
}

// Known reports whether k is one of the kinds this package understands.
// Unknown kinds are decoded anyway so newer backends don't break older
// consumers.
func (k Kind) Known() bool {
	return knownKinds[k]
}

type Subtask struct {
	Title       string `json:"title"`
	Requirement string `json:"requirement"`
}

type CurrentTask struct {
	Title string `json:"title"`
}

// StreamEvent is one decoded progress event. Values are never modified
// after decoding.
type StreamEvent struct {
	Kind        Kind
	OriginNode  string
	AgentName   string
	Text        string
	IsDelta     bool
	Timestamp   string
	Subtasks    []Subtask
	CurrentTask *CurrentTask
}

// wireEvent mirrors the JSON object carried on each `data:` line.
type wireEvent struct {
	Type        string       `json:"type"`
	Node        string       `json:"node,omitempty"`
	Agent       string       `json:"agent,omitempty"`
	Message     string       `json:"message"`
	Delta       bool         `json:"delta,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Subtasks    []Subtask    `json:"subtasks,omitempty"`
	CurrentTask *CurrentTask `json:"current_task,omitempty"`
}

// Decode parses one JSON payload. Events without an agent are attributed to
// systemAgent, or DefaultSystemAgent when systemAgent is empty.
func Decode(payload []byte, systemAgent string) (StreamEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return StreamEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if w.Type == "" {
		return StreamEvent{}, fmt.Errorf("unmarshal event: missing type")
	}

	agent := w.Agent
	if agent == "" {
		agent = systemAgent
	}
	if agent == "" {
		agent = DefaultSystemAgent
	}

	return StreamEvent{
		Kind:        Kind(w.Type),
		OriginNode:  w.Node,
		AgentName:   agent,
		Text:        w.Message,
		IsDelta:     w.Delta,
		Timestamp:   w.Timestamp,
		Subtasks:    w.Subtasks,
		CurrentTask: w.CurrentTask,
	}, nil
}

// Encode renders e in the wire format. It is the inverse of Decode apart
// from the system agent default.
func Encode(e StreamEvent) ([]byte, error) {
	data, err := json.Marshal(wireEvent{
		Type:        string(e.Kind),
		Node:        e.OriginNode,
		Agent:       e.AgentName,
		Message:     e.Text,
		Delta:       e.IsDelta,
		Timestamp:   e.Timestamp,
		Subtasks:    e.Subtasks,
		CurrentTask: e.CurrentTask,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}
