package mockbackend

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/event"
)

// Script returns the events the top-level supervisor emits for task, up to
// and including end. All progress is reported by the supervisor; team and
// worker progress appears as 【name】 prefixed status lines.
func (s *Server) Script(task string) []event.StreamEvent {
	lead := s.lead()
	ts := s.timestamp()

	say := func(kind event.Kind, text string) event.StreamEvent {
		return event.StreamEvent{
			Kind:       kind,
			OriginNode: s.topLevelNode,
			AgentName:  lead.Name,
			Text:       text,
			Timestamp:  ts,
		}
	}

	var out []event.StreamEvent
	out = append(out, say(event.KindThinking, "Analysing the task..."))
	out = append(out, say(event.KindThinking, "Assessing task complexity..."))
	out = append(out, say(event.KindThinking, "Planning the execution strategy..."))
	for _, team := range s.layer(2) {
		out = append(out, say(event.KindThinking, fmt.Sprintf("Assigning work to %s...", team.Name)))
	}

	out = append(out, say(event.KindStatus, "Running team subtasks..."))
	for _, team := range s.layer(2) {
		out = append(out, say(event.KindStatus, fmt.Sprintf("【%s】 working on its subtask...", team.Name)))
	}
	for _, worker := range s.workers() {
		out = append(out, say(event.KindStatus, fmt.Sprintf("【%s】 %s...", worker.Name, strings.ToLower(worker.Description))))
	}

	for _, team := range s.layer(2) {
		out = append(out, say(event.KindThinking, fmt.Sprintf("Receiving results from %s...", team.Name)))
	}
	out = append(out, say(event.KindThinking, "Analysing all results..."))
	out = append(out, say(event.KindThinking, "Consolidating key information..."))
	out = append(out, say(event.KindThinking, "Building the final answer..."))

	// Plain result chunks, as the orchestrator sends them. With delta chunks
	// the first opens the answer paragraph and the rest continue it.
	for i, chunk := range chunkWords(s.answer(task)) {
		ev := say(event.KindResult, chunk)
		if s.deltaChunks && i > 0 {
			ev.Text = " " + chunk
			ev.IsDelta = true
		}
		out = append(out, ev)
	}

	out = append(out, event.StreamEvent{
		Kind:      event.KindEnd,
		AgentName: s.systemAgent,
		Text:      "task completed",
		Timestamp: ts,
	})
	return out
}

// answer is the canned final report: one paragraph per worker.
func (s *Server) answer(task string) string {
	var parts []string
	for _, w := range s.workers() {
		parts = append(parts, fmt.Sprintf("[%s] Finished its part of %q.", w.Name, task))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("Finished %q.", task))
	}
	return strings.Join(parts, "\n\n")
}

// chunkWords splits text into word groups the way the orchestrator streams
// its answer: up to five words per chunk, fewer for short answers.
func chunkWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	size := min(5, max(1, len(words)/20))

	var chunks []string
	for i := 0; i < len(words); i += size {
		chunks = append(chunks, strings.Join(words[i:min(i+size, len(words))], " "))
	}
	return chunks
}

func (s *Server) lead() config.AgentDefinition {
	if a, ok := s.find(s.topLevelNode); ok {
		return a
	}
	for _, a := range s.agents {
		if a.Layer == 1 {
			return a
		}
	}
	return config.AgentDefinition{ID: s.topLevelNode, Name: s.topLevelNode}
}

func (s *Server) layer(n int) []config.AgentDefinition {
	var out []config.AgentDefinition
	for _, a := range s.agents {
		if a.Layer == n {
			out = append(out, a)
		}
	}
	return out
}

// workers are the layer-3 agents nobody reports to.
func (s *Server) workers() []config.AgentDefinition {
	hasChildren := make(map[string]bool)
	for _, a := range s.agents {
		hasChildren[a.Parent] = true
	}
	var out []config.AgentDefinition
	for _, a := range s.layer(3) {
		if !hasChildren[a.ID] {
			out = append(out, a)
		}
	}
	return out
}
