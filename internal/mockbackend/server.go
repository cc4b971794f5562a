// Package mockbackend serves a scripted orchestrator: the same endpoints
// and event sequence as the real multi-agent backend, without any model
// behind it. It is used for local development and end-to-end tests.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/backend"
	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/event"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/sse"
)

const Version = "1.0.0"

type Server struct {
	agents       []config.AgentDefinition
	topLevelNode string
	systemAgent  string
	delay        time.Duration
	deltaChunks  bool
	now          func() time.Time
}

type Option func(*Server)

// WithDelay sets the pause between streamed events.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithDeltaChunks streams the answer as delta events that concatenate into
// one paragraph instead of plain result chunks.
func WithDeltaChunks() Option {
	return func(s *Server) { s.deltaChunks = true }
}

func WithTopLevelNode(node string) Option {
	return func(s *Server) {
		if node != "" {
			s.topLevelNode = node
		}
	}
}

func WithSystemAgent(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.systemAgent = name
		}
	}
}

func New(agents []config.AgentDefinition, opts ...Option) *Server {
	s := &Server{
		agents:       agents,
		topLevelNode: "supervisor",
		systemAgent:  "System",
		delay:        20 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /stream-chat", s.handleStreamChat)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	sw := sse.NewWriter(w)
	if sw == nil {
		detail(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events := append([]event.StreamEvent{{
		Kind:      event.KindConnection,
		AgentName: s.systemAgent,
		Text:      "stream connected",
		Timestamp: s.timestamp(),
	}}, s.Script(req.Task)...)

	for i, ev := range events {
		if i > 0 && s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-r.Context().Done():
				slog.Debug("mock stream client gone", "sent", i)
				return
			}
		}
		if err := sw.SendStreamEvent(ev); err != nil {
			slog.Debug("mock stream write failed", "error", err)
			return
		}
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	script := s.Script(req.Task)
	var result []string
	for _, ev := range script {
		if ev.Kind == event.KindResult {
			result = append(result, ev.Text)
		}
	}

	writeJSON(w, http.StatusOK, backend.ChatResponse{
		Success: true,
		Message: "task completed",
		Data: backend.ChatData{
			Task:   req.Task,
			Result: strings.Join(result, " "),
			Steps:  len(script),
		},
		Timestamp: s.timestamp(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Directory())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, backend.Health{
		Status:    "healthy",
		Version:   Version,
		Timestamp: s.now().Format(time.DateOnly),
	})
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (backend.ChatRequest, bool) {
	var req backend.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detail(w, "invalid request body", http.StatusUnprocessableEntity)
		return req, false
	}
	if err := session.ValidateTask(req.Task); err != nil {
		detail(w, err.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// Directory reports the roster grouped by layer, team members nested under
// their layer-2 supervisor.
func (s *Server) Directory() backend.AgentDirectory {
	dir := backend.AgentDirectory{}
	for _, a := range s.agents {
		key := fmt.Sprintf("layer_%d", a.Layer)
		layer, ok := dir[key]
		if !ok {
			layer = backend.AgentLayer{Name: fmt.Sprintf("Layer %d", a.Layer), Nodes: map[string]backend.AgentNode{}}
		}
		layer.Nodes[a.ID] = backend.AgentNode{
			Name:        a.Name,
			Role:        a.Role,
			Description: a.Description,
			Layer:       a.Layer,
		}
		dir[key] = layer
	}

	for _, a := range s.agents {
		parent, ok := s.find(a.Parent)
		if !ok || parent.Layer != 2 {
			continue
		}
		key := fmt.Sprintf("layer_%d", parent.Layer)
		node := dir[key].Nodes[parent.ID]
		if node.Members == nil {
			node.Members = map[string]backend.AgentNode{}
		}
		node.Members[a.ID] = backend.AgentNode{Name: a.Name, Layer: a.Layer, Description: a.Description}
		dir[key].Nodes[parent.ID] = node
	}
	return dir
}

func (s *Server) find(id string) (config.AgentDefinition, bool) {
	for _, a := range s.agents {
		if a.ID == id && id != "" {
			return a, true
		}
	}
	return config.AgentDefinition{}, false
}

func (s *Server) timestamp() string {
	return s.now().Format("2006-01-02T15:04:05")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func detail(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"detail": msg})
}
