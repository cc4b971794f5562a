package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one WebSocket message: "snapshot" carries a session snapshot,
// "agents" the activity board.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan Event
	mu        sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				slog.Warn("marshal websocket event failed", "error", err)
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("websocket broadcast channel full, dropping event")
	}
}

// Register adds conn after sending it greeting, so a new client starts from
// the current state before any broadcast reaches it.
func (h *Hub) Register(conn *websocket.Conn, greeting Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := conn.WriteJSON(greeting); err != nil {
		return err
	}
	h.clients[conn] = true
	return nil
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := s.hub.Register(conn, Event{Type: "snapshot", Payload: s.ctrl.Snapshot()}); err != nil {
		slog.Debug("websocket greeting failed", "error", err)
		return
	}
	defer s.hub.Unregister(conn)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
