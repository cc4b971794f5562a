package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/history"
	"github.com/mtzanidakis/teamfeed/internal/natsbus"
	"github.com/mtzanidakis/teamfeed/internal/registry"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/nats-io/nats.go"
	"golang.org/x/crypto/argon2"
)

//go:embed static
var staticFiles embed.FS

const (
	sessionCookieName = "session"
	sessionMaxAge     = 30 * 24 * time.Hour // 30 days
)

type Server struct {
	ctrl      natsbus.Runner
	registry  *registry.Registry
	history   *history.Recorder
	bus       *natsbus.Bus
	nats      *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time

	// authSalt and authDigest hold the Argon2id digest of cfg.Auth, so
	// passwords are compared in constant time on equal-length inputs.
	authSalt   []byte
	authDigest []byte

	sessionMu sync.Mutex
	sessions  map[string]time.Time // token → expiry
}

// NewServer builds the HTTP surface over ctrl. hist and bus may be nil; without
// a bus the server must be registered as a controller observer to feed its
// WebSocket clients.
func NewServer(ctrl natsbus.Runner, reg *registry.Registry, hist *history.Recorder, bus *natsbus.Bus, cfg config.WebConfig, version string) *Server {
	s := &Server{
		ctrl:      ctrl,
		registry:  reg,
		history:   hist,
		bus:       bus,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		sessions:  make(map[string]time.Time),
	}
	if cfg.Auth != "" {
		s.authSalt = make([]byte, 16)
		if _, err := rand.Read(s.authSalt); err != nil {
			panic(fmt.Sprintf("read random salt: %v", err))
		}
		s.authDigest = s.digest(cfg.Auth)
	}
	return s
}

func (s *Server) digest(password string) []byte {
	return argon2.IDKey([]byte(password), s.authSalt, 1, 64*1024, 4, 32)
}

func (s *Server) passwordOK(password string) bool {
	return subtle.ConstantTimeCompare(s.digest(password), s.authDigest) == 1
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	// Auth endpoints (public)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	s.registerAPI(mux)

	mux.HandleFunc("/api/ws", s.handleWebSocket)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("static fs: %w", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// SPA fallback: serve index.html for non-file routes
		if !strings.Contains(r.URL.Path, ".") && r.URL.Path != "/" {
			r.URL.Path = "/"
		}
		fileServer.ServeHTTP(w, r)
	})

	return s.withMiddleware(mux), nil
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	if err := s.subscribeEvents(); err != nil {
		return err
	}
	defer func() {
		if s.nats != nil {
			s.nats.Close()
		}
	}()

	handler, err := s.Handler()
	if err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" {
			if r.URL.Path == "/api/login" || r.URL.Path == "/api/auth/check" || r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}
			if !s.checkAuth(w, r) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// validSession reports whether token is a live session, extending it if so.
func (s *Server) validSession(token string) bool {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	expiry, ok := s.sessions[token]
	if ok && time.Now().Before(expiry) {
		s.sessions[token] = time.Now().Add(sessionMaxAge)
		return true
	}
	if ok {
		delete(s.sessions, token)
	}
	return false
}

// checkAuth validates session cookie or Basic Auth. Returns true if authenticated.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && s.validSession(cookie.Value) {
		s.setSessionCookie(w, cookie.Value)
		return true
	}

	// Fall back to Basic Auth (for programmatic API access)
	if _, pass, ok := r.BasicAuth(); ok && s.passwordOK(pass) {
		return true
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) createSession() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.sessionMu.Lock()
	s.sessions[token] = time.Now().Add(sessionMaxAge)
	s.sessionMu.Unlock()

	return token, nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !s.passwordOK(body.Password) {
		jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}

	token, err := s.createSession()
	if err != nil {
		jsonError(w, "session creation failed", http.StatusInternalServerError)
		return
	}

	s.setSessionCookie(w, token)
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessionMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	// No auth configured, the UI skips login
	if s.cfg.Auth == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil && s.validSession(cookie.Value) {
		s.setSessionCookie(w, cookie.Value)
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func (s *Server) subscribeEvents() error {
	if s.bus == nil {
		return nil
	}
	client, err := natsbus.NewClient(s.bus)
	if err != nil {
		return fmt.Errorf("web nats client: %w", err)
	}
	s.nats = client

	_, err = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		if !json.Valid(msg.Data) {
			slog.Warn("invalid NATS event payload", "subject", msg.Subject)
			return
		}
		eventType := "agents"
		if _, ok := natsbus.RunIDFromTopic(msg.Subject); ok {
			eventType = "snapshot"
		}
		s.hub.Broadcast(Event{Type: eventType, Payload: json.RawMessage(msg.Data)})
	})
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	return nil
}

// OnSnapshot feeds WebSocket clients directly when no bus is configured.
func (s *Server) OnSnapshot(snap session.Snapshot) {
	if s.bus != nil || snap.RunID() == 0 {
		return
	}
	s.hub.Broadcast(Event{Type: "snapshot", Payload: snap})
}
