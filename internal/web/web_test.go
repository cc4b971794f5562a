package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mtzanidakis/teamfeed/internal/activity"
	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/history"
	"github.com/mtzanidakis/teamfeed/internal/registry"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/store"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
)

type fakeRunner struct {
	mu        sync.Mutex
	snap      session.Snapshot
	submitted []string
	cancelled int
}

func (f *fakeRunner) Submit(_ context.Context, task string, opts ...session.SubmitOption) (*session.Run, error) {
	if err := session.ValidateTask(task); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, task)
	id := uint64(len(f.submitted))
	f.snap = session.Snapshot{
		Session:  transcript.NewSession(id, task),
		Activity: activity.State{"supervisor": activity.Active},
		Source:   "web",
	}
	f.snap.Session.ActiveAgent = "Supervisor"
	return &session.Run{ID: id, Task: task, Source: "web"}, nil
}

func (f *fakeRunner) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	f.snap.Session.Running = false
	f.snap.Outcome = session.OutcomeCancelled
}

func (f *fakeRunner) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func newTestServer(t *testing.T, auth string) (*Server, *fakeRunner, *history.Recorder) {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runner := &fakeRunner{}
	hist := history.New(st, nil)
	reg := registry.New(nil, config.DefaultAgents())
	s := NewServer(runner, reg, hist, nil, config.WebConfig{Port: 0, Auth: auth}, "test")
	return s, runner, hist
}

func serve(t *testing.T, s *Server, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	h, err := s.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitRun(t *testing.T) {
	s, runner, _ := newTestServer(t, "")

	rec := serve(t, s, "POST", "/api/runs", `{"task":"write a report"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Run    uint64 `json:"run"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Run != 1 || resp.Source != "web" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(runner.submitted) != 1 {
		t.Errorf("expected one submission, got %v", runner.submitted)
	}
}

func TestSubmitRunRejectsInvalidTask(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"empty", `{"task":"  "}`, http.StatusBadRequest},
		{"script", `{"task":"<SCRIPT>alert(1)</script>"}`, http.StatusBadRequest},
		{"too long", `{"task":"` + strings.Repeat("a", session.MaxTaskLength+1) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, s, "POST", "/api/runs", tt.body)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
			var body map[string]string
			json.NewDecoder(rec.Body).Decode(&body)
			if body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestSessionAndCancel(t *testing.T) {
	s, runner, _ := newTestServer(t, "")
	runner.Submit(context.Background(), "write a report")

	rec := serve(t, s, "GET", "/api/session", "")
	var snap session.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if !snap.Streaming() || snap.RunID() != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	rec = serve(t, s, "POST", "/api/runs/cancel", "")
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Streaming() || snap.Outcome != session.OutcomeCancelled {
		t.Errorf("expected cancelled snapshot, got %+v", snap)
	}
	if runner.cancelled != 1 {
		t.Errorf("cancelled = %d", runner.cancelled)
	}
}

func TestListAgents(t *testing.T) {
	s, runner, _ := newTestServer(t, "")
	runner.Submit(context.Background(), "write a report")

	rec := serve(t, s, "GET", "/api/agents", "")
	var agents []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&agents); err != nil {
		t.Fatal(err)
	}
	if len(agents) != len(config.DefaultAgents()) {
		t.Fatalf("expected %d agents, got %d", len(config.DefaultAgents()), len(agents))
	}
	for _, a := range agents {
		want := "idle"
		if a["id"] == "supervisor" {
			want = "active"
			if a["active"] != true {
				t.Error("supervisor should be the active agent")
			}
		}
		if a["status"] != want {
			t.Errorf("agent %v status = %v, want %s", a["id"], a["status"], want)
		}
	}
}

// pipeStreamer opens one in-memory stream per run and hands its write end
// to the test.
type pipeStreamer struct {
	writers chan *io.PipeWriter
}

func (p *pipeStreamer) StreamChat(context.Context, string) (io.ReadCloser, error) {
	r, w := io.Pipe()
	p.writers <- w
	return r, nil
}

func TestListAgentsMarksStreamingAgent(t *testing.T) {
	reg := registry.New(nil, config.DefaultAgents())
	streamer := &pipeStreamer{writers: make(chan *io.PipeWriter, 1)}
	ctrl := session.NewController(streamer, reg, session.WithLogger(slog.New(slog.DiscardHandler)))
	t.Cleanup(ctrl.Cancel)
	s := NewServer(ctrl, reg, nil, nil, config.WebConfig{}, "test")

	if _, err := ctrl.Submit(context.Background(), "write a report"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var w *io.PipeWriter
	select {
	case w = <-streamer.writers:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was never opened")
	}
	go io.WriteString(w, `data: {"type":"status","node":"supervisor","agent":"Research Team","message":"working"}`+"\n")

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Snapshot().Session.ActiveAgent != "Research Team" {
		if time.Now().After(deadline) {
			t.Fatalf("active agent = %q", ctrl.Snapshot().Session.ActiveAgent)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := serve(t, s, "GET", "/api/agents", "")
	var agents []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&agents); err != nil {
		t.Fatal(err)
	}
	for _, a := range agents {
		wantActive := a["id"] == "research_team"
		if a["active"] != wantActive {
			t.Errorf("agent %v active = %v, want %v", a["id"], a["active"], wantActive)
		}
		if wantActive && a["status"] != "active" {
			t.Errorf("research_team status = %v, want active", a["status"])
		}
	}
}

func TestRunHistory(t *testing.T) {
	s, _, hist := newTestServer(t, "")

	snap := session.Snapshot{Session: transcript.NewSession(1, "write a report"), Outcome: session.OutcomeCompleted}
	snap.Session.Running = false
	hist.OnSnapshot(snap)
	if err := hist.Flush(); err != nil {
		t.Fatal(err)
	}
	id, _ := hist.StoredID(1)

	rec := serve(t, s, "GET", "/api/runs?limit=10", "")
	var runs []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0]["id"] != id || runs[0]["status"] != "completed" {
		t.Errorf("unexpected runs %v", runs)
	}

	rec = serve(t, s, "GET", "/api/runs/"+id, "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = serve(t, s, "GET", "/api/runs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = serve(t, s, "GET", "/api/runs?limit=x", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	s, _, _ := newTestServer(t, "s3cret")

	rec := serve(t, s, "GET", "/api/session", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", rec.Code)
	}

	rec = serve(t, s, "GET", "/api/session", "", func(r *http.Request) { r.SetBasicAuth("", "s3cret") })
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with basic auth, got %d", rec.Code)
	}

	rec = serve(t, s, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health should be public, got %d", rec.Code)
	}

	rec = serve(t, s, "POST", "/api/login", `{"password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", rec.Code)
	}

	rec = serve(t, s, "POST", "/api/login", `{"password":"s3cret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for login, got %d", rec.Code)
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("login did not set a session cookie")
	}

	withCookie := func(r *http.Request) { r.AddCookie(cookie) }
	rec = serve(t, s, "GET", "/api/auth/check", "", withCookie)
	if rec.Code != http.StatusOK {
		t.Errorf("auth check with cookie = %d", rec.Code)
	}

	serve(t, s, "POST", "/api/logout", "", withCookie)
	rec = serve(t, s, "GET", "/api/session", "", withCookie)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestAuthCheckWithoutPassword(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := serve(t, s, "GET", "/api/auth/check", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestStaticFallback(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := serve(t, s, "GET", "/history/12", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<title>teamfeed</title>") {
		t.Errorf("expected index.html, got %d", rec.Code)
	}
}

func TestWebSocketReceivesSnapshots(t *testing.T) {
	s, runner, _ := newTestServer(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	h, err := s.Handler()
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var greeting struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting.Type != "snapshot" {
		t.Errorf("greeting type = %q", greeting.Type)
	}

	runner.Submit(context.Background(), "write a report")
	s.OnSnapshot(runner.Snapshot())

	var ev struct {
		Type    string           `json:"type"`
		Payload session.Snapshot `json:"payload"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "snapshot" || ev.Payload.RunID() != 1 {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Minute, "5m"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
		{50 * time.Hour, "2d 2h 0m"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
