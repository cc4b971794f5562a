package mockbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/activity"
	"github.com/mtzanidakis/teamfeed/internal/backend"
	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/event"
	"github.com/mtzanidakis/teamfeed/internal/frame"
	"github.com/mtzanidakis/teamfeed/internal/registry"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(config.DefaultAgents(), WithDelay(0))
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestScriptShape(t *testing.T) {
	s := New(config.DefaultAgents())
	script := s.Script("write a report")

	if script[0].Kind != event.KindThinking {
		t.Errorf("expected script to open with thinking, got %s", script[0].Kind)
	}
	last := script[len(script)-1]
	if last.Kind != event.KindEnd || last.OriginNode != "" {
		t.Errorf("expected node-less end last, got %+v", last)
	}

	statuses := 0
	for _, ev := range script[:len(script)-1] {
		if ev.OriginNode != "supervisor" || ev.AgentName != "Supervisor" {
			t.Fatalf("expected every progress event from the supervisor, got %+v", ev)
		}
		if ev.Kind == event.KindStatus {
			statuses++
		}
	}
	// one general status, two teams, five workers
	if statuses != 8 {
		t.Errorf("expected 8 status events, got %d", statuses)
	}
}

func resultChunks(script []event.StreamEvent) []event.StreamEvent {
	var out []event.StreamEvent
	for _, ev := range script {
		if ev.Kind == event.KindResult {
			out = append(out, ev)
		}
	}
	return out
}

func TestScriptResultChunks(t *testing.T) {
	plain := resultChunks(New(config.DefaultAgents()).Script("write a report"))
	if len(plain) < 2 {
		t.Fatalf("expected several result chunks, got %d", len(plain))
	}
	for _, ev := range plain {
		if ev.IsDelta || strings.HasPrefix(ev.Text, " ") {
			t.Errorf("expected plain result chunk, got %+v", ev)
		}
	}

	delta := resultChunks(New(config.DefaultAgents(), WithDeltaChunks()).Script("write a report"))
	if len(delta) != len(plain) {
		t.Fatalf("expected %d chunks in delta mode, got %d", len(plain), len(delta))
	}
	if delta[0].IsDelta || delta[0].Text != plain[0].Text {
		t.Errorf("first chunk should open the answer, got %+v", delta[0])
	}
	for i, ev := range delta[1:] {
		if !ev.IsDelta || ev.Text != " "+plain[i+1].Text {
			t.Errorf("chunk %d = %+v, want delta %q", i+1, ev, " "+plain[i+1].Text)
		}
	}
}

func TestChunkWords(t *testing.T) {
	if got := chunkWords("a b c"); len(got) != 3 {
		t.Errorf("short answers stream word by word, got %v", got)
	}
	long := strings.Repeat("w ", 100)
	got := chunkWords(long)
	if len(got) != 20 || got[0] != "w w w w w" {
		t.Errorf("expected 20 chunks of 5 words, got %d: %q", len(got), got[0])
	}
	if chunkWords("  ") != nil {
		t.Error("expected no chunks for blank text")
	}
}

func TestStreamChatEndToEnd(t *testing.T) {
	_, srv := newTestServer(t)

	c := session.NewController(backend.New(srv.URL), registry.New(nil, config.DefaultAgents()),
		session.WithLogger(slog.New(slog.DiscardHandler)),
		session.WithDecoderOptions(frame.WithSystemAgent("System")),
	)
	run, err := c.Submit(context.Background(), "write a report")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := session.Wait(ctx, run)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	if final.Outcome != session.OutcomeCompleted {
		t.Errorf("expected completed, got %q", final.Outcome)
	}
	view := transcript.View(final.Session)
	if len(view) != 3 {
		t.Fatalf("expected connection, live box and end, got %d entries", len(view))
	}
	box := view[1].Text
	if !strings.HasPrefix(box, "Analysing the task...\n") {
		t.Errorf("unexpected box start %q", box[:min(len(box), 40)])
	}
	if !strings.Contains(box, "Building the final answer...\n\n[Searcher] Finished") {
		t.Errorf("expected answer paragraph after thinking, got %q", box)
	}
	if strings.Contains(box, "\n\n\n") {
		t.Error("unexpected tripled newline")
	}
	if final.Activity.Count(activity.Idle) != len(config.DefaultAgents()) {
		t.Errorf("expected all agents idle after end, got %v", final.Activity)
	}
	if final.Stats.Malformed != 0 || final.Stats.Incomplete != 0 {
		t.Errorf("expected clean decode, got %+v", final.Stats)
	}
}

func TestStreamChatRejectsInvalidTask(t *testing.T) {
	_, srv := newTestServer(t)

	_, err := backend.New(srv.URL).StreamChat(context.Background(), "<script>alert(1)</script>")
	if !errors.Is(err, backend.ErrStatus) || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 status error, got %v", err)
	}
}

func TestStreamChatRejectsBadBody(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/stream-chat", "application/json", bytes.NewBufferString("{"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
}

func TestChat(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := backend.New(srv.URL).Chat(context.Background(), "summarise")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !resp.Success || resp.Data.Task != "summarise" {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.Contains(resp.Data.Result, "[Writer] Finished") {
		t.Errorf("expected canned answer, got %q", resp.Data.Result)
	}
	if resp.Timestamp != "2026-01-02T03:04:05" {
		t.Errorf("unexpected timestamp %q", resp.Timestamp)
	}
}

func TestAgentsDirectory(t *testing.T) {
	_, srv := newTestServer(t)

	dir, err := backend.New(srv.URL).Agents(context.Background())
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	if len(dir) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(dir))
	}
	research := dir["layer_2"].Nodes["research_team"]
	if _, ok := research.Members["search_team"]; !ok {
		t.Errorf("expected search team nested under research team, got %+v", research)
	}
	if dir["layer_1"].Nodes["supervisor"].Name != "Supervisor" {
		t.Errorf("unexpected layer 1: %+v", dir["layer_1"])
	}
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var h backend.Health
	json.NewDecoder(resp.Body).Decode(&h)
	if h.Status != "healthy" || h.Version != Version || h.Timestamp != "2026-01-02" {
		t.Errorf("unexpected health %+v", h)
	}
}
