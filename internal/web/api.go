package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/activity"
	"github.com/mtzanidakis/teamfeed/internal/session"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Live session
	mux.HandleFunc("POST /api/runs", s.submitRun)
	mux.HandleFunc("POST /api/runs/cancel", s.cancelRun)
	mux.HandleFunc("GET /api/session", s.getSession)

	// Roster
	mux.HandleFunc("GET /api/agents", s.listAgents)

	// History
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)

	// System
	mux.HandleFunc("GET /api/health", s.getHealth)
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.ctrl.Submit(r.Context(), body.Task, session.WithSource("web"))
	if errors.Is(err, session.ErrInvalidTask) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"run":    run.ID,
		"source": run.Source,
	})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Cancel()
	jsonResponse(w, s.ctrl.Snapshot())
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.ctrl.Snapshot())
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()

	// The session names the active agent the way the stream does.
	activeID, _ := s.registry.Resolve(snap.Session.ActiveAgent)

	agents := s.registry.List()
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		status := snap.Activity[a.ID]
		if status == "" {
			status = activity.Idle
		}
		out = append(out, map[string]any{
			"id":          a.ID,
			"name":        a.Name,
			"role":        a.Role,
			"description": a.Description,
			"layer":       a.Layer,
			"parent":      a.Parent,
			"status":      status,
			"active":      activeID != "" && a.ID == activeID,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, "history is disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.history.List(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		m := map[string]any{
			"id":         run.ID,
			"seq":        run.Seq,
			"task":       run.Task,
			"source":     run.Source,
			"status":     run.Status,
			"started_at": formatTime(run.StartedAt),
		}
		if run.Error != "" {
			m["error"] = run.Error
		}
		if run.CompletedAt != nil {
			m["completed_at"] = formatTime(*run.CompletedAt)
			m["duration"] = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		out = append(out, m)
	}
	jsonResponse(w, out)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, "history is disabled", http.StatusServiceUnavailable)
		return
	}
	rec, err := s.history.Get(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, rec)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	jsonResponse(w, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    formatUptime(time.Since(s.startedAt)),
		"run":       snap.RunID(),
		"streaming": snap.Streaming(),
		"clients":   s.hub.Len(),
		"nats":      s.bus != nil,
	})
}

func formatTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
