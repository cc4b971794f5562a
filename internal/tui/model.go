// Package tui is the terminal front end: a task input, the live transcript
// and the agent activity board.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mtzanidakis/teamfeed/internal/activity"
	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/event"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

const sidebarWidth = 30

// Runner is the part of the session controller the UI drives.
type Runner interface {
	Submit(ctx context.Context, task string, opts ...session.SubmitOption) (*session.Run, error)
	Cancel()
	Snapshot() session.Snapshot
}

type snapshotMsg session.Snapshot

type submitErrMsg struct{ err error }

type Model struct {
	runner Runner
	feed   *Feed
	roster []config.AgentDefinition
	snap   session.Snapshot
	err    error

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	sidebar  viewport.Model
	spinner  spinner.Model

	// follow keeps the timeline pinned to the bottom until the user scrolls.
	follow bool
	theme  theme
}

// New returns the program model. feed must be registered as an observer of
// the controller behind runner.
func New(runner Runner, feed *Feed, roster []config.AgentDefinition) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = session.MaxTaskLength
	input.Placeholder = "Describe a task for the team and press enter"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	sidebar := viewport.New(0, 0)

	return Model{
		runner:   runner,
		feed:     feed,
		roster:   roster,
		snap:     runner.Snapshot(),
		input:    input,
		timeline: timeline,
		sidebar:  sidebar,
		spinner:  sp,
		follow:   true,
		theme:    newTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForSnapshot())
}

func (m Model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-m.feed.ch)
	}
}

func (m Model) submit(task string) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.runner.Submit(context.Background(), task, session.WithSource("tui")); err != nil {
			return submitErrMsg{err}
		}
		return nil
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.render()
	case snapshotMsg:
		m.snap = session.Snapshot(msg)
		m.render()
		cmds = append(cmds, m.waitForSnapshot())
	case submitErrMsg:
		m.err = msg.err
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		m.follow = m.timeline.AtBottom()
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+x":
			m.runner.Cancel()
			return m, nil
		case "enter":
			task := strings.TrimSpace(m.input.Value())
			if task == "" {
				return m, nil
			}
			m.input.Reset()
			m.err = nil
			m.follow = true
			return m, m.submit(task)
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			m.follow = m.timeline.AtBottom()
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) resize() {
	bodyHeight := max(3, m.height-5)
	m.timeline.Width = max(10, m.width-sidebarWidth-4)
	m.timeline.Height = bodyHeight
	m.sidebar.Width = sidebarWidth
	m.sidebar.Height = bodyHeight
	m.input.Width = max(10, m.width-4)
}

func (m *Model) render() {
	m.timeline.SetContent(renderTimeline(m.theme, m.snap.Session, m.timeline.Width))
	if m.follow {
		m.timeline.GotoBottom()
	}
	m.sidebar.SetContent(renderSidebar(m.theme, m.roster, m.snap.Activity, m.snap.Session.ActiveAgent))
}

func (m Model) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.title.Render("teamfeed"), " ",
		m.theme.status.Render(strings.ToUpper(statusLabel(m.snap))), " ",
		m.theme.muted.Render(m.meta()),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.panel.Render(m.timeline.View()),
		m.theme.panel.Render(m.sidebar.View()),
	)
	footer := m.theme.muted.Render("enter: run  ctrl+x: cancel  pgup/pgdown: scroll  esc: quit")
	if m.err != nil {
		footer = m.theme.errorText.Render(m.err.Error())
	} else if m.snap.Err != nil {
		footer = m.theme.errorText.Render("run failed: " + m.snap.Err.Error())
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.input.View(), footer)
}

func (m Model) meta() string {
	if m.snap.RunID() == 0 {
		return "no run yet"
	}
	out := fmt.Sprintf("run %d · %d events", m.snap.RunID(), m.snap.Stats.Events)
	if m.snap.Streaming() {
		out = m.spinner.View() + " " + out
	}
	return out
}

func statusLabel(s session.Snapshot) string {
	switch {
	case s.Streaming():
		return "streaming"
	case s.Outcome != session.OutcomeNone:
		return string(s.Outcome)
	default:
		return "idle"
	}
}

func renderTimeline(t theme, s transcript.Session, width int) string {
	if len(transcript.View(s)) == 0 {
		return t.muted.Render("Submit a task to start a run.")
	}

	textWidth := max(10, width-4)
	var blocks []string
	for i, e := range s.Entries {
		if e.Kind == event.KindUser {
			continue
		}
		style := t.entry
		if i == s.MainSlot {
			style = t.openEntry
		}
		head := t.agent.Render(e.AgentName) + " " + t.muted.Render(string(e.Kind))
		body := wordwrap.String(e.Text, textWidth)
		if len(e.Subtasks) > 0 {
			var sub strings.Builder
			for _, st := range e.Subtasks {
				fmt.Fprintf(&sub, "• %s: %s\n", st.Title, st.Requirement)
			}
			body += "\n" + indent.String(wordwrap.String(strings.TrimRight(sub.String(), "\n"), textWidth-2), 2)
		}
		blocks = append(blocks, style.Render(head+"\n"+body))
	}
	return strings.Join(blocks, "\n\n")
}

func renderSidebar(t theme, roster []config.AgentDefinition, st activity.State, activeAgent string) string {
	marked := rosterID(roster, activeAgent)

	var b strings.Builder
	b.WriteString(t.title.Render("Agents"))
	b.WriteString("\n\n")
	for _, a := range roster {
		status := st[a.ID]
		var line string
		switch status {
		case activity.Active:
			line = t.active.Render("● " + a.Name)
		case activity.Completed:
			line = t.completed.Render("✓ " + a.Name)
		default:
			line = t.idle.Render("○ " + a.Name)
		}
		if marked != "" && a.ID == marked {
			line += t.active.Render(" ◂")
		}
		b.WriteString(indent.String(line, uint(2*max(0, a.Layer-1))))
		b.WriteString("\n")
	}
	return b.String()
}

// rosterID finds the agent the stream names: by display name first, then
// by ID.
func rosterID(roster []config.AgentDefinition, name string) string {
	if name == "" {
		return ""
	}
	for _, a := range roster {
		if a.Name == name {
			return a.ID
		}
	}
	for _, a := range roster {
		if a.ID == name {
			return a.ID
		}
	}
	return ""
}
