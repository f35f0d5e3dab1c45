package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/choicesim/internal/signals"
	"github.com/ShayCichocki/choicesim/internal/simulation"
	"github.com/ShayCichocki/choicesim/internal/state"
	"github.com/ShayCichocki/choicesim/pkg/models"
)

// EventMsg wraps an orchestrator event for the TUI.
type EventMsg struct {
	Event simulation.Event
}

// LogMsg adds a free-form line to the activity feed.
type LogMsg struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// DoneMsg is sent when the run has finished and its results are saved.
type DoneMsg struct {
	Results *models.RunResults
	Err     error
}

// Config configures the App.
type Config struct {
	// Title is shown in the header, usually the experiment name.
	Title string
	// Alternatives are used to label the final summary.
	Alternatives []models.Alternative
	// Controller receives abort and pause requests. Optional.
	Controller signals.Controller
	// RefreshRate sets the spinner frame interval. Zero keeps the default.
	RefreshRate time.Duration
}

// App is the bubbletea model for a live simulation run.
type App struct {
	title        string
	alternatives []models.Alternative
	ctrl         signals.Controller

	view    *RunView
	feed    *Feed
	spinner spinner.Model

	width    int
	height   int
	paused   bool
	aborting bool
	quitting bool
	done     bool
	err      error
	summary  *state.Summary

	titleStyle lipgloss.Style
	hintStyle  lipgloss.Style
	errorStyle lipgloss.Style
	doneStyle  lipgloss.Style
}

// NewApp creates an App.
func NewApp(cfg Config) *App {
	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	if cfg.RefreshRate > 0 {
		spin.Spinner.FPS = cfg.RefreshRate
	}

	return &App{
		title:        cfg.Title,
		alternatives: cfg.Alternatives,
		ctrl:         cfg.Controller,
		view:         NewRunView(),
		feed:         NewFeed(80, 10),
		spinner:      spin,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "a":
			a.abort()
		case "p":
			a.togglePause()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.view.SetWidth(msg.Width)
		// Header, counters and footer take roughly 14 lines.
		a.feed.SetSize(msg.Width, msg.Height-14)

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)

	case LogMsg:
		a.feed.Add(FeedEntry{Timestamp: msg.Timestamp, Kind: msg.Kind, Message: msg.Message})

	case DoneMsg:
		a.done = true
		a.err = msg.Err
		if msg.Results != nil {
			a.setResults(msg.Results)
		}
	}

	return a, nil
}

func (a *App) handleEvent(ev simulation.Event) {
	switch ev.Type {
	case simulation.EventProgress:
		if ev.Snapshot != nil {
			a.view.SetSnapshot(*ev.Snapshot)
		}
	case simulation.EventAgentUpdate:
		if ev.Update != nil {
			a.feed.AddUpdate(*ev.Update)
		}
	case simulation.EventComplete:
		if ev.Results != nil {
			a.setResults(ev.Results)
		}
	}
}

func (a *App) setResults(r *models.RunResults) {
	sum := state.Summarize(r.Responses, a.alternatives)
	a.summary = &sum

	snap := a.view.Snapshot()
	snap.Status = r.Status
	snap.Total = r.TotalAgents
	snap.Completed = r.CompletedAgents
	snap.Errors = r.ErrorCount()
	snap.Active = 0
	snap.Deciding = 0
	snap.Pending = 0
	a.view.SetSnapshot(snap)
}

func (a *App) abort() {
	if a.ctrl == nil || a.aborting || a.summary != nil {
		return
	}
	a.aborting = true
	a.ctrl.Abort()
	a.feed.Add(FeedEntry{Timestamp: time.Now(), Kind: "control", Message: "abort requested"})
}

func (a *App) togglePause() {
	if a.ctrl == nil || a.aborting || a.summary != nil {
		return
	}
	a.paused = !a.paused
	if a.paused {
		a.ctrl.Pause()
	} else {
		a.ctrl.Resume()
	}
	a.view.SetPaused(a.paused)
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Simulation view closed.\n"
	}

	var b strings.Builder

	title := "=== choicesim ==="
	if a.title != "" {
		title = fmt.Sprintf("=== choicesim: %s ===", a.title)
	}
	b.WriteString(a.titleStyle.Render(title))
	if a.summary == nil {
		b.WriteString(" ")
		b.WriteString(a.spinner.View())
	}
	b.WriteString("\n\n")

	b.WriteString(a.view.View())
	b.WriteString("\n")

	if a.summary != nil {
		b.WriteString(a.view.RenderSummary(*a.summary))
		b.WriteString("\n")
	}

	if feed := a.feed.View(); feed != "" {
		b.WriteString(feed)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case a.err != nil:
		b.WriteString(a.errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	case a.done:
		b.WriteString(a.doneStyle.Render("Run finished. Press q to exit."))
	case a.aborting:
		b.WriteString(a.hintStyle.Render("Aborting... waiting for in-flight agents"))
	default:
		b.WriteString(a.hintStyle.Render("a abort  p pause/resume  q quit"))
	}
	b.WriteString("\n")

	return b.String()
}

// Done reports whether DoneMsg has been received.
func (a *App) Done() bool {
	return a.done
}

// Summary returns the final summary once results arrived.
func (a *App) Summary() *state.Summary {
	return a.summary
}

// NewProgram creates a new Bubbletea program for the simulation TUI.
func NewProgram(cfg Config) (*tea.Program, *App) {
	app := NewApp(cfg)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
