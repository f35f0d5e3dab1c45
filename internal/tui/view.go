package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/choicesim/internal/state"
	"github.com/ShayCichocki/choicesim/pkg/models"
)

// RunView renders the progress snapshot of a run.
type RunView struct {
	snapshot models.ProgressSnapshot
	paused   bool
	bar      progress.Model
	width    int

	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	statusStyle  lipgloss.Style
	activeStyle  lipgloss.Style
	errorStyle   lipgloss.Style
	pausedStyle  lipgloss.Style
	shareBarFull lipgloss.Style
}

// NewRunView creates a RunView.
func NewRunView() *RunView {
	return &RunView{
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width: 80,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		statusStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),

		activeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		pausedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),

		shareBarFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
	}
}

// SetSnapshot replaces the displayed snapshot.
func (v *RunView) SetSnapshot(s models.ProgressSnapshot) {
	v.snapshot = s
}

// Snapshot returns the displayed snapshot.
func (v *RunView) Snapshot() models.ProgressSnapshot {
	return v.snapshot
}

// SetPaused toggles the paused marker.
func (v *RunView) SetPaused(paused bool) {
	v.paused = paused
}

// SetWidth sets the view width.
func (v *RunView) SetWidth(width int) {
	v.width = width
	v.bar.Width = max(min(width-20, 60), 10)
}

// View renders the counters and progress bar.
func (v *RunView) View() string {
	s := v.snapshot
	var b strings.Builder

	b.WriteString(v.headerStyle.Render("Simulation Progress"))
	b.WriteString("\n")

	status := string(s.Status)
	if status == "" {
		status = string(models.RunStatusIdle)
	}
	b.WriteString(v.labelStyle.Render("Status:"))
	b.WriteString(v.statusStyle.Render(status))
	if v.paused {
		b.WriteString("  ")
		b.WriteString(v.pausedStyle.Render("PAUSED"))
	}
	b.WriteString("\n")

	b.WriteString(v.labelStyle.Render("Agents:"))
	b.WriteString(v.valueStyle.Render(fmt.Sprintf("%d/%d complete", s.Completed, s.Total)))
	b.WriteString("\n")
	b.WriteString("  ")
	b.WriteString(v.bar.ViewAs(s.Fraction()))
	b.WriteString("\n\n")

	b.WriteString(v.labelStyle.Render("Workflows:"))
	b.WriteString(fmt.Sprintf("%s active, %s deciding, %d pending, %s errors",
		v.activeStyle.Render(fmt.Sprintf("%d", s.Active)),
		v.activeStyle.Render(fmt.Sprintf("%d", s.Deciding)),
		s.Pending,
		v.errorStyle.Render(fmt.Sprintf("%d", s.Errors))))
	b.WriteString("\n")

	b.WriteString(v.labelStyle.Render("Warm-up:"))
	warm := fmt.Sprintf("%d options ready, %d pre-spawned", s.OptionsReady, s.AgentsPreSpawned)
	if s.OptionsFailed > 0 {
		warm += ", " + v.errorStyle.Render(fmt.Sprintf("%d options failed", s.OptionsFailed))
	}
	b.WriteString(warm)
	b.WriteString("\n")

	return b.String()
}

// RenderSummary renders choice shares as horizontal bars.
func (v *RunView) RenderSummary(sum state.Summary) string {
	var b strings.Builder

	b.WriteString(v.headerStyle.Render("Choice Shares"))
	b.WriteString("\n")

	const barWidth = 30
	for _, alt := range sum.Alternatives {
		name := alt.Name
		if name == "" {
			name = alt.ID
		}
		filled := int(alt.Share * barWidth)
		bar := v.shareBarFull.Render(strings.Repeat("█", filled)) +
			strings.Repeat("░", barWidth-filled)
		b.WriteString(fmt.Sprintf("  %-16s %s %5.1f%% (%d)\n", truncate(name, 16), bar, alt.Share*100, alt.Count))
	}

	b.WriteString(fmt.Sprintf("\n  none: %d  errors: %d  mean confidence: %.2f\n",
		sum.NoChoice, sum.Errors, sum.MeanConfidence))
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
