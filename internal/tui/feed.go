package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// maxFeedEntries bounds the activity feed history.
const maxFeedEntries = 200

// FeedEntry is one line of the activity feed.
type FeedEntry struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// Feed is a scrolling activity log.
type Feed struct {
	entries  []FeedEntry
	viewport viewport.Model

	timeStyle lipgloss.Style
	kindStyle lipgloss.Style
	msgStyle  lipgloss.Style
	errStyle  lipgloss.Style
}

// NewFeed creates a Feed of the given size.
func NewFeed(width, height int) *Feed {
	return &Feed{
		viewport: viewport.New(width, height),

		timeStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		kindStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Width(13),
		msgStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		errStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Add appends an entry and scrolls to the bottom.
func (f *Feed) Add(e FeedEntry) {
	f.entries = append(f.entries, e)
	if len(f.entries) > maxFeedEntries {
		f.entries = f.entries[len(f.entries)-maxFeedEntries:]
	}
	f.refresh()
}

// AddUpdate appends an agent transition. Wander, processing and exit updates are
// skipped; they would drown out decisions.
func (f *Feed) AddUpdate(u models.AgentUpdate) {
	switch u.Kind {
	case models.AgentWander, models.AgentProcessing, models.AgentExited:
		return
	}
	f.Add(FeedEntry{Timestamp: u.Timestamp, Kind: string(u.Kind), Message: describeUpdate(u)})
}

// Entries returns the retained entries.
func (f *Feed) Entries() []FeedEntry {
	return f.entries
}

// SetSize resizes the viewport.
func (f *Feed) SetSize(width, height int) {
	f.viewport.Width = width
	f.viewport.Height = max(height, 1)
	f.refresh()
}

func (f *Feed) refresh() {
	lines := make([]string, len(f.entries))
	for i, e := range f.entries {
		msg := f.msgStyle.Render(e.Message)
		if e.Kind == string(models.AgentErrored) {
			msg = f.errStyle.Render(e.Message)
		}
		lines[i] = fmt.Sprintf("  %s %s %s",
			f.timeStyle.Render(e.Timestamp.Format("15:04:05")),
			f.kindStyle.Render(e.Kind),
			msg)
	}
	f.viewport.SetContent(strings.Join(lines, "\n"))
	f.viewport.GotoBottom()
}

// View renders the feed.
func (f *Feed) View() string {
	if len(f.entries) == 0 {
		return ""
	}
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Render("Activity")
	return title + "\n" + f.viewport.View()
}

func describeUpdate(u models.AgentUpdate) string {
	name := u.AgentName
	if name == "" {
		name = u.AgentID
	}
	switch u.Kind {
	case models.AgentDecided:
		if u.Message != "" {
			return fmt.Sprintf("%s chose %s: %s", name, u.AlternativeID, u.Message)
		}
		return fmt.Sprintf("%s chose %s", name, u.AlternativeID)
	case models.AgentDecidedNone:
		return fmt.Sprintf("%s chose nothing: %s", name, u.Message)
	case models.AgentErrored:
		return fmt.Sprintf("%s failed: %s", name, u.Message)
	default:
		if u.Message != "" {
			return name + ": " + u.Message
		}
		return name
	}
}
