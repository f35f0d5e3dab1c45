package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/choicesim/internal/simulation"
	"github.com/ShayCichocki/choicesim/internal/state"
	"github.com/ShayCichocki/choicesim/pkg/models"
)

// progressInterval throttles headless progress lines.
const progressInterval = 2 * time.Second

// printStatus prints a status message with a colored symbol.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// headlessPrinter writes one line per finished agent plus periodic
// progress lines.
type headlessPrinter struct {
	mu           sync.Mutex
	w            io.Writer
	lastProgress time.Time
}

func newHeadlessPrinter(w io.Writer) simulation.Observer {
	p := &headlessPrinter{w: w}
	return simulation.ObserverFuncs{
		Progress:    p.progress,
		AgentUpdate: p.update,
	}
}

func (p *headlessPrinter) progress(s models.ProgressSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Status != models.RunStatusRunning {
		return
	}
	if time.Since(p.lastProgress) < progressInterval {
		return
	}
	p.lastProgress = time.Now()
	fmt.Fprintf(p.w, "%s %d/%d done, %d active, %d deciding, %d errors\n",
		color.CyanString("…"), s.Completed, s.Total, s.Active, s.Deciding, s.Errors)
}

func (p *headlessPrinter) update(u models.AgentUpdate) {
	var line string
	switch u.Kind {
	case models.AgentDecided:
		line = fmt.Sprintf("%s %s chose %s", color.GreenString("✓"), u.AgentName, u.AlternativeID)
	case models.AgentDecidedNone:
		line = fmt.Sprintf("%s %s chose none", color.YellowString("○"), u.AgentName)
	case models.AgentErrored:
		line = fmt.Sprintf("%s %s failed: %s", color.RedString("✗"), u.AgentName, u.Message)
	default:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

// printResults prints the final status line and the choice-share table.
func printResults(w io.Writer, runID string, results *models.RunResults, alternatives []models.Alternative) {
	sum := state.Summarize(results.Responses, alternatives)

	statusColor := color.New(color.FgGreen)
	if results.Status == models.RunStatusError {
		statusColor = color.New(color.FgRed)
	}
	fmt.Fprintf(w, "\nRun %s %s: %d/%d agents\n",
		runID, statusColor.Sprint(results.Status), results.CompletedAgents, results.TotalAgents)

	printSummary(w, sum)
}

// printSummary prints choice shares as a plain table.
func printSummary(w io.Writer, sum state.Summary) {
	if sum.Total == 0 {
		fmt.Fprintln(w, "No responses recorded.")
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-20s %6s %7s\n", "ALTERNATIVE", "COUNT", "SHARE")
	fmt.Fprintln(w, strings.Repeat("-", 35))
	for _, alt := range sum.Alternatives {
		name := alt.Name
		if name == "" {
			name = alt.ID
		}
		fmt.Fprintf(w, "%-20s %6d %6.1f%%\n", truncate(name, 20), alt.Count, alt.Share*100)
	}
	fmt.Fprintln(w, strings.Repeat("-", 35))
	fmt.Fprintf(w, "none: %d  errors: %d  mean confidence: %.2f\n",
		sum.NoChoice, sum.Errors, sum.MeanConfidence)

	if len(sum.Segments) > 1 {
		fmt.Fprintln(w, "\nBy segment:")
		for _, seg := range sum.Segments {
			fmt.Fprintf(w, "  %-18s %4d agents", truncate(seg.SegmentID, 18), seg.Total)
			if seg.Errors > 0 {
				fmt.Fprintf(w, ", %s", color.RedString("%d errors", seg.Errors))
			}
			fmt.Fprintln(w)
		}
	}
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
