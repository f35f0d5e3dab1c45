package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/choicesim/internal/signals"
)

var signalCmd = &cobra.Command{
	Use:   "signal <abort|pause|resume>",
	Short: "Control a simulation running in this project",
	Long: `Send a control signal to a simulation running in the current project.

Signals are files under .choicesim/signals that the running simulation
watches. Abort stops launching new agents and lets in-flight agents
finish. Pause holds new launches until resume.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"abort", "pause", "resume"},
	RunE:      runSignal,
}

func runSignal(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	dir := signals.Dir(cwd)

	var send func(string) error
	switch args[0] {
	case "abort":
		send = signals.SendAbort
	case "pause":
		send = signals.SendPause
	case "resume":
		send = signals.SendResume
	default:
		return fmt.Errorf("unknown signal %q: expected abort, pause or resume", args[0])
	}

	if err := send(dir); err != nil {
		return fmt.Errorf("send %s: %w", args[0], err)
	}
	printStatus("✓", fmt.Sprintf("Sent %s", args[0]), color.FgGreen)
	return nil
}
