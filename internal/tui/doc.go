// Package tui provides the terminal user interface for the simulate command.
//
// The TUI is read-only apart from run control. It shows:
//   - Run status and a progress bar of completed agents
//   - Active, deciding, pending and error counters
//   - Warm-up counters (alternatives prepared, agents pre-spawned)
//   - A scrolling activity feed of agent transitions
//   - Choice shares once the run completes
//
// Keys: 'a' aborts the run, 'p' toggles pause, 'q' or Ctrl+C quits.
//
// Usage:
//
//	program, app := tui.NewProgram(tui.Config{Title: exp.Name, Alternatives: exp.Alternatives, Controller: orch})
//	go func() {
//	    for ev := range orch.Events() {
//	        program.Send(tui.EventMsg{Event: ev})
//	    }
//	}()
//	program.Run()
package tui
