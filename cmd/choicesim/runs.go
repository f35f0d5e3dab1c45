package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/choicesim/internal/config"
	"github.com/ShayCichocki/choicesim/internal/state"
	"github.com/ShayCichocki/choicesim/pkg/models"
)

var (
	runsLimit     int
	runsPurgeDays int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded simulation runs",
	Long: `List simulation runs recorded in the project result store.

Examples:
  choicesim runs
  choicesim runs --limit 5
  choicesim runs show <run-id>
  choicesim runs delete <run-id>
  choicesim runs purge --older-than 30`,
	Args: cobra.NoArgs,
	RunE: runListRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its choice shares",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its responses",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteRun,
}

var runsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete runs older than a number of days",
	Args:  cobra.NoArgs,
	RunE:  runPurgeRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list (0 for all)")
	runsPurgeCmd.Flags().IntVar(&runsPurgeDays, "older-than", 30, "Age in days")
	runsCmd.AddCommand(runsShowCmd, runsDeleteCmd, runsPurgeCmd)
}

// withStore opens the project result store for a read or maintenance command.
func withStore(fn func(db state.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	path := storePath(cfg, cwd)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No runs recorded. Run 'choicesim simulate <experiment.yaml>' to start.")
		return nil
	}

	db, err := openStore(cfg, cwd)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func runListRuns(cmd *cobra.Command, args []string) error {
	return withStore(func(db state.Store) error {
		runs, err := db.ListRuns(runsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		fmt.Printf("%-36s  %-20s  %-9s  %7s  %6s  %s\n", "ID", "EXPERIMENT", "STATUS", "AGENTS", "ERRORS", "STARTED")
		fmt.Println(strings.Repeat("-", 100))
		for _, r := range runs {
			fmt.Printf("%-36s  %-20s  %-9s  %7s  %6d  %s\n",
				r.ID,
				truncate(r.Experiment, 20),
				statusString(r.Status),
				fmt.Sprintf("%d/%d", r.CompletedAgents, r.TotalAgents),
				r.ErrorCount,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	})
}

func statusString(s models.RunStatus) string {
	// Pad before coloring so the escape codes do not break alignment.
	padded := fmt.Sprintf("%-9s", s)
	switch s {
	case models.RunStatusComplete:
		return color.GreenString(padded)
	case models.RunStatusError:
		return color.RedString(padded)
	default:
		return color.YellowString(padded)
	}
}

func runShowRun(cmd *cobra.Command, args []string) error {
	return withStore(func(db state.Store) error {
		run, err := db.GetRun(args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		responses, err := db.ListResponses(run.ID)
		if err != nil {
			return fmt.Errorf("list responses: %w", err)
		}

		fmt.Printf("Run:        %s\n", run.ID)
		fmt.Printf("Experiment: %s\n", run.Experiment)
		fmt.Printf("Status:     %s\n", statusString(run.Status))
		fmt.Printf("Agents:     %d/%d (%d errors)\n", run.CompletedAgents, run.TotalAgents, run.ErrorCount)
		fmt.Printf("Started:    %s\n", run.StartedAt.Local().Format(time.RFC1123))
		if run.EndedAt != nil {
			fmt.Printf("Duration:   %s\n", run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond))
		}
		if run.InputTokens > 0 || run.OutputTokens > 0 {
			fmt.Printf("Tokens:     %d in, %d out\n", run.InputTokens, run.OutputTokens)
		}

		printSummary(os.Stdout, state.Summarize(responses, run.Alternatives))
		return nil
	})
}

func runDeleteRun(cmd *cobra.Command, args []string) error {
	return withStore(func(db state.Store) error {
		if err := db.DeleteRun(args[0]); err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Deleted run %s", args[0]), color.FgGreen)
		return nil
	})
}

func runPurgeRuns(cmd *cobra.Command, args []string) error {
	if runsPurgeDays < 0 {
		return fmt.Errorf("--older-than must not be negative")
	}
	return withStore(func(db state.Store) error {
		n, err := db.PurgeOldRuns(time.Duration(runsPurgeDays) * 24 * time.Hour)
		if err != nil {
			return fmt.Errorf("purge runs: %w", err)
		}
		printStatus("✓", fmt.Sprintf("Purged %d runs older than %d days", n, runsPurgeDays), color.FgGreen)
		return nil
	})
}
