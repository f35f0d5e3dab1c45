package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "choicesim",
	Short: "Simulated choice experiments with LLM personas",
	Long: `choicesim runs choice experiments: a population of persona agents,
each backed by a language model, chooses among a fixed set of alternatives.

Agents are expanded from segments, walk through a world, reason about the
alternatives and record one response each. Runs are saved to a local SQLite
database and can be inspected with 'choicesim runs' or served over HTTP.

Getting started:
  choicesim init                       # write experiment.yaml and .choicesim.yaml
  choicesim simulate experiment.yaml   # run it with a live view
  choicesim simulate --dry-run experiment.yaml   # offline, mock decisions`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
