package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/choicesim/internal/config"
	"github.com/ShayCichocki/choicesim/internal/experiment"
)

// exampleExperimentName is the experiment file init writes.
const exampleExperimentName = "experiment.yaml"

var (
	initForce       bool
	initNoGitignore bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a choicesim project",
	Long: `Initialize a directory for running choice experiments.

This command:
  - Creates the .choicesim directory structure
  - Writes an example experiment.yaml
  - Writes a .choicesim.yaml project config with the defaults
  - Adds choicesim entries to .gitignore
  - Checks that provider API keys are available

Examples:
  choicesim init                # Initialize current directory
  choicesim init ./study        # Initialize specific directory
  choicesim init --force        # Overwrite existing example files`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing experiment and config files")
	initCmd.Flags().BoolVar(&initNoGitignore, "no-gitignore", false, "Do not modify .gitignore")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing choicesim in %s...\n\n", absPath)

	if err := os.MkdirAll(filepath.Join(absPath, ".choicesim", "logs"), 0755); err != nil {
		return fmt.Errorf("creating .choicesim directory: %w", err)
	}
	printStatus("✓", "Created .choicesim directory structure", color.FgGreen)

	expPath := filepath.Join(absPath, exampleExperimentName)
	if writeIfAbsent(expPath, func() error { return experiment.Save(expPath, experiment.Example()) }) {
		printStatus("✓", "Wrote example "+exampleExperimentName, color.FgGreen)
	} else {
		printStatus("⚠", exampleExperimentName+" exists (use --force to overwrite)", color.FgYellow)
	}

	cfgPath := filepath.Join(absPath, config.ProjectConfigName)
	if writeIfAbsent(cfgPath, func() error { return config.SaveToPath(config.Default(), cfgPath) }) {
		printStatus("✓", "Wrote "+config.ProjectConfigName, color.FgGreen)
	} else {
		printStatus("⚠", config.ProjectConfigName+" exists (use --force to overwrite)", color.FgYellow)
	}

	if !initNoGitignore {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore with choicesim entries", color.FgGreen)
	}

	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}
	printStatus(anthropicKeyStatus(cfg))
	if _, err := config.GetOpenAIKey(cfg); err == nil {
		printStatus("✓", "OpenAI key found", color.FgGreen)
	}

	fmt.Printf("\n%s choicesim initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the experiment:")
	fmt.Printf("     %s\n", expPath)
	fmt.Println("  2. Try it offline:")
	fmt.Printf("     choicesim simulate --dry-run %s\n", exampleExperimentName)
	fmt.Println("  3. Run it for real:")
	fmt.Printf("     choicesim simulate %s\n", exampleExperimentName)
	return nil
}

// anthropicKeyStatus describes the Anthropic key init found, warning
// when it is missing or does not look like an Anthropic key.
func anthropicKeyStatus(cfg *config.Config) (string, string, color.Attribute) {
	key, err := config.GetAPIKey(cfg)
	if err != nil {
		return "⚠", "ANTHROPIC_API_KEY not set (use --dry-run until it is)", color.FgYellow
	}
	source := config.GetAPIKeySource(cfg)
	if err := config.ValidateAPIKey(key); err != nil {
		return "⚠", fmt.Sprintf("Anthropic key from %s looks wrong: %v", source, err), color.FgYellow
	}
	return "✓", fmt.Sprintf("Anthropic key found (%s, %s)", config.MaskAPIKey(key), source), color.FgGreen
}

// writeIfAbsent runs write unless path exists and --force is unset. It
// reports whether write ran; write errors are reported as warnings.
func writeIfAbsent(path string, write func() error) bool {
	if _, err := os.Stat(path); err == nil && !initForce {
		return false
	}
	if err := write(); err != nil {
		printStatus("✗", fmt.Sprintf("Writing %s: %v", filepath.Base(path), err), color.FgRed)
		return false
	}
	return true
}

// updateGitignore appends the choicesim entries that are missing.
func updateGitignore(projectRoot string) error {
	gitignorePath := filepath.Join(projectRoot, ".gitignore")

	var existing string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}

	entries := []string{
		".choicesim/results.db*",
		".choicesim/logs/",
		".choicesim/signals/",
	}

	var missing []string
	for _, entry := range entries {
		if !strings.Contains(existing, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# choicesim\n")
	for _, entry := range missing {
		b.WriteString(entry + "\n")
	}
	return os.WriteFile(gitignorePath, []byte(b.String()), 0644)
}
