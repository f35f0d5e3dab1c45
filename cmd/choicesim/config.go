package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/choicesim/internal/config"
)

var configProject bool

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify choicesim configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value and saves it.

Configuration is stored at ~/.config/choicesim/config.yaml.
Project-specific overrides can be placed in .choicesim.yaml (--project).
Model routes are edited in the YAML files directly.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

func init() {
	configCmd.Flags().BoolVar(&configProject, "project", false, "Save to the project .choicesim.yaml instead of the user config")
}

// configKeys lists the scalar keys in display order.
var configKeys = []string{
	"anthropic.api_key",
	"openai.api_key",
	"openai.base_url",
	"bedrock.region",
	"bedrock.profile",
	"simulation.concurrency",
	"simulation.decision_concurrency",
	"simulation.option_sprite_concurrency",
	"simulation.initial_spawn_window",
	"simulation.wander_steps",
	"simulation.default_model",
	"decision.max_retries",
	"decision.attempt_timeout",
	"decision.max_tokens",
	"decision.backoff_base",
	"decision.backoff_max",
	"storage.driver",
	"storage.path",
	"world.step_latency",
	"world.pick_miss_rate",
	"tui.refresh_rate",
}

func displayAllConfig(cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Printf("%s: %s\n", key, value)
	}

	if len(cfg.Models) > 0 {
		tags := make([]string, 0, len(cfg.Models))
		for tag := range cfg.Models {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			m := cfg.Models[tag]
			fmt.Printf("models.%s: %s/%s\n", tag, m.Provider, m.Model)
		}
	}
}

func maskedKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	return config.MaskAPIKey(key)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return maskedKey(cfg.Anthropic.APIKey), nil
	case "openai.api_key":
		return maskedKey(cfg.OpenAI.APIKey), nil
	case "openai.base_url":
		return cfg.OpenAI.BaseURL, nil
	case "bedrock.region":
		return cfg.Bedrock.Region, nil
	case "bedrock.profile":
		return cfg.Bedrock.Profile, nil
	case "simulation.concurrency":
		return strconv.Itoa(cfg.Simulation.Concurrency), nil
	case "simulation.decision_concurrency":
		return strconv.Itoa(cfg.Simulation.DecisionConcurrency), nil
	case "simulation.option_sprite_concurrency":
		return strconv.Itoa(cfg.Simulation.OptionSpriteConcurrency), nil
	case "simulation.initial_spawn_window":
		return strconv.Itoa(cfg.Simulation.InitialSpawnWindow), nil
	case "simulation.wander_steps":
		return strconv.Itoa(cfg.Simulation.WanderSteps), nil
	case "simulation.default_model":
		return cfg.Simulation.DefaultModel, nil
	case "decision.max_retries":
		return strconv.Itoa(cfg.Decision.MaxRetries), nil
	case "decision.attempt_timeout":
		return cfg.Decision.AttemptTimeout.String(), nil
	case "decision.max_tokens":
		return strconv.Itoa(cfg.Decision.MaxTokens), nil
	case "decision.backoff_base":
		return cfg.Decision.BackoffBase.String(), nil
	case "decision.backoff_max":
		return cfg.Decision.BackoffMax.String(), nil
	case "storage.driver":
		return cfg.Storage.Driver, nil
	case "storage.path":
		return cfg.Storage.Path, nil
	case "world.step_latency":
		return cfg.World.StepLatency.String(), nil
	case "world.pick_miss_rate":
		return strconv.FormatFloat(cfg.World.PickMissRate, 'g', -1, 64), nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	atoi := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	duration := func(dst *time.Duration) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return fmt.Errorf("%s is not saved to config files; set it in the environment", key)
	case "openai.api_key":
		return fmt.Errorf("%s is not saved to config files; set it in the environment", key)
	case "openai.base_url":
		cfg.OpenAI.BaseURL = value
	case "bedrock.region":
		cfg.Bedrock.Region = value
	case "bedrock.profile":
		cfg.Bedrock.Profile = value
	case "simulation.concurrency":
		return atoi(&cfg.Simulation.Concurrency)
	case "simulation.decision_concurrency":
		return atoi(&cfg.Simulation.DecisionConcurrency)
	case "simulation.option_sprite_concurrency":
		return atoi(&cfg.Simulation.OptionSpriteConcurrency)
	case "simulation.initial_spawn_window":
		return atoi(&cfg.Simulation.InitialSpawnWindow)
	case "simulation.wander_steps":
		return atoi(&cfg.Simulation.WanderSteps)
	case "simulation.default_model":
		cfg.Simulation.DefaultModel = value
	case "decision.max_retries":
		return atoi(&cfg.Decision.MaxRetries)
	case "decision.attempt_timeout":
		return duration(&cfg.Decision.AttemptTimeout)
	case "decision.max_tokens":
		return atoi(&cfg.Decision.MaxTokens)
	case "decision.backoff_base":
		return duration(&cfg.Decision.BackoffBase)
	case "decision.backoff_max":
		return duration(&cfg.Decision.BackoffMax)
	case "storage.driver":
		cfg.Storage.Driver = value
	case "storage.path":
		cfg.Storage.Path = value
	case "world.step_latency":
		return duration(&cfg.World.StepLatency)
	case "world.pick_miss_rate":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		cfg.World.PickMissRate = f
	case "tui.refresh_rate":
		return duration(&cfg.TUI.RefreshRate)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func setConfigKey(cfg *config.Config, key, value string) error {
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var err error
	if configProject {
		path := config.GetProjectConfigPath()
		if path == "" {
			path = config.ProjectConfigName
		}
		err = config.SaveToPath(cfg, path)
	} else {
		err = config.Save(cfg)
	}
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}
