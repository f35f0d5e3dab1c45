// Package config handles configuration loading and management for choicesim.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for choicesim.
type Config struct {
	Simulation SimulationConfig       `mapstructure:"simulation"`
	Anthropic  AnthropicConfig        `mapstructure:"anthropic"`
	Bedrock    BedrockConfig          `mapstructure:"bedrock"`
	OpenAI     OpenAIConfig           `mapstructure:"openai"`
	Decision   DecisionConfig         `mapstructure:"decision"`
	Models     map[string]ModelConfig `mapstructure:"models"`
	Storage    StorageConfig          `mapstructure:"storage"`
	World      WorldConfig            `mapstructure:"world"`
	TUI        TUIConfig              `mapstructure:"tui"`
}

// SimulationConfig holds the orchestrator's concurrency limits.
type SimulationConfig struct {
	// Concurrency bounds simultaneously active agent workflows.
	Concurrency int `mapstructure:"concurrency"`
	// DecisionConcurrency bounds simultaneous reasoning calls.
	DecisionConcurrency int `mapstructure:"decision_concurrency"`
	// OptionSpriteConcurrency bounds alternative preparation during Init.
	OptionSpriteConcurrency int `mapstructure:"option_sprite_concurrency"`
	// InitialSpawnWindow is how many agents are spawned before Start. Zero
	// means the value of Concurrency.
	InitialSpawnWindow int `mapstructure:"initial_spawn_window"`
	// WanderSteps is the number of wander calls before deciding.
	WanderSteps int `mapstructure:"wander_steps"`
	// DefaultModel is used for segments without a model tag.
	DefaultModel string `mapstructure:"default_model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// BedrockConfig holds AWS Bedrock settings.
type BedrockConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// OpenAIConfig holds settings for OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// DecisionConfig holds reasoning-call settings.
type DecisionConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// ModelConfig overrides or adds one model tag route.
type ModelConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// StorageConfig selects where finished runs are recorded.
type StorageConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`
	// Path overrides the database location. Empty means the project database.
	Path string `mapstructure:"path"`
}

// WorldConfig tunes the headless world.
type WorldConfig struct {
	StepLatency  time.Duration `mapstructure:"step_latency"`
	PickMissRate float64       `mapstructure:"pick_miss_rate"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, CHOICESIM_*)
// 2. Project config (.choicesim.yaml in current directory or parent)
// 3. User config (~/.config/choicesim/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("CHOICESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "CHOICESIM_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("openai.api_key", "CHOICESIM_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("bedrock.region", "CHOICESIM_BEDROCK_REGION", "AWS_REGION")
	v.BindEnv("bedrock.profile", "CHOICESIM_BEDROCK_PROFILE", "AWS_PROFILE")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits and storage settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Simulation.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("simulation.concurrency must be at least 1, got %d", c.Simulation.Concurrency))
	}
	if c.Simulation.DecisionConcurrency < 1 {
		errs = append(errs, fmt.Errorf("simulation.decision_concurrency must be at least 1, got %d", c.Simulation.DecisionConcurrency))
	}
	if c.Simulation.OptionSpriteConcurrency < 1 {
		errs = append(errs, fmt.Errorf("simulation.option_sprite_concurrency must be at least 1, got %d", c.Simulation.OptionSpriteConcurrency))
	}
	if c.Simulation.InitialSpawnWindow < 0 {
		errs = append(errs, fmt.Errorf("simulation.initial_spawn_window must not be negative, got %d", c.Simulation.InitialSpawnWindow))
	}
	if c.Decision.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("decision.max_retries must not be negative, got %d", c.Decision.MaxRetries))
	}
	if c.World.PickMissRate < 0 || c.World.PickMissRate > 1 {
		errs = append(errs, fmt.Errorf("world.pick_miss_rate must be within [0, 1], got %v", c.World.PickMissRate))
	}
	switch c.Storage.Driver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be sqlite or sqlite3, got %q", c.Storage.Driver))
	}
	for tag, m := range c.Models {
		if m.Provider == "" || m.Model == "" {
			errs = append(errs, fmt.Errorf("models.%s needs both provider and model", tag))
		}
	}
	return errors.Join(errs...)
}

// Save writes the configuration to the user config file. API keys are not
// written; they belong in the environment.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveToPath(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveToPath writes the configuration to path.
func SaveToPath(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("simulation.concurrency", cfg.Simulation.Concurrency)
	v.Set("simulation.decision_concurrency", cfg.Simulation.DecisionConcurrency)
	v.Set("simulation.option_sprite_concurrency", cfg.Simulation.OptionSpriteConcurrency)
	v.Set("simulation.initial_spawn_window", cfg.Simulation.InitialSpawnWindow)
	v.Set("simulation.wander_steps", cfg.Simulation.WanderSteps)
	v.Set("simulation.default_model", cfg.Simulation.DefaultModel)
	v.Set("bedrock.region", cfg.Bedrock.Region)
	v.Set("bedrock.profile", cfg.Bedrock.Profile)
	v.Set("openai.base_url", cfg.OpenAI.BaseURL)
	v.Set("decision.max_retries", cfg.Decision.MaxRetries)
	v.Set("decision.attempt_timeout", cfg.Decision.AttemptTimeout.String())
	v.Set("decision.max_tokens", cfg.Decision.MaxTokens)
	v.Set("decision.backoff_base", cfg.Decision.BackoffBase.String())
	v.Set("decision.backoff_max", cfg.Decision.BackoffMax.String())
	v.Set("storage.driver", cfg.Storage.Driver)
	v.Set("storage.path", cfg.Storage.Path)
	v.Set("world.step_latency", cfg.World.StepLatency.String())
	v.Set("world.pick_miss_rate", cfg.World.PickMissRate)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())
	for tag, m := range cfg.Models {
		v.Set("models."+tag+".provider", m.Provider)
		v.Set("models."+tag+".model", m.Model)
	}

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// ProjectConfigName is the project-level override file name.
const ProjectConfigName = ".choicesim.yaml"

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("simulation.concurrency", d.Simulation.Concurrency)
	v.SetDefault("simulation.decision_concurrency", d.Simulation.DecisionConcurrency)
	v.SetDefault("simulation.option_sprite_concurrency", d.Simulation.OptionSpriteConcurrency)
	v.SetDefault("simulation.initial_spawn_window", d.Simulation.InitialSpawnWindow)
	v.SetDefault("simulation.wander_steps", d.Simulation.WanderSteps)
	v.SetDefault("simulation.default_model", d.Simulation.DefaultModel)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("bedrock.region", "")
	v.SetDefault("bedrock.profile", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)

	v.SetDefault("decision.max_retries", d.Decision.MaxRetries)
	v.SetDefault("decision.attempt_timeout", d.Decision.AttemptTimeout.String())
	v.SetDefault("decision.max_tokens", d.Decision.MaxTokens)
	v.SetDefault("decision.backoff_base", d.Decision.BackoffBase.String())
	v.SetDefault("decision.backoff_max", d.Decision.BackoffMax.String())

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", "")

	v.SetDefault("world.step_latency", d.World.StepLatency.String())
	v.SetDefault("world.pick_miss_rate", d.World.PickMissRate)

	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
}

// getUserConfigDir returns the XDG config directory for choicesim.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "choicesim")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "choicesim")
	}
	return filepath.Join(home, ".config", "choicesim")
}

// findProjectConfig searches for .choicesim.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Concurrency:             10,
			DecisionConcurrency:     6,
			OptionSpriteConcurrency: 6,
			WanderSteps:             3,
			DefaultModel:            "claude-haiku",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Decision: DecisionConfig{
			MaxRetries:     2,
			AttemptTimeout: 60 * time.Second,
			MaxTokens:      512,
			BackoffBase:    500 * time.Millisecond,
			BackoffMax:     20 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		World: WorldConfig{
			StepLatency:  20 * time.Millisecond,
			PickMissRate: 0,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
