package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// ErrNoOpenAIKey is returned when no OpenAI key is configured.
var ErrNoOpenAIKey = errors.New("no OpenAI API key configured")

// GetAPIKey returns the Anthropic API key from the configuration.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	var fromConfig string
	if cfg != nil {
		fromConfig = cfg.Anthropic.APIKey
	}
	if key := resolveKey("ANTHROPIC_API_KEY", fromConfig); key != "" {
		return key, nil
	}
	return "", ErrNoAPIKey
}

// GetOpenAIKey returns the OpenAI API key, checking the environment first.
func GetOpenAIKey(cfg *Config) (string, error) {
	var fromConfig string
	if cfg != nil {
		fromConfig = cfg.OpenAI.APIKey
	}
	if key := resolveKey("OPENAI_API_KEY", fromConfig); key != "" {
		return key, nil
	}
	return "", ErrNoOpenAIKey
}

func resolveKey(envVar, fromConfig string) string {
	if key := os.Getenv(envVar); key != "" {
		return key
	}
	if fromConfig != "" {
		// Unresolved ${VAR} references are treated as unset.
		key := os.ExpandEnv(fromConfig)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key
		}
	}
	return ""
}

// ValidateAPIKey performs basic validation on an Anthropic API key.
// It checks format but does not verify the key with Anthropic's API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the Anthropic API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return KeySourceEnv
	}

	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}

	return KeySourceNone
}
