package config

import (
	"errors"
	"testing"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		fromConfig string
		vars       map[string]string
		want       string
	}{
		{name: "environment wins over config", env: "sk-ant-env", fromConfig: "sk-ant-file", want: "sk-ant-env"},
		{name: "literal config value", fromConfig: "sk-ant-file", want: "sk-ant-file"},
		{
			name:       "reference resolved from environment",
			fromConfig: "${CHOICESIM_TEST_VAULT_KEY}",
			vars:       map[string]string{"CHOICESIM_TEST_VAULT_KEY": "sk-ant-vault"},
			want:       "sk-ant-vault",
		},
		{name: "unresolved reference is unset", fromConfig: "${CHOICESIM_TEST_MISSING_KEY}", want: ""},
		{name: "bare unresolved reference is unset", fromConfig: "$CHOICESIM_TEST_MISSING_KEY", want: ""},
		{name: "nothing configured", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHOICESIM_TEST_PROVIDER_KEY", tt.env)
			t.Setenv("CHOICESIM_TEST_MISSING_KEY", "")
			for k, v := range tt.vars {
				t.Setenv(k, v)
			}

			if got := resolveKey("CHOICESIM_TEST_PROVIDER_KEY", tt.fromConfig); got != tt.want {
				t.Errorf("resolveKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProviderKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CHOICESIM_TEST_OPENAI", "sk-openai-from-ref")

	cfg := &Config{
		Anthropic: AnthropicConfig{APIKey: "${CHOICESIM_TEST_UNSET_ANTHROPIC}"},
		OpenAI:    OpenAIConfig{APIKey: "${CHOICESIM_TEST_OPENAI}"},
	}

	// Each provider resolves from its own section only.
	if _, err := GetAPIKey(cfg); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("GetAPIKey() error = %v, want ErrNoAPIKey for an unresolved reference", err)
	}
	if key, err := GetOpenAIKey(cfg); err != nil || key != "sk-openai-from-ref" {
		t.Errorf("GetOpenAIKey() = %q, %v", key, err)
	}
	if src := GetAPIKeySource(cfg); src != KeySourceNone {
		t.Errorf("GetAPIKeySource() = %v, want none for an unresolved reference", src)
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-exported-key-0001")
	if key, _ := GetAPIKey(cfg); key != "sk-ant-exported-key-0001" {
		t.Errorf("GetAPIKey() = %q, want the exported key", key)
	}
	if src := GetAPIKeySource(cfg); src != KeySourceEnv {
		t.Errorf("GetAPIKeySource() = %v, want environment", src)
	}

	// The exported key still applies without a config.
	if _, err := GetAPIKey(nil); err != nil {
		t.Errorf("GetAPIKey(nil) error = %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := GetOpenAIKey(nil); !errors.Is(err, ErrNoOpenAIKey) {
		t.Errorf("GetOpenAIKey(nil) error = %v, want ErrNoOpenAIKey", err)
	}
}

func TestGetAPIKeySource_ConfigFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("CHOICESIM_TEST_FILE_KEY", "sk-ant-from-env-ref")

	cfg := &Config{Anthropic: AnthropicConfig{APIKey: "${CHOICESIM_TEST_FILE_KEY}"}}
	if src := GetAPIKeySource(cfg); src != KeySourceConfig {
		t.Errorf("GetAPIKeySource() = %v, want config_file", src)
	}
}

func TestValidateAndMaskAPIKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
		masked  string
	}{
		{key: "sk-ant-REDACTED", wantErr: false, masked: "sk-ant-...9f2c"},
		{key: "sk-proj-openai-style-key-123456", wantErr: true, masked: "sk-proj...3456"},
		{key: "sk-ant-short", wantErr: true, masked: "***"},
		{key: "", wantErr: true, masked: "(not set)"},
	}

	for _, tt := range tests {
		t.Run(tt.masked, func(t *testing.T) {
			if err := ValidateAPIKey(tt.key); (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if got := MaskAPIKey(tt.key); got != tt.masked {
				t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.masked)
			}
		})
	}
}
