package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/choicesim/internal/config"
	"github.com/ShayCichocki/choicesim/internal/decision"
)

// mockLatency keeps dry runs slow enough to watch.
const mockLatency = 150 * time.Millisecond

// buildRoutes merges configured model overrides into the built-in table.
// In dry-run mode every known tag, plus every tag in tags, is routed to the
// mock provider.
func buildRoutes(cfg *config.Config, tags []string, dryRun bool) decision.RouteTable {
	overrides := make(decision.RouteTable, len(cfg.Models))
	for tag, m := range cfg.Models {
		overrides[tag] = decision.Route{Provider: m.Provider, ModelID: m.Model}
	}
	routes := decision.DefaultRoutes().Merge(overrides)

	if dryRun {
		for tag := range routes {
			routes[tag] = decision.Route{Provider: decision.ProviderMock, ModelID: "mock"}
		}
		for _, tag := range tags {
			if tag != "" {
				routes[tag] = decision.Route{Provider: decision.ProviderMock, ModelID: "mock"}
			}
		}
	}
	return routes
}

// buildProviders registers the providers the given model tags need. The mock
// provider is always available. A needed provider without credentials is an
// error; tags with no route are left for model validation to report.
func buildProviders(ctx context.Context, cfg *config.Config, routes decision.RouteTable, tags []string) ([]decision.Provider, error) {
	needed := make(map[string]bool)
	for _, tag := range tags {
		if r, err := routes.Lookup(tag); err == nil {
			needed[r.Provider] = true
		}
	}

	providers := []decision.Provider{&decision.MockProvider{Latency: mockLatency, NoneEvery: 7}}

	if needed[decision.ProviderAnthropic] {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("anthropic models requested: %w", err)
		}
		p, err := decision.NewAnthropicProvider(decision.AnthropicConfig{APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("create anthropic provider: %w", err)
		}
		providers = append(providers, p)
	}

	if needed[decision.ProviderBedrock] {
		providers = append(providers, decision.NewBedrockProvider(ctx, decision.AnthropicConfig{
			AWSRegion:  cfg.Bedrock.Region,
			AWSProfile: cfg.Bedrock.Profile,
		}))
	}

	if needed[decision.ProviderOpenAI] {
		key, err := config.GetOpenAIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("openai models requested: %w", err)
		}
		p, err := decision.NewOpenAIProvider(decision.OpenAIConfig{APIKey: key, BaseURL: cfg.OpenAI.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("create openai provider: %w", err)
		}
		providers = append(providers, p)
	}

	return providers, nil
}

// createDecider wires routes, providers and retry settings into a Decider.
func createDecider(ctx context.Context, cfg *config.Config, scenario string, tags []string, dryRun bool) (*decision.Decider, error) {
	routes := buildRoutes(cfg, tags, dryRun)

	providers, err := buildProviders(ctx, cfg, routes, tags)
	if err != nil {
		return nil, err
	}

	client, err := decision.NewClient(decision.ClientConfig{
		Routes:         routes,
		Providers:      providers,
		AttemptTimeout: cfg.Decision.AttemptTimeout,
		Backoff: decision.Backoff{
			Base: cfg.Decision.BackoffBase,
			Max:  cfg.Decision.BackoffMax,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create decision client: %w", err)
	}

	return decision.NewDecider(decision.DeciderConfig{
		Client:     client,
		Prompt:     decision.PromptBuilder{Scenario: scenario},
		MaxTokens:  cfg.Decision.MaxTokens,
		MaxRetries: cfg.Decision.MaxRetries,
	}), nil
}
