package decision

import (
	"fmt"
	"sort"
)

// Route binds a logical model tag to a provider and that provider's model ID.
type Route struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	ModelID  string `mapstructure:"model" yaml:"model"`
}

// RouteTable is the static model tag to provider lookup.
type RouteTable map[string]Route

// DefaultRoutes returns the built-in routing table.
func DefaultRoutes() RouteTable {
	return RouteTable{
		"claude-sonnet":  {Provider: ProviderAnthropic, ModelID: "claude-sonnet-4-20250514"},
		"claude-haiku":   {Provider: ProviderAnthropic, ModelID: "claude-3-5-haiku-20241022"},
		"claude-opus":    {Provider: ProviderAnthropic, ModelID: "claude-opus-4-1-20250805"},
		"bedrock-sonnet": {Provider: ProviderBedrock, ModelID: "claude-sonnet-4-20250514"},
		"gpt-4o":         {Provider: ProviderOpenAI, ModelID: "gpt-4o"},
		"gpt-4o-mini":    {Provider: ProviderOpenAI, ModelID: "gpt-4o-mini"},
		"mock":           {Provider: ProviderMock, ModelID: "mock"},
	}
}

// Lookup resolves a model tag.
func (t RouteTable) Lookup(tag string) (Route, error) {
	r, ok := t[tag]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownModel, tag)
	}
	return r, nil
}

// Merge returns a copy of t with overrides applied on top.
func (t RouteTable) Merge(overrides RouteTable) RouteTable {
	out := make(RouteTable, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Tags returns the known model tags in sorted order.
func (t RouteTable) Tags() []string {
	tags := make([]string, 0, len(t))
	for k := range t {
		tags = append(tags, k)
	}
	sort.Strings(tags)
	return tags
}
