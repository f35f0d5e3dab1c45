package decision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Provider names used in routing tables.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// jsonInstruction is appended to the system prompt in JSON mode for
// providers without a native JSON response format.
const jsonInstruction = "Respond with a single JSON object and nothing else."

// AnthropicConfig contains configuration for the Anthropic providers.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// BaseURL overrides the API endpoint (mainly for testing).
	BaseURL string
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// AnthropicProvider calls the Anthropic Messages API, either directly or
// through AWS Bedrock.
type AnthropicProvider struct {
	name    string
	inner   anthropic.Client
	bedrock bool
}

// NewAnthropicProvider creates a provider using direct API key auth.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are owned by Client so attempts are counted in one place.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		name:  ProviderAnthropic,
		inner: anthropic.NewClient(opts...),
	}, nil
}

// NewBedrockProvider creates a provider that reaches Claude through AWS
// Bedrock using the default AWS credential chain.
func NewBedrockProvider(ctx context.Context, cfg AnthropicConfig) *AnthropicProvider {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.AWSRegion != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSProfile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
	}

	return &AnthropicProvider{
		name: ProviderBedrock,
		inner: anthropic.NewClient(
			bedrock.WithLoadDefaultConfig(ctx, loadOpts...),
			option.WithMaxRetries(0),
		),
		bedrock: true,
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string {
	return p.name
}

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, call Call) (*Result, error) {
	model := anthropic.Model(call.ModelID)
	if p.bedrock {
		model = translateModelForBedrock(model)
	}

	system := call.Request.System
	if call.JSONMode {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: int64(call.MaxTokens),
		Messages:  toAnthropicMessages(call.Request.Messages),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.inner.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, NewProviderError(p.name, apiErr.StatusCode, apiErr.Error(), err)
		}
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	res := &Result{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if text.Len() > 0 {
		s := text.String()
		res.Content = &s
	}
	return res, nil
}

func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock inference profile format.
// Bedrock uses cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}

	// Already in Bedrock format or a custom profile.
	return model
}
