package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// DefaultOpenAIBaseURL is the public OpenAI endpoint.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI-compatible chat-completions provider.
type OpenAIConfig struct {
	// Name overrides the provider name (e.g. "openrouter"). Defaults to "openai".
	Name string
	// APIKey is sent as a bearer token. If empty, uses OPENAI_API_KEY env var.
	APIKey string
	// BaseURL is the API root, without the /chat/completions suffix.
	BaseURL string
	// HTTPClient is used for requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// OpenAIProvider speaks the OpenAI chat-completions wire format. It also
// serves gateways that implement the same API.
type OpenAIProvider struct {
	name    string
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	name := cfg.Name
	if name == "" {
		name = ProviderOpenAI
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", name)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIProvider{name: name, apiKey: apiKey, baseURL: baseURL, http: client}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string {
	return p.name
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Images  []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, call Call) (*Result, error) {
	body := openAIRequest{
		Model:     call.ModelID,
		MaxTokens: call.MaxTokens,
	}
	if call.Request.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: call.Request.System})
	}
	for _, m := range call.Request.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	if call.JSONMode {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: KindProviderError, StatusCode: resp.StatusCode, Message: "read body: " + err.Error(), Provider: p.name, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewProviderError(p.name, resp.StatusCode, errorMessage(resp.StatusCode, raw), nil)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ProviderError{Kind: KindProviderError, StatusCode: resp.StatusCode, Message: "malformed response body", Provider: p.name, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Kind: KindProviderError, StatusCode: resp.StatusCode, Message: "response has no choices", Provider: p.name}
	}

	msg := parsed.Choices[0].Message
	res := &Result{
		Content:      msg.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}
	for _, img := range msg.Images {
		if img.ImageURL.URL != "" {
			res.Images = append(res.Images, img.ImageURL.URL)
		}
	}
	return res, nil
}

// errorMessage extracts a readable message from an error body.
func errorMessage(status int, raw []byte) string {
	var eb openAIErrorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 300 {
		text = text[:300]
	}
	if text == "" {
		return http.StatusText(status)
	}
	return text
}
