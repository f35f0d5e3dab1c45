package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// DeciderConfig configures a Decider.
type DeciderConfig struct {
	Client     *Client
	Prompt     PromptBuilder
	MaxTokens  int
	MaxRetries int
}

// Decider obtains a raw decision for an agent through a Client.
type Decider struct {
	client     *Client
	prompt     PromptBuilder
	maxTokens  int
	maxRetries int
}

// NewDecider creates a Decider.
func NewDecider(cfg DeciderConfig) *Decider {
	return &Decider{
		client:     cfg.Client,
		prompt:     cfg.Prompt,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
	}
}

// Client returns the underlying client.
func (d *Decider) Client() *Client {
	return d.client
}

// ValidateModel checks that tag routes to a registered provider.
func (d *Decider) ValidateModel(tag string) error {
	return d.client.ValidateModel(tag)
}

// Decide asks the agent's model to choose among alternatives.
func (d *Decider) Decide(ctx context.Context, agent models.AgentDefinition, alternatives []models.Alternative) (*models.Decision, error) {
	req, err := d.prompt.Build(agent, alternatives)
	if err != nil {
		return nil, err
	}

	res, err := d.client.InvokeModel(ctx, agent.ModelTag, req, InvokeOptions{
		JSONMode:   true,
		MaxTokens:  d.maxTokens,
		MaxRetries: d.maxRetries,
	})
	if err != nil {
		return nil, err
	}

	return ParseDecision(res.Text())
}

// ParseDecision extracts a decision object from model output. Markdown code
// fences and prose around the object are tolerated.
func ParseDecision(content string) (*models.Decision, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedDecision)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedDecision)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}

	dec := &models.Decision{}
	if v, ok := firstKey(raw, "chosenAlternativeId", "chosen_alternative_id", "choice"); ok && v != nil {
		s := fmt.Sprint(v)
		dec.ChosenAlternativeID = &s
	}
	if v, ok := firstKey(raw, "reason", "rationale"); ok {
		if s, isStr := v.(string); isStr {
			dec.Reason = s
		}
	}
	if v, ok := firstKey(raw, "confidence"); ok {
		dec.Confidence = v
	}
	if v, ok := firstKey(raw, "reasonCodes", "reason_codes"); ok {
		if list, isList := v.([]any); isList {
			dec.ReasonCodes = list
		}
	}
	if v, ok := firstKey(raw, "error"); ok {
		if s, isStr := v.(string); isStr {
			dec.Error = s
		}
	}
	return dec, nil
}

func firstKey(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}
