package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// PromptBuilder renders the persona prompt for one agent.
type PromptBuilder struct {
	// Scenario is optional framing shared by every agent in a run.
	Scenario string
}

type promptAlternative struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Features map[string]any `json:"features,omitempty"`
}

// Build returns the request for agent choosing among alternatives.
func (b PromptBuilder) Build(agent models.AgentDefinition, alternatives []models.Alternative) (Request, error) {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, a participant in a choice study.\n", agent.Name)
	if agent.Label != "" {
		fmt.Fprintf(&sys, "You belong to the %q cohort.\n", agent.Label)
	}
	if keys := agent.TraitKeys(); len(keys) > 0 {
		sys.WriteString("Your profile:\n")
		for _, k := range keys {
			fmt.Fprintf(&sys, "- %s: %s\n", k, agent.Trait(k))
		}
	}
	if s := strings.TrimSpace(b.Scenario); s != "" {
		sys.WriteString("\nScenario:\n")
		sys.WriteString(s)
		sys.WriteString("\n")
	}
	sys.WriteString("\nStay in character. Weigh the alternatives the way this person would, " +
		"including the option of choosing none of them.")

	alts := make([]promptAlternative, 0, len(alternatives))
	for _, a := range alternatives {
		alts = append(alts, promptAlternative{ID: a.ID, Name: a.Name, Features: a.Features})
	}
	altJSON, err := json.MarshalIndent(alts, "", "  ")
	if err != nil {
		return Request{}, fmt.Errorf("marshal alternatives: %w", err)
	}

	var user strings.Builder
	user.WriteString("Alternatives:\n```json\n")
	user.Write(altJSON)
	user.WriteString("\n```\n\n")
	user.WriteString("Reply with a JSON object with these fields:\n")
	fmt.Fprintf(&user, "- chosenAlternativeId: the id of your choice, or %q if you would choose none\n", models.NoChoice)
	user.WriteString("- reason: one or two sentences in your own voice\n")
	user.WriteString("- confidence: a number between 0 and 1\n")
	user.WriteString("- reasonCodes: the feature keys that drove your decision\n")

	return Request{
		System:   sys.String(),
		Messages: []Message{{Role: RoleUser, Content: user.String()}},
	}, nil
}

// alternativeIDsFromPrompt extracts alternative IDs from the fenced JSON block
// written by Build.
func alternativeIDsFromPrompt(text string) []string {
	start := strings.Index(text, "```json")
	if start < 0 {
		return nil
	}
	rest := text[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return nil
	}
	var alts []promptAlternative
	if err := json.Unmarshal([]byte(rest[:end]), &alts); err != nil {
		return nil
	}
	ids := make([]string, 0, len(alts))
	for _, a := range alts {
		ids = append(ids, a.ID)
	}
	return ids
}
