// Package plan expands segment-based cohort specifications into the
// individual agents of a simulation run.
package plan

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// Trait keys used when naming agents.
const (
	TraitPersonality = "personality"
	TraitLocation    = "location"
)

// Expand enumerates the agents described by segments and shuffles them with
// rng. Each segment contributes exactly Count agents. If targetTotal exceeds
// the natural sum, extra agents are synthesized by cycling through segments
// round-robin; a smaller targetTotal never truncates. A nil rng uses a
// randomly seeded source.
func Expand(segments []models.Segment, targetTotal int, rng *rand.Rand) []models.AgentDefinition {
	agents := Enumerate(segments, targetTotal)
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	Shuffle(agents, rng)
	return agents
}

// Enumerate is Expand without the shuffle. Agents appear segment by segment,
// followed by any round-robin synthesized agents.
func Enumerate(segments []models.Segment, targetTotal int) []models.AgentDefinition {
	natural := 0
	for _, s := range segments {
		if s.Count > 0 {
			natural += s.Count
		}
	}
	total := natural
	if targetTotal > total {
		total = targetTotal
	}
	if len(segments) == 0 {
		return []models.AgentDefinition{}
	}

	agents := make([]models.AgentDefinition, 0, total)
	next := make([]int, len(segments)) // last index issued per segment

	for i, s := range segments {
		for n := 0; n < s.Count; n++ {
			next[i]++
			agents = append(agents, newAgent(s, next[i]))
		}
	}

	// Synthesize the remainder round-robin, continuing each segment's numbering.
	for i := 0; len(agents) < total; i = (i + 1) % len(segments) {
		next[i]++
		agents = append(agents, newAgent(segments[i], next[i]))
	}
	return agents
}

// Shuffle permutes agents in place with a uniform Fisher-Yates shuffle.
func Shuffle(agents []models.AgentDefinition, rng *rand.Rand) {
	for i := len(agents) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		agents[i], agents[j] = agents[j], agents[i]
	}
}

func newAgent(s models.Segment, n int) models.AgentDefinition {
	traits := make(map[string]any, len(s.Traits))
	for k, v := range s.Traits {
		traits[k] = v
	}
	return models.AgentDefinition{
		ID:        fmt.Sprintf("%s-%d", s.ID, n),
		Name:      AgentName(s, n),
		SegmentID: s.ID,
		Label:     s.Label,
		ModelTag:  s.ModelTag,
		Traits:    traits,
	}
}

// AgentName renders "{trait} #{n} ({location})". The trait is the segment's
// personality, falling back to its label and then its ID. The location suffix
// is omitted when the segment has none.
func AgentName(s models.Segment, n int) string {
	trait := traitString(s.Traits, TraitPersonality)
	if trait == "" {
		trait = strings.TrimSpace(s.Label)
	}
	if trait == "" {
		trait = s.ID
	}
	name := fmt.Sprintf("%s #%d", trait, n)
	if loc := traitString(s.Traits, TraitLocation); loc != "" {
		name += " (" + loc + ")"
	}
	return name
}

func traitString(traits map[string]any, key string) string {
	v, ok := traits[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
