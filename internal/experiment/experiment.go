// Package experiment loads and validates choice experiment definitions.
package experiment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid experiment")

// Experiment is the on-disk description of a simulation run.
type Experiment struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Context is scenario framing shared with every agent.
	Context string `yaml:"context,omitempty"`
	// DefaultModel is used by segments without a model_tag.
	DefaultModel string `yaml:"default_model,omitempty"`
	// TargetTotal requests at least this many agents.
	TargetTotal int `yaml:"target_total,omitempty"`
	// Seed makes the plan shuffle reproducible when set.
	Seed *uint64 `yaml:"seed,omitempty"`

	Alternatives []models.Alternative `yaml:"alternatives"`
	Segments     []models.Segment     `yaml:"segments"`
}

// Load reads and validates an experiment file.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiment: %w", err)
	}
	exp, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if exp.Name == "" {
		exp.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return exp, nil
}

// Parse decodes and validates experiment YAML.
func Parse(data []byte) (*Experiment, error) {
	var exp Experiment
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parse experiment: %w", err)
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Save writes the experiment as YAML, creating parent directories.
func Save(path string, exp *Experiment) error {
	data, err := yaml.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create experiment directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the experiment for problems that would make a run
// meaningless. All problems are reported together.
func (e *Experiment) Validate() error {
	var problems []string

	if len(e.Alternatives) == 0 {
		problems = append(problems, "at least one alternative is required")
	}
	altIDs := make(map[string]bool, len(e.Alternatives))
	for i, a := range e.Alternatives {
		switch {
		case strings.TrimSpace(a.ID) == "":
			problems = append(problems, fmt.Sprintf("alternative %d has no id", i+1))
		case a.ID == models.NoChoice:
			problems = append(problems, fmt.Sprintf("alternative id %q is reserved", a.ID))
		case altIDs[a.ID]:
			problems = append(problems, fmt.Sprintf("duplicate alternative id %q", a.ID))
		}
		altIDs[a.ID] = true
	}

	segIDs := make(map[string]bool, len(e.Segments))
	for i, s := range e.Segments {
		if strings.TrimSpace(s.ID) == "" {
			problems = append(problems, fmt.Sprintf("segment %d has no id", i+1))
		} else if segIDs[s.ID] {
			problems = append(problems, fmt.Sprintf("duplicate segment id %q", s.ID))
		}
		segIDs[s.ID] = true
		if s.Count < 0 {
			problems = append(problems, fmt.Sprintf("segment %q has negative count %d", s.ID, s.Count))
		}
	}

	if e.TargetTotal < 0 {
		problems = append(problems, "target_total must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// NaturalSize returns the number of agents the segments describe before any
// target_total padding.
func (e *Experiment) NaturalSize() int {
	n := 0
	for _, s := range e.Segments {
		if s.Count > 0 {
			n += s.Count
		}
	}
	return n
}

// ModelTags returns the distinct model tags the experiment references.
func (e *Experiment) ModelTags() []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	add(e.DefaultModel)
	for _, s := range e.Segments {
		add(s.ModelTag)
	}
	return tags
}

// Example returns the starter experiment written by `choicesim init`.
func Example() *Experiment {
	return &Experiment{
		Name:         "commute-mode",
		Description:  "How do city residents choose a daily commute?",
		Context:      "You live in a mid-sized city and commute 12 km to work five days a week.",
		DefaultModel: "claude-haiku",
		Alternatives: []models.Alternative{
			{ID: "ebike", Name: "E-bike subscription", Features: map[string]any{"monthly_cost": 49, "commute_minutes": 35, "weather_exposed": true}},
			{ID: "transit", Name: "Transit pass", Features: map[string]any{"monthly_cost": 75, "commute_minutes": 45, "weather_exposed": false}},
			{ID: "car", Name: "Compact car lease", Features: map[string]any{"monthly_cost": 320, "commute_minutes": 25, "weather_exposed": false}},
		},
		Segments: []models.Segment{
			{ID: "students", Label: "Student", Count: 4, Traits: map[string]any{"personality": "Frugal", "location": "Campus", "price_sensitivity": 0.9}},
			{ID: "parents", Label: "Parent", Count: 3, Traits: map[string]any{"personality": "Busy", "location": "Suburbs", "price_sensitivity": 0.5}},
			{ID: "professionals", Label: "Professional", Count: 3, Traits: map[string]any{"personality": "Punctual", "location": "Downtown", "price_sensitivity": 0.3}},
		},
	}
}
