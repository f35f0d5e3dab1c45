package simulation

import (
	"context"
	"math/rand/v2"

	"github.com/ShayCichocki/choicesim/internal/world"
	"github.com/ShayCichocki/choicesim/pkg/models"
)

// Defaults for the configuration surface.
const (
	DefaultConcurrency             = 10
	DefaultDecisionConcurrency     = 6
	DefaultOptionSpriteConcurrency = 6
	DefaultWanderSteps             = 3
	DefaultEventBuffer             = 256
)

// Decider obtains a raw decision for one agent.
type Decider interface {
	Decide(ctx context.Context, agent models.AgentDefinition, alternatives []models.Alternative) (*models.Decision, error)
}

// ModelValidator is implemented by deciders that can check model tags before
// a run starts.
type ModelValidator interface {
	ValidateModel(tag string) error
}

// RequiredConfig contains the minimal required configuration for an Orchestrator.
type RequiredConfig struct {
	// Decider makes the decision calls.
	Decider Decider
	// World is the collaborator agents are animated in.
	World world.World
	// Alternatives are the options agents choose among.
	Alternatives []models.Alternative
	// Segments describe the agent cohorts.
	Segments []models.Segment
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*options)

type options struct {
	concurrency         int
	decisionConcurrency int
	optionConcurrency   int
	initialSpawnWindow  int
	spawnWindowSet      bool
	targetTotal         int
	rng                 *rand.Rand
	observer            Observer
	logger              *DebugLogger
	defaultModel        string
	wanderSteps         int
	runID               string
	eventBuffer         int
}

func defaultOptions() options {
	return options{
		concurrency:         DefaultConcurrency,
		decisionConcurrency: DefaultDecisionConcurrency,
		optionConcurrency:   DefaultOptionSpriteConcurrency,
		wanderSteps:         DefaultWanderSteps,
		eventBuffer:         DefaultEventBuffer,
	}
}

// WithConcurrency sets the outer bound on simultaneous agent workflows.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithDecisionConcurrency sets the inner bound on simultaneous decision calls.
func WithDecisionConcurrency(n int) Option {
	return func(o *options) { o.decisionConcurrency = n }
}

// WithOptionSpriteConcurrency bounds the alternative warm-up fan-out.
func WithOptionSpriteConcurrency(n int) Option {
	return func(o *options) { o.optionConcurrency = n }
}

// WithInitialSpawnWindow sets how many agents are spawned during Init.
// It is capped at the outer concurrency bound.
func WithInitialSpawnWindow(n int) Option {
	return func(o *options) {
		o.initialSpawnWindow = n
		o.spawnWindowSet = true
	}
}

// WithTargetTotal requests at least n agents; see plan.Expand.
func WithTargetTotal(n int) Option {
	return func(o *options) { o.targetTotal = n }
}

// WithRand sets the source used to shuffle the plan.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithSeed shuffles the plan deterministically.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithObserver registers the caller's observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithDefaultModel sets the model tag for segments that name none.
func WithDefaultModel(tag string) Option {
	return func(o *options) { o.defaultModel = tag }
}

// WithWanderSteps sets the length of each agent's exploratory walk.
func WithWanderSteps(n int) Option {
	return func(o *options) { o.wanderSteps = n }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithEventBuffer sets the event channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}
