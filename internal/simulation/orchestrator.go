// Package simulation runs choice experiments: it expands agent cohorts into a
// plan, drives one workflow per agent under two nested concurrency bounds and
// aggregates progress for observers.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/choicesim/internal/limiter"
	"github.com/ShayCichocki/choicesim/internal/plan"
	"github.com/ShayCichocki/choicesim/internal/world"
	"github.com/ShayCichocki/choicesim/pkg/models"
)

var (
	// ErrNotReady is returned by Start unless Init completed.
	ErrNotReady = errors.New("orchestrator not ready")
	// ErrAlreadyInitialized is returned by Init on a used orchestrator.
	ErrAlreadyInitialized = errors.New("orchestrator already initialized")
	// ErrNoAlternatives is returned by Init when there is nothing to choose from.
	ErrNoAlternatives = errors.New("no alternatives configured")
)

// Orchestrator runs one simulation. It is single-use: Init, then Start.
type Orchestrator struct {
	runID        string
	decider      Decider
	world        world.World
	alternatives []models.Alternative
	segments     []models.Segment
	opts         options
	logger       *DebugLogger

	outer   *limiter.Limiter
	inner   *limiter.Limiter
	prep    *limiter.Limiter
	emitter *EventEmitter

	mu         sync.Mutex
	state      runState
	plan       []models.AgentDefinition
	preSpawned map[string]world.SpriteID
	runCtx     context.Context
	done       chan struct{}
	results    *models.RunResults

	// notifyMu serializes observer and event delivery.
	notifyMu sync.Mutex
	finished atomic.Bool
}

// New creates an Orchestrator in the IDLE state.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = DefaultConcurrency
	}
	if o.decisionConcurrency < 1 {
		o.decisionConcurrency = DefaultDecisionConcurrency
	}
	if o.optionConcurrency < 1 {
		o.optionConcurrency = DefaultOptionSpriteConcurrency
	}
	if !o.spawnWindowSet || o.initialSpawnWindow > o.concurrency {
		o.initialSpawnWindow = o.concurrency
	}
	if o.initialSpawnWindow < 0 {
		o.initialSpawnWindow = 0
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}

	return &Orchestrator{
		runID:        o.runID,
		decider:      req.Decider,
		world:        req.World,
		alternatives: req.Alternatives,
		segments:     req.Segments,
		opts:         o,
		logger:       o.logger,
		outer:        limiter.New(o.concurrency),
		inner:        limiter.New(o.decisionConcurrency),
		prep:         limiter.New(o.optionConcurrency),
		emitter:      NewEventEmitter(o.eventBuffer),
		preSpawned:   make(map[string]world.SpriteID),
		state:        runState{status: models.RunStatusIdle, updatedAt: time.Now()},
	}
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Status returns the current lifecycle status.
func (o *Orchestrator) Status() models.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.status
}

// Snapshot returns the current progress.
func (o *Orchestrator) Snapshot() models.ProgressSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.snapshot()
}

// Plan returns the shuffled agent plan built by Init.
func (o *Orchestrator) Plan() []models.AgentDefinition {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.AgentDefinition, len(o.plan))
	copy(out, o.plan)
	return out
}

// Results returns the final results once the run is terminal.
func (o *Orchestrator) Results() (*models.RunResults, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results, o.results != nil
}

// Events returns the event channel. It is closed when the run ends. Events
// are only queued once Events has been called, and from then on the caller
// must drain the channel: a full buffer holds up each notification until it
// is dropped.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// DroppedEventCount returns how many events slow subscribers missed.
func (o *Orchestrator) DroppedEventCount() uint64 {
	return o.emitter.DroppedCount()
}

// MaxActive returns the most agent workflows observed running at once.
func (o *Orchestrator) MaxActive() int {
	return o.outer.MaxObserved()
}

// MaxDeciding returns the most decision calls observed running at once.
func (o *Orchestrator) MaxDeciding() int {
	return o.inner.MaxObserved()
}

// Init validates the configuration, expands and shuffles the plan, prepares
// alternatives and pre-spawns the first agents. Failures preparing an
// alternative or pre-spawning an agent are counted, not returned.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mu.Lock()
	if o.state.status != models.RunStatusIdle {
		status := o.state.status
		o.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrAlreadyInitialized, status)
	}
	o.state.status = models.RunStatusInitializing
	o.state.touch()
	snap := o.state.snapshot()
	o.mu.Unlock()
	o.notifyProgress(snap)

	agents, err := o.buildPlan()
	if err != nil {
		o.failInit(err)
		return err
	}

	o.mu.Lock()
	o.plan = agents
	o.state.queue = append([]models.AgentDefinition(nil), agents...)
	o.state.total = len(agents)
	o.state.touch()
	snap = o.state.snapshot()
	o.mu.Unlock()
	o.notifyProgress(snap)
	o.logger.Log("[init] run %s: %d agents, %d alternatives", o.runID, len(agents), len(o.alternatives))

	o.prepareAlternatives(ctx)
	o.preSpawn(ctx)

	if err := ctx.Err(); err != nil {
		o.failInit(err)
		return err
	}

	o.mu.Lock()
	o.state.status = models.RunStatusReady
	o.state.touch()
	snap = o.state.snapshot()
	o.mu.Unlock()
	o.notifyProgress(snap)
	return nil
}

func (o *Orchestrator) buildPlan() ([]models.AgentDefinition, error) {
	if len(o.alternatives) == 0 {
		return nil, ErrNoAlternatives
	}
	if o.decider == nil || o.world == nil {
		return nil, errors.New("decider and world are required")
	}
	if o.opts.decisionConcurrency > o.opts.concurrency {
		log.Printf("[simulation] WARNING: decision concurrency %d exceeds agent concurrency %d; the decision limit has no effect",
			o.opts.decisionConcurrency, o.opts.concurrency)
	}

	agents := plan.Expand(o.segments, o.opts.targetTotal, o.opts.rng)

	validator, _ := o.decider.(ModelValidator)
	checked := make(map[string]bool)
	for i := range agents {
		if agents[i].ModelTag == "" {
			agents[i].ModelTag = o.opts.defaultModel
		}
		tag := agents[i].ModelTag
		if validator == nil || checked[tag] {
			continue
		}
		checked[tag] = true
		if err := validator.ValidateModel(tag); err != nil {
			return nil, fmt.Errorf("segment %s: %w", agents[i].SegmentID, err)
		}
	}
	return agents, nil
}

func (o *Orchestrator) failInit(err error) {
	log.Printf("[simulation] init failed: %v", err)
	o.mu.Lock()
	o.state.status = models.RunStatusError
	o.state.touch()
	snap := o.state.snapshot()
	o.mu.Unlock()
	o.notifyProgress(snap)
	o.finished.Store(true)
	o.emitter.Close()
}

// prepareAlternatives warms every alternative under the option limiter.
func (o *Orchestrator) prepareAlternatives(ctx context.Context) {
	futures := make([]*limiter.Future[struct{}], len(o.alternatives))
	for i, alt := range o.alternatives {
		futures[i] = limiter.Run(ctx, o.prep, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.world.PrepareAlternative(ctx, alt)
		})
	}
	for i, f := range futures {
		_, err := f.Wait(context.Background())
		o.mu.Lock()
		if err != nil {
			o.state.optionsFailed++
		} else {
			o.state.optionsReady++
		}
		o.state.touch()
		snap := o.state.snapshot()
		o.mu.Unlock()
		if err != nil {
			log.Printf("[simulation] prepare alternative %s failed: %v", o.alternatives[i].ID, err)
		}
		o.notifyProgress(snap)
	}
}

// preSpawn adds sprites for the head of the queue.
func (o *Orchestrator) preSpawn(ctx context.Context) {
	o.mu.Lock()
	n := min(o.opts.initialSpawnWindow, len(o.state.queue))
	head := append([]models.AgentDefinition(nil), o.state.queue[:n]...)
	o.mu.Unlock()

	futures := make([]*limiter.Future[world.SpriteID], len(head))
	for i, agent := range head {
		futures[i] = limiter.Run(ctx, o.prep, func(ctx context.Context) (world.SpriteID, error) {
			return o.world.AddSprite(ctx, spriteSpec(agent))
		})
	}
	for i, f := range futures {
		id, err := f.Wait(context.Background())
		if err != nil {
			o.logger.Log("[init] pre-spawn %s failed: %v", head[i].ID, err)
			continue
		}
		o.mu.Lock()
		o.preSpawned[head[i].ID] = id
		o.state.preSpawned++
		o.state.touch()
		snap := o.state.snapshot()
		o.mu.Unlock()
		o.notifyUpdate(models.AgentSpawned, head[i], "", "")
		o.notifyProgress(snap)
	}
}

func (o *Orchestrator) takePreSpawned(agentID string) (world.SpriteID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.preSpawned[agentID]
	if ok {
		delete(o.preSpawned, agentID)
	}
	return id, ok
}

// Start runs every planned agent and blocks until the run is terminal. It is
// only valid from READY. Canceling ctx aborts the run; the returned results
// still hold one Response per agent.
func (o *Orchestrator) Start(ctx context.Context) (*models.RunResults, error) {
	o.mu.Lock()
	if o.state.status != models.RunStatusReady {
		status := o.state.status
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, status)
	}
	o.state.status = models.RunStatusRunning
	o.state.startedAt = time.Now()
	o.state.touch()
	o.runCtx = ctx
	done := make(chan struct{})
	o.done = done
	total := o.state.total
	o.mu.Unlock()

	log.Printf("[simulation] run %s started: %d agents, concurrency %d, decision concurrency %d",
		o.runID, total, o.opts.concurrency, o.opts.decisionConcurrency)
	o.advance(ctx, nil)

	select {
	case <-done:
	case <-ctx.Done():
		o.Abort()
		<-done
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results, nil
}

// advance records resp (if any), fills free window slots from the queue and
// finalizes the run once nothing is in flight and nothing more will launch.
func (o *Orchestrator) advance(ctx context.Context, resp *models.Response) {
	o.mu.Lock()
	if resp != nil {
		o.state.inFlight--
		o.state.record(*resp)
	}
	if o.state.status != models.RunStatusRunning {
		o.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		o.state.aborted = true
	}
	for !o.state.aborted && !o.state.paused &&
		o.state.inFlight < o.opts.concurrency && len(o.state.queue) > 0 {
		agent := o.state.queue[0]
		o.state.queue = o.state.queue[1:]
		o.state.inFlight++
		o.launch(ctx, agent)
	}

	var fin *finalization
	if o.state.inFlight == 0 && (len(o.state.queue) == 0 || o.state.aborted) {
		fin = o.finalizeLocked()
	}
	o.state.touch()
	snap := o.state.snapshot()
	o.mu.Unlock()

	o.notifyProgress(snap)
	if fin != nil {
		o.complete(fin)
	}
}

// launch starts one agent workflow under the outer limiter. Caller must hold o.mu.
func (o *Orchestrator) launch(ctx context.Context, agent models.AgentDefinition) {
	started := time.Now()
	fut := limiter.Run(ctx, o.outer, func(ctx context.Context) (models.Response, error) {
		return o.runAgent(ctx, agent), nil
	})
	go func() {
		resp, err := fut.Wait(context.Background())
		if err != nil {
			resp = o.crashed(agent, started, err)
		}
		o.advance(ctx, &resp)
	}()
}

// crashed converts a workflow that never ran or panicked into an error Response.
func (o *Orchestrator) crashed(agent models.AgentDefinition, started time.Time, err error) models.Response {
	log.Printf("[simulation] agent %s failed: %v", agent.ID, err)
	if id, ok := o.takePreSpawned(agent.ID); ok {
		if exitErr := o.world.Exit(context.Background(), id); exitErr != nil {
			o.logger.Log("[workflow] %s: exit: %v", agent.ID, exitErr)
		}
	}
	resp := errorResponse(agent, started, err.Error())
	o.notifyUpdate(models.AgentErrored, agent, resp.Reason, "")
	return resp
}

type finalization struct {
	results  *models.RunResults
	leftover []world.SpriteID
}

// finalizeLocked moves the run to its terminal status. Agents still queued
// after an abort get an error Response. Caller must hold o.mu.
func (o *Orchestrator) finalizeLocked() *finalization {
	fin := &finalization{}
	now := time.Now()
	for _, agent := range o.state.queue {
		o.state.record(errorResponse(agent, now, ErrAborted.Error()))
		if id, ok := o.preSpawned[agent.ID]; ok {
			delete(o.preSpawned, agent.ID)
			fin.leftover = append(fin.leftover, id)
		}
	}
	o.state.queue = nil

	if o.state.aborted {
		o.state.status = models.RunStatusError
	} else {
		o.state.status = models.RunStatusComplete
	}

	responses := make([]models.Response, len(o.state.responses))
	copy(responses, o.state.responses)
	o.results = &models.RunResults{
		RunID:           o.runID,
		Responses:       responses,
		TotalAgents:     o.state.total,
		CompletedAgents: o.state.completed,
		Status:          o.state.status,
	}
	fin.results = o.results
	return fin
}

func (o *Orchestrator) complete(fin *finalization) {
	for _, id := range fin.leftover {
		if err := o.world.Exit(context.Background(), id); err != nil {
			o.logger.Log("[finalize] exit %s: %v", id, err)
		}
	}

	r := fin.results
	log.Printf("[simulation] run %s %s: %d/%d responses, %d errors",
		r.RunID, r.Status, r.CompletedAgents, r.TotalAgents, r.ErrorCount())
	o.logger.Log("[finalize] run %s %s", r.RunID, r.Status)

	o.notifyMu.Lock()
	o.finished.Store(true)
	if o.opts.observer != nil {
		o.opts.observer.OnComplete(*r)
	}
	o.emitter.Emit(Event{Type: EventComplete, Results: r, Timestamp: time.Now()})
	o.notifyMu.Unlock()

	o.emitter.Close()
	close(o.done)
}

// Abort stops new workflow launches and decision calls. In-flight workflows
// finish and still record a Response; the run ends in ERROR.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	if o.state.aborted || o.state.status.Terminal() {
		o.mu.Unlock()
		return
	}
	o.state.aborted = true
	running := o.state.status == models.RunStatusRunning
	o.mu.Unlock()

	log.Printf("[simulation] run %s: abort requested", o.runID)
	if running {
		o.advance(context.Background(), nil)
	}
}

// Pause stops new workflow launches until Resume.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.paused {
		o.state.paused = true
		log.Printf("[simulation] paused - no new agents will be launched")
	}
}

// Resume re-enables launches after Pause.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	if !o.state.paused {
		o.mu.Unlock()
		return
	}
	o.state.paused = false
	ctx := o.runCtx
	running := o.state.status == models.RunStatusRunning
	o.mu.Unlock()

	log.Printf("[simulation] resumed - agent launches enabled")
	if running {
		o.advance(ctx, nil)
	}
}

// Paused reports whether launches are paused.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.paused
}

func (o *Orchestrator) isAborted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.aborted
}

func (o *Orchestrator) adjustDeciding(delta int) {
	o.mu.Lock()
	o.state.deciding += delta
	o.state.touch()
	snap := o.state.snapshot()
	o.mu.Unlock()
	o.notifyProgress(snap)
}

func (o *Orchestrator) notifyProgress(snap models.ProgressSnapshot) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	if o.finished.Load() && !snap.Status.Terminal() {
		return
	}
	if o.opts.observer != nil {
		o.opts.observer.OnProgress(snap)
	}
	o.emitter.Emit(Event{Type: EventProgress, Snapshot: &snap, Timestamp: snap.UpdatedAt})
}

func (o *Orchestrator) notifyUpdate(kind models.AgentUpdateKind, agent models.AgentDefinition, msg, altID string) {
	u := models.AgentUpdate{
		Kind:          kind,
		AgentID:       agent.ID,
		AgentName:     agent.Name,
		SegmentID:     agent.SegmentID,
		Message:       msg,
		AlternativeID: altID,
		Timestamp:     time.Now(),
	}
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	if o.finished.Load() {
		return
	}
	if o.opts.observer != nil {
		o.opts.observer.OnAgentUpdate(u)
	}
	o.emitter.Emit(Event{Type: EventAgentUpdate, Update: &u, Timestamp: u.Timestamp})
}
