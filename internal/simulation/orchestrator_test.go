package simulation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/choicesim/internal/decision"
	"github.com/ShayCichocki/choicesim/internal/world"
	"github.com/ShayCichocki/choicesim/pkg/models"
)

func choose(id string) *models.Decision {
	return &models.Decision{ChosenAlternativeID: &id, Reason: "because", Confidence: 0.8, ReasonCodes: []any{"price"}}
}

// fakeDecider records call concurrency and delegates to fn.
type fakeDecider struct {
	fn        func(ctx context.Context, agent models.AgentDefinition) (*models.Decision, error)
	delay     time.Duration
	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func (d *fakeDecider) Decide(ctx context.Context, agent models.AgentDefinition, _ []models.Alternative) (*models.Decision, error) {
	d.calls.Add(1)
	n := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		m := d.maxActive.Load()
		if n <= m || d.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.fn == nil {
		return choose("alt-a"), nil
	}
	return d.fn(ctx, agent)
}

// recorder is an Observer that keeps everything it sees.
type recorder struct {
	mu        sync.Mutex
	snapshots []models.ProgressSnapshot
	updates   []models.AgentUpdate
	completes []models.RunResults
}

func (r *recorder) OnProgress(s models.ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) OnAgentUpdate(u models.AgentUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) OnComplete(res models.RunResults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes = append(r.completes, res)
}

func (r *recorder) maxActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := 0
	for _, s := range r.snapshots {
		m = max(m, s.Active)
	}
	return m
}

func (r *recorder) countKind(kind models.AgentUpdateKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Kind == kind {
			n++
		}
	}
	return n
}

func testAlternatives() []models.Alternative {
	return []models.Alternative{
		{ID: "alt-a", Name: "Alpha"},
		{ID: "alt-b", Name: "Beta"},
	}
}

func newTestRun(t *testing.T, d Decider, w world.World, segments []models.Segment, opts ...Option) *Orchestrator {
	t.Helper()
	o := New(RequiredConfig{
		Decider:      d,
		World:        w,
		Alternatives: testAlternatives(),
		Segments:     segments,
	}, append([]Option{WithSeed(1)}, opts...)...)
	if err := o.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return o
}

func assertOneResponsePerAgent(t *testing.T, o *Orchestrator, res *models.RunResults) {
	t.Helper()
	planIDs := make(map[string]bool)
	for _, a := range o.Plan() {
		planIDs[a.ID] = true
	}
	if len(res.Responses) != len(planIDs) {
		t.Fatalf("responses = %d, want %d", len(res.Responses), len(planIDs))
	}
	seen := make(map[string]bool)
	for _, r := range res.Responses {
		if !planIDs[r.AgentID] {
			t.Errorf("response for unknown agent %q", r.AgentID)
		}
		if seen[r.AgentID] {
			t.Errorf("duplicate response for %q", r.AgentID)
		}
		seen[r.AgentID] = true
	}
	if res.CompletedAgents != res.TotalAgents {
		t.Errorf("completed = %d, total = %d", res.CompletedAgents, res.TotalAgents)
	}
}

func TestOrchestrator_OuterBound(t *testing.T) {
	h := world.NewHeadless(world.HeadlessConfig{StepLatency: time.Millisecond})
	d := &fakeDecider{delay: 5 * time.Millisecond}
	rec := &recorder{}
	segments := []models.Segment{{ID: "a", Count: 3}, {ID: "b", Count: 2}}

	o := newTestRun(t, d, h, segments, WithConcurrency(2), WithDecisionConcurrency(2), WithObserver(rec))
	res, err := o.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if res.Status != models.RunStatusComplete {
		t.Errorf("status = %s, want complete", res.Status)
	}
	if res.CompletedAgents != 5 {
		t.Errorf("completed = %d, want 5", res.CompletedAgents)
	}
	assertOneResponsePerAgent(t, o, res)
	if got := o.MaxActive(); got > 2 {
		t.Errorf("MaxActive = %d, want <= 2", got)
	}
	if got := rec.maxActive(); got > 2 {
		t.Errorf("snapshot Active peaked at %d, want <= 2", got)
	}
	if h.Present() != 0 {
		t.Errorf("%d sprites still present", h.Present())
	}
	if got := h.Count("", world.OpExit); got != 5 {
		t.Errorf("exit events = %d, want 5", got)
	}
	if h.Thinking() != 0 {
		t.Errorf("%d sprites still thinking", h.Thinking())
	}
	if len(rec.completes) != 1 {
		t.Errorf("OnComplete called %d times, want 1", len(rec.completes))
	}
	for _, r := range res.Responses {
		if r.Error || r.ChosenAlternativeID == nil || *r.ChosenAlternativeID != "alt-a" {
			t.Errorf("unexpected response %+v", r)
		}
		if r.Timings.EndedAt.Before(r.Timings.StartedAt) {
			t.Errorf("response %s ended before it started", r.AgentID)
		}
	}
}

func TestOrchestrator_InnerBound(t *testing.T) {
	h := world.NewHeadless(world.HeadlessConfig{})
	d := &fakeDecider{delay: 10 * time.Millisecond}
	segments := []models.Segment{{ID: "a", Count: 12}}

	o := newTestRun(t, d, h, segments, WithConcurrency(8), WithDecisionConcurrency(2))
	res, err := o.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	assertOneResponsePerAgent(t, o, res)
	if got := d.maxActive.Load(); got > 2 {
		t.Errorf("concurrent decisions peaked at %d, want <= 2", got)
	}
	if got := o.MaxDeciding(); got > 2 {
		t.Errorf("MaxDeciding = %d, want <= 2", got)
	}
	if got := o.MaxActive(); got > 8 {
		t.Errorf("MaxActive = %d, want <= 8", got)
	}
}

func TestOrchestrator_DecisionOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		decision *models.Decision
		err      error
		wantErr  bool
		wantAlt  string
		wantKind models.AgentUpdateKind
	}{
		{"exact id", choose("alt-b"), nil, false, "alt-b", models.AgentDecided},
		{"fuzzy name", choose("  beta "), nil, false, "alt-b", models.AgentDecided},
		{"none", choose(models.NoChoice), nil, false, "", models.AgentDecidedNone},
		{"absent choice", &models.Decision{Reason: "undecided"}, nil, false, "", models.AgentDecidedNone},
		{"unknown alternative", choose("gamma"), nil, true, "", models.AgentErrored},
		{"decision error field", &models.Decision{Error: "model refused"}, nil, true, "", models.AgentErrored},
		{"decider failure", nil, errors.New("boom"), true, "", models.AgentErrored},
		{"nil decision", nil, nil, true, "", models.AgentErrored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := world.NewHeadless(world.HeadlessConfig{})
			d := &fakeDecider{fn: func(context.Context, models.AgentDefinition) (*models.Decision, error) {
				return tt.decision, tt.err
			}}
			rec := &recorder{}
			o := newTestRun(t, d, h, []models.Segment{{ID: "s", Count: 1}}, WithObserver(rec))

			res, err := o.Start(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Responses) != 1 {
				t.Fatalf("responses = %d, want 1", len(res.Responses))
			}
			r := res.Responses[0]
			if r.Error != tt.wantErr {
				t.Errorf("Error = %v, want %v (reason %q)", r.Error, tt.wantErr, r.Reason)
			}
			if tt.wantAlt == "" {
				if r.ChosenAlternativeID != nil || r.ChosenAlternativeName != nil {
					t.Errorf("alternative = %v/%v, want nil", r.ChosenAlternativeID, r.ChosenAlternativeName)
				}
			} else if r.ChosenAlternativeID == nil || *r.ChosenAlternativeID != tt.wantAlt {
				t.Errorf("ChosenAlternativeID = %v, want %q", r.ChosenAlternativeID, tt.wantAlt)
			}
			if rec.countKind(tt.wantKind) != 1 {
				t.Errorf("%s updates = %d, want 1", tt.wantKind, rec.countKind(tt.wantKind))
			}
			if rec.countKind(models.AgentExited) != 1 {
				t.Errorf("exited updates = %d, want 1", rec.countKind(models.AgentExited))
			}
			if h.Present() != 0 || h.Thinking() != 0 {
				t.Errorf("present=%d thinking=%d, want 0/0", h.Present(), h.Thinking())
			}
			if r.ReasonCodes == nil {
				t.Error("ReasonCodes should never be nil")
			}
		})
	}
}

func TestOrchestrator_NoneResponseKeepsReason(t *testing.T) {
	d := &fakeDecider{fn: func(context.Context, models.AgentDefinition) (*models.Decision, error) {
		none := models.NoChoice
		return &models.Decision{ChosenAlternativeID: &none, Reason: "too pricey", Confidence: 9.0}, nil
	}}
	o := newTestRun(t, d, world.NewHeadless(world.HeadlessConfig{}), []models.Segment{{ID: "s", Count: 1}})
	res, err := o.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r := res.Responses[0]
	if r.Reason != "too pricey" || r.Confidence != 1 || r.Error {
		t.Errorf("response = %+v", r)
	}
}

// failingProvider always returns a retryable upstream error.
type failingProvider struct{ calls atomic.Int32 }

func (p *failingProvider) Name() string { return "down" }

func (p *failingProvider) Complete(context.Context, decision.Call) (*decision.Result, error) {
	p.calls.Add(1)
	return nil, decision.NewProviderError("down", 503, "service unavailable", nil)
}

func TestOrchestrator_TotalUpstreamFailure(t *testing.T) {
	p := &failingProvider{}
	client, err := decision.NewClient(decision.ClientConfig{
		Routes:    decision.RouteTable{"m": {Provider: "down", ModelID: "x"}},
		Providers: []decision.Provider{p},
	})
	if err != nil {
		t.Fatal(err)
	}
	d := decision.NewDecider(decision.DeciderConfig{Client: client, MaxRetries: 1})
	h := world.NewHeadless(world.HeadlessConfig{})

	o := newTestRun(t, d, h, []models.Segment{{ID: "s", Count: 7, ModelTag: "m"}}, WithConcurrency(3), WithDecisionConcurrency(2))
	res, err := o.Start(context.Background())
	if err != nil {
		t.Fatalf("Start should not fail on upstream errors: %v", err)
	}

	if res.Status != models.RunStatusComplete {
		t.Errorf("status = %s, want complete", res.Status)
	}
	assertOneResponsePerAgent(t, o, res)
	if res.ErrorCount() != 7 {
		t.Errorf("errors = %d, want 7", res.ErrorCount())
	}
	if got := p.calls.Load(); got != 14 {
		t.Errorf("provider calls = %d, want 14", got)
	}
	if snap := o.Snapshot(); snap.Errors != 7 || snap.Completed != 7 {
		t.Errorf("snapshot = %+v", snap)
	}
	if h.Present() != 0 {
		t.Errorf("%d sprites still present", h.Present())
	}
}

func TestOrchestrator_InitRejectsUnknownModel(t *testing.T) {
	client, err := decision.NewClient(decision.ClientConfig{Providers: []decision.Provider{&decision.MockProvider{}}})
	if err != nil {
		t.Fatal(err)
	}
	d := decision.NewDecider(decision.DeciderConfig{Client: client})

	o := New(RequiredConfig{
		Decider:      d,
		World:        world.NewHeadless(world.HeadlessConfig{}),
		Alternatives: testAlternatives(),
		Segments:     []models.Segment{{ID: "s", Count: 1, ModelTag: "no-such-model"}},
	})
	err = o.Init(context.Background())
	if !errors.Is(err, decision.ErrUnknownModel) {
		t.Fatalf("Init = %v, want ErrUnknownModel", err)
	}
	if o.Status() != models.RunStatusError {
		t.Errorf("status = %s, want error", o.Status())
	}
	if _, err := o.Start(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("Start after failed Init = %v, want ErrNotReady", err)
	}
}

func TestOrchestrator_DefaultModelApplied(t *testing.T) {
	client, err := decision.NewClient(decision.ClientConfig{Providers: []decision.Provider{&decision.MockProvider{}}})
	if err != nil {
		t.Fatal(err)
	}
	d := decision.NewDecider(decision.DeciderConfig{Client: client})
	o := newTestRun(t, d, world.NewHeadless(world.HeadlessConfig{}),
		[]models.Segment{{ID: "s", Count: 4}}, WithDefaultModel("mock"))

	for _, a := range o.Plan() {
		if a.ModelTag != "mock" {
			t.Errorf("agent %s model = %q, want mock", a.ID, a.ModelTag)
		}
	}
	res, err := o.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.ErrorCount() != 0 {
		t.Errorf("mock run produced %d errors", res.ErrorCount())
	}
}

func TestOrchestrator_Lifecycle(t *testing.T) {
	o := New(RequiredConfig{
		Decider:      &fakeDecider{},
		World:        world.NewHeadless(world.HeadlessConfig{}),
		Alternatives: testAlternatives(),
	})
	if o.Status() != models.RunStatusIdle {
		t.Errorf("initial status = %s", o.Status())
	}
	if _, err := o.Start(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("Start before Init = %v, want ErrNotReady", err)
	}
	if err := o.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o.Status() != models.RunStatusReady {
		t.Errorf("status after Init = %s", o.Status())
	}
	if err := o.Init(context.Background()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Init = %v, want ErrAlreadyInitialized", err)
	}
}

func TestOrchestrator_EmptyPlanCompletesImmediately(t *testing.T) {
	rec := &recorder{}
	o := newTestRun(t, &fakeDecider{}, world.NewHeadless(world.HeadlessConfig{}), nil, WithObserver(rec))

	res, err := o.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.RunStatusComplete || len(res.Responses) != 0 {
		t.Errorf("results = %+v", res)
	}
	if len(rec.completes) != 1 {
		t.Errorf("OnComplete called %d times", len(rec.completes))
	}
	if _, err := o.Start(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("second Start = %v, want ErrNotReady", err)
	}
}

func TestOrchestrator_NoAlternatives(t *testing.T) {
	o := New(RequiredConfig{Decider: &fakeDecider{}, World: world.NewHeadless(world.HeadlessConfig{})})
	if err := o.Init(context.Background()); !errors.Is(err, ErrNoAlternatives) {
		t.Errorf("Init = %v, want ErrNoAlternatives", err)
	}
}

func TestOrchestrator_Abort(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 10)
	d := &fakeDecider{fn: func(ctx context.Context, _ models.AgentDefinition) (*models.Decision, error) {
		entered <- struct{}{}
		<-release
		return choose("alt-a"), nil
	}}
	h := world.NewHeadless(world.HeadlessConfig{})
	o := newTestRun(t, d, h, []models.Segment{{ID: "s", Count: 6}}, WithConcurrency(2), WithInitialSpawnWindow(2))

	type result struct {
		res *models.RunResults
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := o.Start(context.Background())
		done <- result{res, err}
	}()

	<-entered
	<-entered
	o.Abort()
	close(release)

	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after abort")
	}
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.res.Status != models.RunStatusError {
		t.Errorf("status = %s, want error", r.res.Status)
	}
	assertOneResponsePerAgent(t, o, r.res)

	aborted, decided := 0, 0
	for _, resp := range r.res.Responses {
		switch {
		case resp.Error && resp.Reason == ErrAborted.Error():
			aborted++
		case !resp.Error:
			decided++
		}
	}
	if decided != 2 || aborted != 4 {
		t.Errorf("decided=%d aborted=%d, want 2/4", decided, aborted)
	}
	if got := d.calls.Load(); got != 2 {
		t.Errorf("decision calls = %d, want 2", got)
	}
	if h.Present() != 0 {
		t.Errorf("%d sprites still present", h.Present())
	}
}

func TestOrchestrator_ContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDecider{fn: func(ctx context.Context, _ models.AgentDefinition) (*models.Decision, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := newTestRun(t, d, world.NewHeadless(world.HeadlessConfig{}), []models.Segment{{ID: "s", Count: 5}}, WithConcurrency(1))

	res, err := o.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.RunStatusError {
		t.Errorf("status = %s, want error", res.Status)
	}
	assertOneResponsePerAgent(t, o, res)
	if res.ErrorCount() != 5 {
		t.Errorf("errors = %d, want 5", res.ErrorCount())
	}
}

// panickyWorld panics while an agent wanders.
type panickyWorld struct {
	*world.Headless
}

func (w panickyWorld) Wander(context.Context, world.SpriteID, int) error {
	panic("wander exploded")
}

func TestOrchestrator_CollaboratorPanicIsContained(t *testing.T) {
	h := world.NewHeadless(world.HeadlessConfig{})
	o := newTestRun(t, &fakeDecider{}, panickyWorld{h}, []models.Segment{{ID: "s", Count: 3}})

	res, err := o.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	assertOneResponsePerAgent(t, o, res)
	for _, r := range res.Responses {
		if !r.Error || !strings.Contains(r.Reason, "wander exploded") {
			t.Errorf("response = %+v, want panic error", r)
		}
	}
	if h.Present() != 0 {
		t.Errorf("%d sprites still present", h.Present())
	}
	if got := h.Count("", world.OpExit); got != 3 {
		t.Errorf("exit events = %d, want 3", got)
	}
}

// flakyWorld fails to prepare one alternative and to pick.
type flakyWorld struct {
	*world.Headless
	badAlt string
}

func (w flakyWorld) PrepareAlternative(ctx context.Context, alt models.Alternative) error {
	if alt.ID == w.badAlt {
		return errors.New("asset generation failed")
	}
	return w.Headless.PrepareAlternative(ctx, alt)
}

func (w flakyWorld) Pick(context.Context, world.SpriteID, world.Destination) error {
	return world.ErrOutOfRange
}

func TestOrchestrator_WarmupCounters(t *testing.T) {
	h := world.NewHeadless(world.HeadlessConfig{})
	w := flakyWorld{Headless: h, badAlt: "alt-b"}
	o := newTestRun(t, &fakeDecider{}, w, []models.Segment{{ID: "s", Count: 5}},
		WithConcurrency(4), WithInitialSpawnWindow(3))

	snap := o.Snapshot()
	if snap.Status != models.RunStatusReady {
		t.Errorf("status = %s, want ready", snap.Status)
	}
	if snap.OptionsReady != 1 || snap.OptionsFailed != 1 {
		t.Errorf("options ready/failed = %d/%d, want 1/1", snap.OptionsReady, snap.OptionsFailed)
	}
	if snap.AgentsPreSpawned != 3 {
		t.Errorf("pre-spawned = %d, want 3", snap.AgentsPreSpawned)
	}
	if snap.Total != 5 || snap.Pending != 5 {
		t.Errorf("total/pending = %d/%d, want 5/5", snap.Total, snap.Pending)
	}

	res, err := o.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.ErrorCount() != 0 {
		t.Errorf("pick failures must not produce errors, got %d", res.ErrorCount())
	}
	if got := h.Count("", world.OpAdd); got != 5 {
		t.Errorf("sprites added = %d, want 5", got)
	}
}

func TestOrchestrator_PauseResume(t *testing.T) {
	h := world.NewHeadless(world.HeadlessConfig{})
	o := newTestRun(t, &fakeDecider{}, h, []models.Segment{{ID: "s", Count: 4}}, WithConcurrency(1))
	o.Pause()
	if !o.Paused() {
		t.Fatal("Paused() = false after Pause")
	}

	done := make(chan *models.RunResults, 1)
	go func() {
		res, _ := o.Start(context.Background())
		done <- res
	}()

	select {
	case <-done:
		t.Fatal("paused run finished")
	case <-time.After(50 * time.Millisecond):
	}
	if snap := o.Snapshot(); snap.Completed != 0 || snap.Status != models.RunStatusRunning {
		t.Errorf("snapshot while paused = %+v", snap)
	}

	o.Resume()
	select {
	case res := <-done:
		if res.Status != models.RunStatusComplete || len(res.Responses) != 4 {
			t.Errorf("results = %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}
}

func TestOrchestrator_EventsChannel(t *testing.T) {
	o := newTestRun(t, &fakeDecider{}, world.NewHeadless(world.HeadlessConfig{}),
		[]models.Segment{{ID: "s", Count: 3}}, WithEventBuffer(1024))

	var events []Event
	ch := o.Events()
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range ch {
			events = append(events, e)
		}
	}()

	if _, err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-collected:
	case <-time.After(5 * time.Second):
		t.Fatal("events channel was not closed")
	}

	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Type != EventComplete || last.Results == nil {
		t.Errorf("last event = %+v, want complete", last)
	}
	completes := 0
	for _, e := range events {
		if e.Type == EventComplete {
			completes++
		}
	}
	if completes != 1 {
		t.Errorf("complete events = %d, want 1", completes)
	}
}

func TestOrchestrator_ObserverOnlyRunDoesNotStall(t *testing.T) {
	rec := &recorder{}
	o := newTestRun(t, &fakeDecider{}, world.NewHeadless(world.HeadlessConfig{}),
		[]models.Segment{{ID: "s", Count: 100}},
		WithObserver(rec), WithEventBuffer(16), WithConcurrency(10), WithDecisionConcurrency(4))

	start := time.Now()
	res, err := o.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run with 100 agents took %s without an events subscriber", elapsed)
	}
	assertOneResponsePerAgent(t, o, res)
	if n := o.DroppedEventCount(); n != 0 {
		t.Errorf("DroppedEventCount = %d, want 0 without a subscriber", n)
	}
	if got := rec.countKind(models.AgentDecided); got != 100 {
		t.Errorf("decided updates = %d, want 100", got)
	}
}
