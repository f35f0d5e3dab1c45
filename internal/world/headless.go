package world

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// Op names recorded in the Headless event log.
const (
	OpAdd      = "add"
	OpRemove   = "remove"
	OpWander   = "wander"
	OpThink    = "think"
	OpUnthink  = "unthink"
	OpSay      = "say"
	OpMove     = "move"
	OpPick     = "pick"
	OpPickMiss = "pick_miss"
	OpExit     = "exit"
	OpPrepare  = "prepare"
)

// pickRange is the distance within which Pick succeeds.
const pickRange = 1.0

// Event is one entry in the Headless event log.
type Event struct {
	Time   time.Time
	Sprite SpriteID
	Op     string
	Detail string
}

// HeadlessConfig configures a Headless world.
type HeadlessConfig struct {
	// StepLatency is slept for every animated step.
	StepLatency time.Duration
	// PickMissRate is the probability in [0,1] that Pick fails even in range.
	PickMissRate float64
	// Seed seeds wander movement and pick misses.
	Seed uint64
	// MaxEvents caps the event log; zero keeps everything.
	MaxEvents int
}

type sprite struct {
	spec     SpriteSpec
	x, y     float64
	thinking bool
	exited   bool
}

// Headless is an in-memory World with no rendering. It is used for CLI runs
// without a display and in tests.
type Headless struct {
	cfg HeadlessConfig

	mu           sync.Mutex
	rng          *rand.Rand
	seq          int
	sprites      map[SpriteID]*sprite
	alternatives map[string]Destination
	altOrder     int
	events       []Event
	thinking     int
	maxThinking  int
}

// NewHeadless creates an empty headless world.
func NewHeadless(cfg HeadlessConfig) *Headless {
	return &Headless{
		cfg:          cfg,
		rng:          rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		sprites:      make(map[SpriteID]*sprite),
		alternatives: make(map[string]Destination),
	}
}

// AddSprite implements World.
func (h *Headless) AddSprite(ctx context.Context, spec SpriteSpec) (SpriteID, error) {
	if err := h.step(ctx, 1); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	id := SpriteID(fmt.Sprintf("sprite-%d", h.seq))
	h.sprites[id] = &sprite{spec: spec}
	h.record(id, OpAdd, spec.Name)
	return id, nil
}

// RemoveSprite implements World.
func (h *Headless) RemoveSprite(ctx context.Context, id SpriteID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sprites[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSprite, id)
	}
	if s.thinking {
		h.thinking--
	}
	delete(h.sprites, id)
	h.record(id, OpRemove, "")
	return nil
}

// Wander implements World.
func (h *Headless) Wander(ctx context.Context, id SpriteID, steps int) error {
	if err := h.step(ctx, steps); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.lookup(id)
	if err != nil {
		return err
	}
	for i := 0; i < steps; i++ {
		s.x += h.rng.Float64()*2 - 1
		s.y += h.rng.Float64()*2 - 1
	}
	h.record(id, OpWander, fmt.Sprintf("%d steps", steps))
	return nil
}

// ShowThinking implements World.
func (h *Headless) ShowThinking(ctx context.Context, id SpriteID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.lookup(id)
	if err != nil {
		return err
	}
	if !s.thinking {
		s.thinking = true
		h.thinking++
		h.maxThinking = max(h.maxThinking, h.thinking)
	}
	h.record(id, OpThink, "")
	return nil
}

// ClearThinking implements World.
func (h *Headless) ClearThinking(ctx context.Context, id SpriteID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.lookup(id)
	if err != nil {
		return err
	}
	if s.thinking {
		s.thinking = false
		h.thinking--
	}
	h.record(id, OpUnthink, "")
	return nil
}

// Say implements World.
func (h *Headless) Say(ctx context.Context, id SpriteID, text string) error {
	if err := h.step(ctx, 1); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.lookup(id); err != nil {
		return err
	}
	h.record(id, OpSay, text)
	return nil
}

// MoveTo implements World.
func (h *Headless) MoveTo(ctx context.Context, id SpriteID, dest Destination) error {
	h.mu.Lock()
	s, err := h.lookup(id)
	var dist float64
	if err == nil {
		dist = math.Hypot(dest.X-s.x, dest.Y-s.y)
	}
	h.mu.Unlock()
	if err != nil {
		return err
	}

	if err := h.step(ctx, int(math.Ceil(dist))); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s, err = h.lookup(id)
	if err != nil {
		return err
	}
	s.x, s.y = dest.X, dest.Y
	h.record(id, OpMove, dest.AlternativeID)
	return nil
}

// Pick implements World.
func (h *Headless) Pick(ctx context.Context, id SpriteID, dest Destination) error {
	if err := h.step(ctx, 1); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.lookup(id)
	if err != nil {
		return err
	}
	if math.Hypot(dest.X-s.x, dest.Y-s.y) > pickRange || h.rng.Float64() < h.cfg.PickMissRate {
		h.record(id, OpPickMiss, dest.AlternativeID)
		return fmt.Errorf("%w: %s", ErrOutOfRange, dest.AlternativeID)
	}
	h.record(id, OpPick, dest.AlternativeID)
	return nil
}

// Exit implements World. The sprite stays in the log but no longer counts as
// present.
func (h *Headless) Exit(ctx context.Context, id SpriteID) error {
	if err := h.step(ctx, 1); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.lookup(id)
	if err != nil {
		return err
	}
	if s.thinking {
		s.thinking = false
		h.thinking--
	}
	s.exited = true
	h.record(id, OpExit, "")
	return nil
}

// AlternativePosition implements World.
func (h *Headless) AlternativePosition(altID string) (Destination, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.alternatives[altID]
	return d, ok
}

// PrepareAlternative implements World. Alternatives are laid out in a row in
// preparation order.
func (h *Headless) PrepareAlternative(ctx context.Context, alt models.Alternative) error {
	if alt.ID == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownAlternative)
	}
	if err := h.step(ctx, 1); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.alternatives[alt.ID]; !ok {
		h.alternatives[alt.ID] = Destination{AlternativeID: alt.ID, X: float64(h.altOrder) * 10, Y: 20}
		h.altOrder++
	}
	h.record("", OpPrepare, alt.ID)
	return nil
}

// Present returns the number of sprites that have been added and not exited
// or removed.
func (h *Headless) Present() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.sprites {
		if !s.exited {
			n++
		}
	}
	return n
}

// Thinking returns the number of sprites currently showing the thinking signal.
func (h *Headless) Thinking() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.thinking
}

// MaxThinking returns the highest number of simultaneously thinking sprites.
func (h *Headless) MaxThinking() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxThinking
}

// Events returns a copy of the event log.
func (h *Headless) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// Count returns how many logged events have op for the given sprite. An empty
// sprite counts across all sprites.
func (h *Headless) Count(id SpriteID, op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Op == op && (id == "" || e.Sprite == id) {
			n++
		}
	}
	return n
}

// record appends to the event log. Caller must hold h.mu.
func (h *Headless) record(id SpriteID, op, detail string) {
	h.events = append(h.events, Event{Time: time.Now(), Sprite: id, Op: op, Detail: detail})
	if h.cfg.MaxEvents > 0 && len(h.events) > h.cfg.MaxEvents {
		h.events = h.events[len(h.events)-h.cfg.MaxEvents:]
	}
}

// lookup returns a live sprite. Caller must hold h.mu.
func (h *Headless) lookup(id SpriteID) (*sprite, error) {
	s, ok := h.sprites[id]
	if !ok || s.exited {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSprite, id)
	}
	return s, nil
}

func (h *Headless) step(ctx context.Context, n int) error {
	if h.cfg.StepLatency <= 0 || n <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(h.cfg.StepLatency * time.Duration(n))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ World = (*Headless)(nil)
