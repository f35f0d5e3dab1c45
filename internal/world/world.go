// Package world defines the rendering collaborator that agents move through
// during a simulation, and an in-memory implementation of it.
package world

import (
	"context"
	"errors"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

var (
	// ErrUnknownSprite is returned for operations on a sprite that does not exist.
	ErrUnknownSprite = errors.New("unknown sprite")
	// ErrOutOfRange is returned by Pick when the sprite cannot reach the destination.
	ErrOutOfRange = errors.New("destination out of range")
	// ErrUnknownAlternative is returned when an alternative has no position.
	ErrUnknownAlternative = errors.New("unknown alternative")
)

// SpriteID identifies an agent's representation in the world.
type SpriteID string

// SpriteSpec describes the sprite to create for an agent.
type SpriteSpec struct {
	AgentID   string
	Name      string
	SegmentID string
	Traits    map[string]any
}

// Destination is a resolved position for an alternative.
type Destination struct {
	AlternativeID string
	X, Y          float64
}

// World is the external environment agents are animated in. Implementations
// must be safe for concurrent use; each sprite is mutated by a single agent
// workflow but many workflows run at once.
type World interface {
	AddSprite(ctx context.Context, spec SpriteSpec) (SpriteID, error)
	RemoveSprite(ctx context.Context, id SpriteID) error
	Wander(ctx context.Context, id SpriteID, steps int) error
	ShowThinking(ctx context.Context, id SpriteID) error
	ClearThinking(ctx context.Context, id SpriteID) error
	Say(ctx context.Context, id SpriteID, text string) error
	MoveTo(ctx context.Context, id SpriteID, dest Destination) error
	// Pick attempts the collect interaction. It fails with ErrOutOfRange
	// when the sprite is not close enough; callers may ignore that.
	Pick(ctx context.Context, id SpriteID, dest Destination) error
	Exit(ctx context.Context, id SpriteID) error
	// AlternativePosition returns the position prepared for altID.
	AlternativePosition(altID string) (Destination, bool)
	// PrepareAlternative warms any per-alternative assets and assigns the
	// alternative a position.
	PrepareAlternative(ctx context.Context, alt models.Alternative) error
}
