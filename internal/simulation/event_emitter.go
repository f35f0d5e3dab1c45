package simulation

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// EventEmitter fans simulation events out on a buffered channel. Nothing is
// queued until Events has been called, so a run whose caller only uses an
// Observer never waits on the channel. Slow subscribers lose events rather
// than stalling the run.
type EventEmitter struct {
	mu           sync.RWMutex
	closed       bool
	subscribed   atomic.Bool
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
// Emit before the first Events call or after Close is a no-op.
func (e *EventEmitter) Emit(event Event) {
	if !e.subscribed.Load() {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[simulation] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events and starts delivery. Events
// emitted before the first call are not replayed.
func (e *EventEmitter) Events() <-chan Event {
	e.subscribed.Store(true)
	return e.events
}

// Close closes the events channel. It is safe to call more than once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
