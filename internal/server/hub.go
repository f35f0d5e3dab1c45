package server

import (
	"sync"
	"sync/atomic"

	"github.com/ShayCichocki/choicesim/internal/simulation"
)

// Hub fans simulation events out to websocket subscribers. A subscriber
// that falls behind loses events; publishing never blocks.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan simulation.Event]struct{}
	last   *simulation.Event
	closed bool

	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan simulation.Event]struct{})}
}

// Publish delivers ev to every subscriber. Progress and completion events
// are retained so late subscribers start from the current state.
func (h *Hub) Publish(ev simulation.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if ev.Type != simulation.EventAgentUpdate {
		h.last = &ev
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned channel is closed when the
// hub closes or cancel is called.
func (h *Hub) Subscribe(buffer int) (<-chan simulation.Event, func()) {
	ch := make(chan simulation.Event, max(buffer, 1))

	h.mu.Lock()
	if h.last != nil {
		ch <- *h.last
	}
	if h.closed {
		close(ch)
		h.mu.Unlock()
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Pump publishes every event from events until the channel closes, then
// closes the hub.
func (h *Hub) Pump(events <-chan simulation.Event) {
	for ev := range events {
		h.Publish(ev)
	}
	h.Close()
}

// Close closes all subscriber channels. Later subscribers receive only the
// retained event.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// DroppedCount returns how many deliveries were skipped for slow subscribers.
func (h *Hub) DroppedCount() uint64 {
	return h.dropped.Load()
}
