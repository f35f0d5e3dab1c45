package server

import (
	"testing"

	"github.com/ShayCichocki/choicesim/internal/simulation"
)

func TestHub_RetainsLatestState(t *testing.T) {
	hub := NewHub()
	hub.Publish(simulation.Event{Type: simulation.EventProgress})
	hub.Publish(simulation.Event{Type: simulation.EventAgentUpdate})

	ch, cancel := hub.Subscribe(4)
	defer cancel()

	ev := <-ch
	if ev.Type != simulation.EventProgress {
		t.Errorf("retained event type = %s, want progress", ev.Type)
	}
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe(1)
	defer cancel()

	for i := 0; i < 5; i++ {
		hub.Publish(simulation.Event{Type: simulation.EventAgentUpdate})
	}
	if hub.DroppedCount() != 4 {
		t.Errorf("DroppedCount() = %d, want 4", hub.DroppedCount())
	}
}

func TestHub_PumpClosesSubscribers(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(8)
	defer cancel()

	events := make(chan simulation.Event, 2)
	events <- simulation.Event{Type: simulation.EventProgress}
	events <- simulation.Event{Type: simulation.EventComplete}
	close(events)

	hub.Pump(events)

	var got []simulation.EventType
	for ev := range ch {
		got = append(got, ev.Type)
	}
	if len(got) != 2 || got[1] != simulation.EventComplete {
		t.Errorf("got %v, want [progress complete]", got)
	}

	// Subscribing after close yields the retained event and a closed channel.
	late, lateCancel := hub.Subscribe(1)
	defer lateCancel()
	ev, ok := <-late
	if !ok || ev.Type != simulation.EventComplete {
		t.Errorf("late subscriber got %v, %v", ev.Type, ok)
	}
	if _, ok := <-late; ok {
		t.Error("late channel should be closed")
	}
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe(1)
	cancel()
	cancel()
	if hub.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", hub.Subscribers())
	}
	hub.Close()
}
