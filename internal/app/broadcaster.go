package app

import (
	"sync"
	"time"

	"github.com/awmpietro/reaction-sim/internal/sim"
)

type StreamEventType string

const (
	StreamLifecycle  StreamEventType = "lifecycle"
	StreamTransition StreamEventType = "transition"
	StreamReset      StreamEventType = "reset"
)

type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	RunID      string          `json:"run_id"`
	Event      sim.Event       `json:"event,omitempty"`
	ScenarioID string          `json:"scenario_id,omitempty"`
	Transition *sim.Transition `json:"transition,omitempty"`
	At         time.Time       `json:"at"`
}

// Broadcaster fans out one run's events to any number of subscribers.
// It is the run engine's notifier and transition observer. New subscribers
// get a replay of the current traversal before live events.
type Broadcaster struct {
	runID   string
	now     func() time.Time
	mu      sync.Mutex
	history []StreamEvent
	clients map[uint64]chan StreamEvent
	nextID  uint64
	closed  bool
	doneCh  chan struct{} // closed only by Close, not by slow-client drops
}

func NewBroadcaster(runID string) *Broadcaster {
	return &Broadcaster{
		runID:   runID,
		now:     time.Now,
		clients: make(map[uint64]chan StreamEvent),
		doneCh:  make(chan struct{}),
	}
}

func (b *Broadcaster) Notify(event sim.Event, payload sim.Notification) {
	b.send(StreamEvent{
		Type:       StreamLifecycle,
		Event:      event,
		ScenarioID: payload.ScenarioID,
		At:         payload.Timestamp,
	}, event == sim.EventStarted)
}

func (b *Broadcaster) ObserveTransition(t sim.Transition) {
	b.send(StreamEvent{Type: StreamTransition, Transition: &t, At: t.At}, false)
}

// Reset announces that the run's state was cleared.
func (b *Broadcaster) Reset() {
	b.send(StreamEvent{Type: StreamReset, At: b.now()}, true)
}

func (b *Broadcaster) send(ev StreamEvent, restart bool) {
	ev.RunID = b.runID
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if restart {
		b.history = b.history[:0:0]
	}
	b.history = append(b.history, ev)
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			// slow client: drop it rather than block the engine
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns an events channel, a done channel closed by Close, and
// an unsubscribe function.
func (b *Broadcaster) Subscribe() (<-chan StreamEvent, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan StreamEvent, len(b.history)+256)
	id := b.nextID
	b.nextID++

	for _, ev := range b.history {
		ch <- ev
	}

	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

func (b *Broadcaster) History() []StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StreamEvent, len(b.history))
	copy(out, b.history)
	return out
}
