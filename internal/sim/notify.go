package sim

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awmpietro/reaction-sim/internal/scenario"
)

type Event string

const (
	EventStarted  Event = "simulation-started"
	EventStopped  Event = "simulation-stopped"
	EventFinished Event = "simulation-finished"
)

type Notification struct {
	ScenarioID string    `json:"scenario_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier receives lifecycle notifications. Calls come from the goroutine
// that caused the transition; implementations must not block for long.
type Notifier interface {
	Notify(event Event, payload Notification)
}

type NotifierFunc func(event Event, payload Notification)

func (f NotifierFunc) Notify(event Event, payload Notification) { f(event, payload) }

// Transition describes one node status change observed during traversal.
// Anomalies arrive with From and To both pending and Entry.Status anomaly.
type Transition struct {
	NodeID string         `json:"node_id"`
	Layer  scenario.Layer `json:"layer,omitempty"`
	From   Status         `json:"from"`
	To     Status         `json:"to"`
	At     time.Time      `json:"at"`
	Entry  LogEntry       `json:"entry"`
}

type TransitionObserver interface {
	ObserveTransition(t Transition)
}

type TransitionFunc func(t Transition)

func (f TransitionFunc) ObserveTransition(t Transition) { f(t) }

type SlogNotifier struct {
	logger *slog.Logger
}

func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger}
}

func (n *SlogNotifier) Notify(event Event, payload Notification) {
	if n == nil || n.logger == nil {
		return
	}
	n.logger.LogAttrs(context.Background(), slog.LevelInfo, string(event),
		slog.String("scenario_id", payload.ScenarioID),
		slog.Time("at", payload.Timestamp),
	)
}

// AsyncNotifier hands notifications to next on a background goroutine.
// When the buffer is full the notification is dropped and counted.
type AsyncNotifier struct {
	next    Notifier
	events  chan notification
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type notification struct {
	event   Event
	payload Notification
}

func NewAsyncNotifier(next Notifier, buffer int) *AsyncNotifier {
	if buffer <= 0 {
		buffer = 1
	}

	n := &AsyncNotifier{
		next:   next,
		events: make(chan notification, buffer),
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for ev := range n.events {
			if n.next == nil {
				continue
			}
			n.next.Notify(ev.event, ev.payload)
		}
	}()

	return n
}

func (n *AsyncNotifier) Notify(event Event, payload Notification) {
	if n == nil {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.dropped.Add(1)
		return
	}
	select {
	case n.events <- notification{event: event, payload: payload}:
	default:
		n.dropped.Add(1)
	}
}

func (n *AsyncNotifier) Dropped() uint64 {
	if n == nil {
		return 0
	}
	return n.dropped.Load()
}

// Close drains pending notifications and stops the worker.
func (n *AsyncNotifier) Close() {
	if n == nil {
		return
	}
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.events)
		n.mu.Unlock()
		n.wg.Wait()
	})
}

// multiNotifier fans one notification out to several notifiers in order.
type multiNotifier []Notifier

func (m multiNotifier) Notify(event Event, payload Notification) {
	for _, n := range m {
		n.Notify(event, payload)
	}
}

type multiObserver []TransitionObserver

func (m multiObserver) ObserveTransition(t Transition) {
	for _, o := range m {
		o.ObserveTransition(t)
	}
}
