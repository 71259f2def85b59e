package sim

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awmpietro/reaction-sim/internal/scenario"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock instead of waiting.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// gatedSleeper blocks every sleep until release is closed or ctx is done.
type gatedSleeper struct {
	entered chan time.Duration
	release chan struct{}
}

func newGatedSleeper() *gatedSleeper {
	return &gatedSleeper{entered: make(chan time.Duration, 64), release: make(chan struct{})}
}

func (g *gatedSleeper) Sleep(ctx context.Context, d time.Duration) error {
	g.entered <- d
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedSleeper) awaitNode(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no node started waiting")
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	ids    []string
}

func (r *recordingNotifier) Notify(event Event, payload Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.ids = append(r.ids, payload.ScenarioID)
}

func (r *recordingNotifier) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recordingObserver) ObserveTransition(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions)
}

func (r *recordingObserver) indexOf(nodeID string, to Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.transitions {
		if t.NodeID == nodeID && t.To == to {
			return i
		}
	}
	return -1
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("log-%d", n)
	}
}

func newTestEngine(opts ...Option) (*Engine, *fakeClock) {
	clock := newFakeClock()
	base := []Option{
		WithSleeper(clock),
		WithClock(clock.Now),
		WithIDGenerator(sequentialIDs()),
	}
	return New(append(base, opts...)...), clock
}

func testNode(id string, layer scenario.Layer, parent string, children ...string) *scenario.DecisionNode {
	return &scenario.DecisionNode{
		ID:         id,
		Layer:      layer,
		Kind:       scenario.KindAction,
		Title:      "Step " + id,
		ParentID:   parent,
		Children:   children,
		DurationMS: 1000,
	}
}

// scenarioABC is A(crew) -> B(system) -> C(ai).
func scenarioABC() *scenario.ReactionScenario {
	return &scenario.ReactionScenario{
		ID:   "abc",
		Name: "three layer chain",
		Nodes: []*scenario.DecisionNode{
			testNode("A", scenario.LayerCrew, "", "B"),
			testNode("B", scenario.LayerSystem, "A", "C"),
			testNode("C", scenario.LayerAI, "B"),
		},
	}
}

// forest has two roots and enough depth to exercise pruning.
func forest() *scenario.ReactionScenario {
	nodes := []*scenario.DecisionNode{
		testNode("r1", scenario.LayerCrew, "", "a", "b"),
		testNode("a", scenario.LayerSystem, "r1", "a1", "a2"),
		testNode("a1", scenario.LayerAI, "a", "a11"),
		testNode("a11", scenario.LayerCrew, "a1"),
		testNode("a2", scenario.LayerSystem, "a"),
		testNode("b", scenario.LayerAI, "r1"),
		testNode("r2", scenario.LayerSystem, "", "c"),
		testNode("c", scenario.LayerCrew, "r2", "c1"),
		testNode("c1", scenario.LayerAI, "c"),
	}
	nodes[1].Metadata.Automated = true
	nodes[4].Metadata.Automated = true
	nodes[5].Metadata.Automated = true
	nodes[8].Metadata.Automated = true
	return &scenario.ReactionScenario{ID: "forest", Nodes: nodes}
}

func runToEnd(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))
}

func seed(v uint64) *uint64 { return &v }
