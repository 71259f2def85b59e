package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/sim"
)

// Runs keeps interactive simulations addressable by id. Every run owns its
// engine; nothing mutable is shared between runs.
type Runs struct {
	svc   *Service
	max   int
	now   func() time.Time
	mu    sync.Mutex
	runs  map[string]*managedRun
	order []string
}

type managedRun struct {
	id       string
	info     ScenarioInfo
	scenario *scenario.ReactionScenario
	engine   *sim.Engine
	events   *Broadcaster
	created  time.Time
}

func NewRuns(svc *Service, max int) *Runs {
	if max <= 0 {
		max = 1
	}
	return &Runs{
		svc:  svc,
		max:  max,
		now:  time.Now,
		runs: map[string]*managedRun{},
	}
}

func (r *Runs) Start(in SimulateInput) (*RunView, error) {
	sc, info, err := r.svc.load(in.Format, in.Source)
	if err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	events := NewBroadcaster(id)
	e, err := r.svc.newEngine(in.Options,
		sim.WithNotifier(events),
		sim.WithTransitionObserver(events),
	)
	if err != nil {
		return nil, err
	}
	if err := e.LoadScenario(sc); err != nil {
		return nil, err
	}

	run := &managedRun{id: id, info: *info, scenario: sc, engine: e, events: events, created: r.now()}
	if err := r.register(run); err != nil {
		return nil, err
	}
	if err := e.Start(context.Background()); err != nil {
		return nil, err
	}
	r.svc.logger.Info("run started", "run", id, "scenario", info.ID)
	return run.view(), nil
}

// register evicts the oldest run that is not running when the registry is full.
func (r *Runs) register(run *managedRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.order) >= r.max {
		victim := -1
		for i, id := range r.order {
			if r.runs[id].engine.Lifecycle() != sim.Running {
				victim = i
				break
			}
		}
		if victim == -1 {
			return fmt.Errorf("%w (max %d)", ErrTooManyRuns, r.max)
		}
		old := r.runs[r.order[victim]]
		old.engine.Reset()
		old.events.Close()
		delete(r.runs, old.id)
		r.order = append(r.order[:victim], r.order[victim+1:]...)
	}
	r.runs[run.id] = run
	r.order = append(r.order, run.id)
	return nil
}

func (r *Runs) lookup(id string) (*managedRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

func (r *Runs) Get(id string) (*RunView, error) {
	run, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return run.view(), nil
}

func (r *Runs) Logs(id string) ([]sim.LogEntry, error) {
	run, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return run.engine.Logs(), nil
}

func (r *Runs) Metrics(id string) (*sim.ReactionMetrics, error) {
	run, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	m := run.engine.Metrics()
	return &m, nil
}

func (r *Runs) Stop(id string) (*RunView, error) {
	run, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := run.engine.Stop(); err != nil {
		return nil, err
	}
	return run.view(), nil
}

func (r *Runs) Reset(id string) (*RunView, error) {
	run, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	run.engine.Reset()
	run.events.Reset()
	return run.view(), nil
}

// Restart starts the run's scenario again from a clean state.
func (r *Runs) Restart(id string) (*RunView, error) {
	run, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := run.engine.Start(context.Background()); err != nil {
		return nil, err
	}
	return run.view(), nil
}

func (r *Runs) SetSpeed(id string, multiplier float64) (*RunView, error) {
	run, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := run.engine.SetSpeed(multiplier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return run.view(), nil
}

func (r *Runs) Subscribe(id string) (<-chan StreamEvent, <-chan struct{}, func(), error) {
	run, err := r.lookup(id)
	if err != nil {
		return nil, nil, nil, err
	}
	events, done, unsub := run.events.Subscribe()
	return events, done, unsub, nil
}

// Wait blocks until the run's current traversal ends.
func (r *Runs) Wait(ctx context.Context, id string) error {
	run, err := r.lookup(id)
	if err != nil {
		return err
	}
	return run.engine.Wait(ctx)
}

// Close resets every run and ends all subscriptions.
func (r *Runs) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		run := r.runs[id]
		run.engine.Reset()
		run.events.Close()
	}
	clear(r.runs)
	r.order = nil
}

func (m *managedRun) view() *RunView {
	return &RunView{
		ID:        m.id,
		Scenario:  m.info,
		Lifecycle: m.engine.Lifecycle(),
		Speed:     m.engine.Speed(),
		CreatedAt: m.created,
		State:     m.engine.State(),
		Statuses:  statuses(m.engine, m.scenario),
	}
}
