// Package sim executes reaction scenarios: a depth-first, single-chain walk
// over a validated forest of decision nodes with simulated timing and
// pluggable outcomes.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/awmpietro/reaction-sim/internal/scenario"
)

const tracerName = "github.com/awmpietro/reaction-sim/internal/sim"

type Engine struct {
	cfg      RunConfig
	policy   OutcomePolicy
	sleeper  Sleeper
	notifier Notifier
	observer TransitionObserver
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string

	// emit is taken before mu. It orders notifier and observer calls with
	// lifecycle changes, so observers must not call Start, Stop, Reset or
	// LoadScenario.
	emit sync.Mutex

	mu        sync.Mutex
	scenario  *scenario.ReactionScenario
	index     map[string]*scenario.DecisionNode
	lifecycle Lifecycle
	state     *StateTracker
	log       *EventLog
	speed     float64
	cur       *run
}

// run is one traversal. A run stops mattering the moment it is no longer
// e.cur; every mutation checks that under e.mu.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	span    trace.Span
	policy  OutcomePolicy
	index   map[string]*scenario.DecisionNode
	stopped bool

	// traversal goroutine only
	rng     *rand.Rand
	visited map[string]bool
}

type Option func(*Engine)

func WithConfig(cfg RunConfig) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithOutcomePolicy replaces the probabilistic default.
func WithOutcomePolicy(p OutcomePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		if s != nil {
			e.sleeper = s
		}
	}
}

// WithNotifier may be passed more than once; notifiers are called in order.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n == nil {
			return
		}
		if e.notifier == nil {
			e.notifier = n
			return
		}
		e.notifier = multiNotifier{e.notifier, n}
	}
}

func WithTransitionObserver(o TransitionObserver) Option {
	return func(e *Engine) {
		if o == nil {
			return
		}
		if e.observer == nil {
			e.observer = o
			return
		}
		e.observer = multiObserver{e.observer, o}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the log entry id source (uuid v4 by default).
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) {
		if f != nil {
			e.newID = f
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:       DefaultRunConfig(),
		sleeper:   TimerSleeper{},
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		newID:     uuid.NewString,
		lifecycle: Idle,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.speed = e.cfg.SpeedMultiplier
	if validSpeed(e.speed) != nil {
		e.speed = 1
	}
	e.state = NewStateTracker()
	e.log = NewEventLog(e.newID)
	return e
}

// LoadScenario validates s and makes it the engine's scenario. A rejected
// scenario also unloads the previous one.
func (e *Engine) LoadScenario(s *scenario.ReactionScenario) error {
	if s == nil {
		return fmt.Errorf("scenario is nil")
	}
	e.mu.Lock()
	if e.lifecycle == Running {
		lc := e.lifecycle
		e.mu.Unlock()
		return newStateError(AlreadyRunning, "load scenario", lc)
	}
	e.mu.Unlock()

	if err := scenario.Validate(s); err != nil {
		e.emit.Lock()
		e.mu.Lock()
		if e.lifecycle != Running {
			e.abandonLocked()
			e.scenario, e.index = nil, nil
			e.clearLocked()
		}
		e.mu.Unlock()
		e.emit.Unlock()
		return err
	}
	return e.install(s)
}

func (e *Engine) install(s *scenario.ReactionScenario) error {
	e.emit.Lock()
	defer e.emit.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lifecycle == Running {
		return newStateError(AlreadyRunning, "load scenario", e.lifecycle)
	}
	e.abandonLocked()
	e.scenario = s
	e.index = s.Index()
	e.clearLocked()
	return nil
}

func (e *Engine) Scenario() *scenario.ReactionScenario {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scenario
}

// Start clears the previous run and begins a traversal on a new goroutine.
// ctx bounds the whole traversal; cancelling it stops the run.
// simulation-started is delivered before Start returns and before any other
// notification of the run.
func (e *Engine) Start(ctx context.Context) error {
	e.emit.Lock()
	defer e.emit.Unlock()
	e.mu.Lock()
	if e.scenario == nil {
		lc := e.lifecycle
		e.mu.Unlock()
		return newStateError(NoScenarioLoaded, "start", lc)
	}
	if e.lifecycle == Running {
		e.mu.Unlock()
		return newStateError(AlreadyRunning, "start", Running)
	}

	e.abandonLocked()
	e.clearLocked()
	s := e.scenario

	runCtx, span := e.tracer.Start(ctx, "sim.run", trace.WithAttributes(
		attribute.String("scenario.id", s.ID),
		attribute.Int("scenario.nodes", len(s.Nodes)),
		attribute.Float64("run.speed", e.speed),
	))
	runCtx, cancel := context.WithCancel(runCtx)

	r := &run{
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		span:    span,
		policy:  e.policy,
		index:   e.index,
		rng:     durationRand(e.cfg.Seed),
		visited: map[string]bool{},
	}
	if r.policy == nil {
		r.policy = NewProbabilistic(e.cfg.SuccessProbability, e.cfg.Seed)
	}
	e.cur = r
	e.lifecycle = Running
	at := e.now()
	e.mu.Unlock()

	e.notify(EventStarted, s.ID, at)
	go e.traverse(r, s)
	return nil
}

// Stop prevents further nodes from starting. A node already waiting finishes
// and records its outcome.
func (e *Engine) Stop() error {
	e.emit.Lock()
	defer e.emit.Unlock()
	e.mu.Lock()
	if e.scenario == nil {
		lc := e.lifecycle
		e.mu.Unlock()
		return newStateError(NoScenarioLoaded, "stop", lc)
	}
	if e.lifecycle != Running || e.cur == nil {
		lc := e.lifecycle
		e.mu.Unlock()
		return newStateError(NotRunning, "stop", lc)
	}
	e.cur.stopped = true
	e.lifecycle = Stopped
	id := e.scenario.ID
	at := e.now()
	e.mu.Unlock()

	e.notify(EventStopped, id, at)
	return nil
}

// Reset abandons any traversal, cancelling its in-flight timer, and clears
// state and logs. The loaded scenario is kept.
// No transition of the abandoned run is delivered after Reset returns.
func (e *Engine) Reset() {
	e.emit.Lock()
	defer e.emit.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.abandonLocked()
	e.clearLocked()
}

// Wait blocks until the current traversal goroutine exits.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil {
		return closedChan
	}
	return e.cur.done
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Run starts a traversal and waits for it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	return e.Wait(ctx)
}

func (e *Engine) State() StateSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot()
}

// NodeStatus derives a node's status. A node that never started is bypassed
// when an ancestor failed or the run is over, and pending otherwise.
func (e *Engine) NodeStatus(id string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state.Status(id)
	if st != StatusPending {
		return st
	}
	n := e.index[id]
	if n == nil {
		return StatusPending
	}
	p := n.ParentID
	for i := 0; p != "" && i < len(e.index); i++ {
		if e.state.Status(p) == StatusFailed {
			return StatusBypassed
		}
		pn := e.index[p]
		if pn == nil {
			break
		}
		p = pn.ParentID
	}
	if e.lifecycle == Stopped || e.lifecycle == Finished {
		return StatusBypassed
	}
	return StatusPending
}

func (e *Engine) Logs() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Entries()
}

// Metrics is safe to call mid-run.
func (e *Engine) Metrics() ReactionMetrics {
	e.mu.Lock()
	s := e.scenario
	snap := e.state.Snapshot()
	logs := e.log.Entries()
	e.mu.Unlock()
	return Aggregate(s, snap, logs)
}

// SetSpeed changes playback speed for nodes that start after the call.
func (e *Engine) SetSpeed(multiplier float64) error {
	if err := validSpeed(multiplier); err != nil {
		return err
	}
	e.mu.Lock()
	e.speed = multiplier
	e.mu.Unlock()
	return nil
}

func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

func (e *Engine) Lifecycle() Lifecycle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lifecycle
}

func (e *Engine) abandonLocked() {
	if e.cur == nil {
		return
	}
	e.cur.cancel()
	e.cur = nil
}

func (e *Engine) clearLocked() {
	e.state.Clear()
	e.log.Clear()
	e.lifecycle = Idle
}

func (e *Engine) traverse(r *run, s *scenario.ReactionScenario) {
	defer close(r.done)
	defer r.cancel()

	for _, root := range s.Roots() {
		if !e.proceed(r) {
			break
		}
		e.execute(r, root.ID, nil)
	}
	e.finish(r, s.ID)
}

func (e *Engine) execute(r *run, id string, parent *scenario.DecisionNode) {
	node := r.index[id]
	if node == nil {
		var layer scenario.Layer
		from := ""
		if parent != nil {
			layer, from = parent.Layer, parent.ID
		}
		e.anomaly(r, id, layer, fmt.Sprintf("child %q of %q does not resolve", id, from))
		return
	}
	if r.visited[id] {
		e.anomaly(r, id, node.Layer, fmt.Sprintf("node %q reached more than once", id))
		return
	}
	r.visited[id] = true

	d := e.durationFor(r, node)
	entry, wait, ok := e.begin(r, node, d)
	if !ok {
		return
	}
	e.observe(r, Transition{NodeID: id, Layer: node.Layer, From: StatusPending, To: StatusActive, At: entry.Timestamp, Entry: entry})

	_, span := e.tracer.Start(r.ctx, "sim.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.layer", string(node.Layer)),
		attribute.String("node.kind", string(node.Kind)),
		attribute.Int64("node.duration_ms", d.Milliseconds()),
	))
	started := e.now()
	if err := e.sleeper.Sleep(r.ctx, wait); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "interrupted")
		span.End()
		return
	}

	succeeded := r.policy.Decide(node)
	entry, at, ok := e.complete(r, node, succeeded, started)
	span.SetAttributes(attribute.String("node.outcome", string(entry.Status)))
	span.End()
	if !ok {
		return
	}
	to := StatusCompleted
	if !succeeded {
		to = StatusFailed
	}
	e.observe(r, Transition{NodeID: id, Layer: node.Layer, From: StatusActive, To: to, At: at, Entry: entry})

	if !succeeded {
		return
	}
	for _, child := range node.Children {
		if !e.proceed(r) {
			return
		}
		e.execute(r, child, node)
	}
}

func (e *Engine) proceed(r *run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur == r && !r.stopped && r.ctx.Err() == nil
}

func (e *Engine) begin(r *run, node *scenario.DecisionNode, d time.Duration) (LogEntry, time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur != r || r.stopped || r.ctx.Err() != nil {
		return LogEntry{}, 0, false
	}
	if err := e.state.Activate(node.ID, d); err != nil {
		e.logger.Warn("node activation rejected", "node", node.ID, "err", err)
		return LogEntry{}, 0, false
	}
	entry := e.log.Begin(node, e.now())
	e.logger.Debug("node active", "scenario", e.scenario.ID, "node", node.ID, "layer", node.Layer, "duration", d)
	return entry, scale(d, e.speed), true
}

func (e *Engine) complete(r *run, node *scenario.DecisionNode, succeeded bool, started time.Time) (LogEntry, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur != r {
		return LogEntry{}, time.Time{}, false
	}
	if err := e.state.Finish(node.ID, succeeded); err != nil {
		e.logger.Warn("node completion rejected", "node", node.ID, "err", err)
		return LogEntry{}, time.Time{}, false
	}
	at := e.now()
	elapsed := at.Sub(started)
	status := LogCompleted
	if !succeeded {
		status = LogFailed
	}
	entry, ok := e.log.Complete(node.ID, status, elapsed)
	e.logger.Debug("node finished", "scenario", e.scenario.ID, "node", node.ID, "status", status, "elapsed", elapsed)
	return entry, at, ok
}

func (e *Engine) anomaly(r *run, id string, layer scenario.Layer, reason string) {
	e.mu.Lock()
	if e.cur != r || r.stopped || r.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	entry := e.log.Anomaly(id, layer, reason, e.now())
	e.mu.Unlock()

	r.span.AddEvent("anomaly", trace.WithAttributes(
		attribute.String("node.id", id),
		attribute.String("reason", reason),
	))
	e.logger.Warn("traversal anomaly", "node", id, "reason", reason)
	e.observe(r, Transition{NodeID: id, Layer: layer, From: StatusPending, To: StatusPending, At: entry.Timestamp, Entry: entry})
}

func (e *Engine) finish(r *run, scenarioID string) {
	e.emit.Lock()
	defer e.emit.Unlock()
	e.mu.Lock()
	if e.cur != r {
		e.mu.Unlock()
		r.span.SetStatus(codes.Error, "abandoned")
		r.span.End()
		return
	}
	var ev Event
	switch {
	case e.lifecycle != Running:
	case r.ctx.Err() != nil:
		r.stopped = true
		e.lifecycle = Stopped
		ev = EventStopped
	default:
		e.lifecycle = Finished
		ev = EventFinished
	}
	snap := e.state.Snapshot()
	lc := e.lifecycle
	at := e.now()
	e.mu.Unlock()

	r.span.SetAttributes(
		attribute.String("run.lifecycle", string(lc)),
		attribute.Int("run.completed", len(snap.Completed)),
		attribute.Int("run.failed", len(snap.Failed)),
	)
	r.span.End()
	if ev != "" {
		e.notify(ev, scenarioID, at)
	}
}

func (e *Engine) durationFor(r *run, node *scenario.DecisionNode) time.Duration {
	if d, ok := node.Duration(); ok {
		return d
	}
	lo, hi := e.cfg.DurationRange.Min.Milliseconds(), e.cfg.DurationRange.Max.Milliseconds()
	if hi <= lo {
		return time.Duration(max(lo, 0)) * time.Millisecond
	}
	return time.Duration(lo+r.rng.Int64N(hi-lo+1)) * time.Millisecond
}

func durationRand(seed *uint64) *rand.Rand {
	if seed == nil {
		return newRand(nil)
	}
	s := *seed + 1
	return newRand(&s)
}

func (e *Engine) notify(ev Event, scenarioID string, at time.Time) {
	e.logger.Debug("lifecycle", "event", ev, "scenario", scenarioID)
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ev, Notification{ScenarioID: scenarioID, Timestamp: at})
}

// observe delivers t only while r is still the engine's run.
func (e *Engine) observe(r *run, t Transition) {
	if e.observer == nil {
		return
	}
	e.emit.Lock()
	defer e.emit.Unlock()
	e.mu.Lock()
	current := e.cur == r
	e.mu.Unlock()
	if !current {
		return
	}
	e.observer.ObserveTransition(t)
}
