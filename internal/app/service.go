package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/sim"
)

type Decoder interface {
	Decode(format scenario.Format, data []byte) (*scenario.ReactionScenario, error)
}

type DecoderFunc func(format scenario.Format, data []byte) (*scenario.ReactionScenario, error)

func (f DecoderFunc) Decode(format scenario.Format, data []byte) (*scenario.ReactionScenario, error) {
	return f(format, data)
}

type Cache interface {
	GetOrCompute(key string, fn func() (*scenario.ReactionScenario, error)) (*scenario.ReactionScenario, error)
}

type Service struct {
	decoder    Decoder
	cache      Cache
	defaults   sim.RunConfig
	timeout    time.Duration
	logger     *slog.Logger
	engineOpts []sim.Option
}

type ServiceOption func(*Service)

func WithDefaults(cfg sim.RunConfig) ServiceOption {
	return func(s *Service) { s.defaults = cfg }
}

// WithRunTimeout bounds synchronous simulations.
func WithRunTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEngineOptions adds options to every engine the service creates.
func WithEngineOptions(opts ...sim.Option) ServiceOption {
	return func(s *Service) { s.engineOpts = append(s.engineOpts, opts...) }
}

func NewService(decoder Decoder, cache Cache, opts ...ServiceOption) *Service {
	s := &Service{
		decoder:  decoder,
		cache:    cache,
		defaults: sim.DefaultRunConfig(),
		timeout:  time.Minute,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Validate(format scenario.Format, source string) (*ScenarioInfo, error) {
	_, info, err := s.load(format, source)
	return info, err
}

// Simulate runs a fresh engine to completion, or until the run timeout.
func (s *Service) Simulate(ctx context.Context, in SimulateInput) (*SimulationResult, error) {
	sc, info, err := s.load(in.Format, in.Source)
	if err != nil {
		return nil, err
	}
	e, err := s.newEngine(in.Options)
	if err != nil {
		return nil, err
	}
	if err := e.LoadScenario(sc); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := e.Run(runCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	// cancellation makes the traversal exit at its current timer
	_ = e.Wait(context.Background())
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && e.Lifecycle() == sim.Stopped

	s.logger.Info("simulation finished",
		"scenario", info.ID,
		"lifecycle", e.Lifecycle(),
		"timed_out", timedOut,
	)

	return &SimulationResult{
		Scenario:  *info,
		Lifecycle: e.Lifecycle(),
		TimedOut:  timedOut,
		State:     e.State(),
		Statuses:  statuses(e, sc),
		Logs:      e.Logs(),
		Metrics:   e.Metrics(),
	}, nil
}

func (s *Service) load(format scenario.Format, source string) (*scenario.ReactionScenario, *ScenarioInfo, error) {
	data := []byte(source)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, fmt.Errorf("%w: scenario source is required", ErrInvalidInput)
	}
	if format == "" {
		format = DetectFormat(data)
	}
	format, err := scenario.ParseFormat(string(format))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hash := scenario.Hash(format, data)
	sc, err := s.cache.GetOrCompute(hash, func() (*scenario.ReactionScenario, error) {
		return s.decoder.Decode(format, data)
	})
	if err != nil {
		return nil, nil, err
	}

	info := &ScenarioInfo{
		ID:     sc.ID,
		Name:   sc.Name,
		Format: format,
		Hash:   hash,
		Nodes:  len(sc.Nodes),
		Roots:  []string{},
		Paths:  len(sc.Paths),
	}
	for _, r := range sc.Roots() {
		info.Roots = append(info.Roots, r.ID)
	}
	return sc, info, nil
}

func (s *Service) runConfig(o RunOptions) (sim.RunConfig, error) {
	cfg := s.defaults
	if o.SuccessProbability != nil {
		cfg.SuccessProbability = *o.SuccessProbability
	}
	if o.MinDuration > 0 {
		cfg.DurationRange.Min = o.MinDuration
	}
	if o.MaxDuration > 0 {
		cfg.DurationRange.Max = o.MaxDuration
	}
	if o.Speed != 0 {
		cfg.SpeedMultiplier = o.Speed
	}
	if o.Seed != nil {
		cfg.Seed = o.Seed
	}
	if err := cfg.Validate(); err != nil {
		return sim.RunConfig{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return cfg, nil
}

func (s *Service) outcomePolicy(cfg sim.RunConfig, o RunOptions) (sim.OutcomePolicy, error) {
	var base sim.OutcomePolicy
	if len(o.FailNodes) > 0 {
		base = sim.FailNodes(o.FailNodes...)
	}
	if len(o.Rules) == 0 {
		return base, nil
	}
	if base == nil {
		base = sim.NewProbabilistic(cfg.SuccessProbability, cfg.Seed)
	}
	p, err := sim.NewRulePolicy(o.Rules, base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return p, nil
}

func (s *Service) newEngine(o RunOptions, extra ...sim.Option) (*sim.Engine, error) {
	cfg, err := s.runConfig(o)
	if err != nil {
		return nil, err
	}
	policy, err := s.outcomePolicy(cfg, o)
	if err != nil {
		return nil, err
	}

	opts := append([]sim.Option{}, s.engineOpts...)
	opts = append(opts, sim.WithConfig(cfg), sim.WithLogger(s.logger))
	if policy != nil {
		opts = append(opts, sim.WithOutcomePolicy(policy))
	}
	if o.Instant {
		opts = append(opts, sim.WithSleeper(sim.InstantSleeper{}))
	}
	opts = append(opts, extra...)
	return sim.New(opts...), nil
}

// DetectFormat guesses the authoring format from the first bytes.
func DetectFormat(data []byte) scenario.Format {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.HasPrefix(trimmed, []byte("{")):
		return scenario.FormatJSON
	case bytes.HasPrefix(trimmed, []byte("digraph")),
		bytes.HasPrefix(trimmed, []byte("strict")),
		bytes.HasPrefix(trimmed, []byte("graph")):
		return scenario.FormatDOT
	default:
		return scenario.FormatYAML
	}
}

func statuses(e *sim.Engine, sc *scenario.ReactionScenario) map[string]sim.Status {
	out := make(map[string]sim.Status, len(sc.Nodes))
	for _, n := range sc.Nodes {
		out[n.ID] = e.NodeStatus(n.ID)
	}
	return out
}
