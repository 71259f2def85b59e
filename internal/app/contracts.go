package app

import (
	"context"
	"errors"
	"time"

	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/sim"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrRunNotFound  = errors.New("run not found")
	ErrTooManyRuns  = errors.New("too many active runs")
)

// SimulationService is what the request/response transports need.
type SimulationService interface {
	Validate(format scenario.Format, source string) (*ScenarioInfo, error)
	Simulate(ctx context.Context, in SimulateInput) (*SimulationResult, error)
}

// RunService manages long-lived runs controlled over several requests.
type RunService interface {
	Start(in SimulateInput) (*RunView, error)
	Get(id string) (*RunView, error)
	Logs(id string) ([]sim.LogEntry, error)
	Metrics(id string) (*sim.ReactionMetrics, error)
	Stop(id string) (*RunView, error)
	Reset(id string) (*RunView, error)
	Restart(id string) (*RunView, error)
	SetSpeed(id string, multiplier float64) (*RunView, error)
	Subscribe(id string) (<-chan StreamEvent, <-chan struct{}, func(), error)
}

type ScenarioInfo struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Format scenario.Format `json:"format"`
	Hash   string          `json:"hash"`
	Nodes  int             `json:"nodes"`
	Roots  []string        `json:"roots"`
	Paths  int             `json:"paths"`
}

// RunOptions override the service defaults for one run.
type RunOptions struct {
	SuccessProbability *float64
	MinDuration        time.Duration
	MaxDuration        time.Duration
	Speed              float64
	Seed               *uint64
	FailNodes          []string
	Rules              []sim.Rule
	// Instant skips real waiting; durations are still assigned and reported.
	Instant bool
}

type SimulateInput struct {
	Format  scenario.Format
	Source  string
	Options RunOptions
}

type SimulationResult struct {
	Scenario  ScenarioInfo          `json:"scenario"`
	Lifecycle sim.Lifecycle         `json:"lifecycle"`
	TimedOut  bool                  `json:"timed_out,omitempty"`
	State     sim.StateSnapshot     `json:"state"`
	Statuses  map[string]sim.Status `json:"statuses"`
	Logs      []sim.LogEntry        `json:"logs"`
	Metrics   sim.ReactionMetrics   `json:"metrics"`
}

type RunView struct {
	ID        string                `json:"id"`
	Scenario  ScenarioInfo          `json:"scenario"`
	Lifecycle sim.Lifecycle         `json:"lifecycle"`
	Speed     float64               `json:"speed"`
	CreatedAt time.Time             `json:"created_at"`
	State     sim.StateSnapshot     `json:"state"`
	Statuses  map[string]sim.Status `json:"statuses"`
}
