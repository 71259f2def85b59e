package simdto

import (
	"errors"
	"net/http"
	"time"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/sim"
)

type ValidateRequest struct {
	Format string `json:"format,omitempty"`
	Source string `json:"source"`
}

type SimulateRequest struct {
	Format             string     `json:"format,omitempty"`
	Source             string     `json:"source"`
	SuccessProbability *float64   `json:"success_probability,omitempty"`
	MinDurationMS      int64      `json:"min_duration_ms,omitempty"`
	MaxDurationMS      int64      `json:"max_duration_ms,omitempty"`
	Speed              float64    `json:"speed,omitempty"`
	Seed               *uint64    `json:"seed,omitempty"`
	FailNodes          []string   `json:"fail_nodes,omitempty"`
	Rules              []sim.Rule `json:"rules,omitempty"`
	Instant            bool       `json:"instant,omitempty"`
}

func (r SimulateRequest) Input() app.SimulateInput {
	return app.SimulateInput{
		Format: scenario.Format(r.Format),
		Source: r.Source,
		Options: app.RunOptions{
			SuccessProbability: r.SuccessProbability,
			MinDuration:        time.Duration(r.MinDurationMS) * time.Millisecond,
			MaxDuration:        time.Duration(r.MaxDurationMS) * time.Millisecond,
			Speed:              r.Speed,
			Seed:               r.Seed,
			FailNodes:          r.FailNodes,
			Rules:              r.Rules,
			Instant:            r.Instant,
		},
	}
}

type ValidateResponse struct {
	Valid    bool              `json:"valid"`
	Scenario *app.ScenarioInfo `json:"scenario"`
}

type SpeedRequest struct {
	Multiplier float64 `json:"multiplier"`
}

type ErrorResponse struct {
	Error     string            `json:"error"`
	Details   string            `json:"details"`
	Kind      string            `json:"kind,omitempty"`
	Lifecycle sim.Lifecycle     `json:"lifecycle,omitempty"`
	Defects   []scenario.Defect `json:"defects,omitempty"`
}

// ErrorFor maps a service error to a status code and body.
func ErrorFor(err error) (int, ErrorResponse) {
	var ve *scenario.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ErrorResponse{
			Error:   "invalid scenario",
			Details: err.Error(),
			Kind:    string(ve.Kind()),
			Defects: ve.Defects,
		}
	}

	var se *sim.StateError
	if errors.As(err, &se) {
		return http.StatusConflict, ErrorResponse{
			Error:     "invalid lifecycle transition",
			Details:   err.Error(),
			Kind:      string(se.Kind),
			Lifecycle: se.Lifecycle,
		}
	}

	switch {
	case errors.Is(err, app.ErrRunNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "run not found", Details: err.Error()}
	case errors.Is(err, app.ErrTooManyRuns):
		return http.StatusTooManyRequests, ErrorResponse{Error: "too many runs", Details: err.Error()}
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid input", Details: err.Error()}
	}
	// decoder failures (bad DOT, YAML, JSON or schema) are client errors too
	return http.StatusBadRequest, ErrorResponse{Error: "request failed", Details: err.Error()}
}
