package sim

import (
	"fmt"
	"math"
	"time"
)

type Lifecycle string

const (
	Idle     Lifecycle = "idle"
	Running  Lifecycle = "running"
	Stopped  Lifecycle = "stopped"
	Finished Lifecycle = "finished"
)

// DurationRange bounds the randomized duration of nodes that declare none.
type DurationRange struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

type RunConfig struct {
	SuccessProbability float64       `json:"success_probability"`
	DurationRange      DurationRange `json:"duration_range"`
	SpeedMultiplier    float64       `json:"speed_multiplier"`
	// Seed makes the default outcome policy and duration draws reproducible.
	Seed *uint64 `json:"seed,omitempty"`
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		SuccessProbability: 0.9,
		DurationRange:      DurationRange{Min: time.Second, Max: 3 * time.Second},
		SpeedMultiplier:    1,
	}
}

func (c RunConfig) Validate() error {
	if math.IsNaN(c.SuccessProbability) || c.SuccessProbability < 0 || c.SuccessProbability > 1 {
		return fmt.Errorf("success probability must be within [0,1] (got %v)", c.SuccessProbability)
	}
	if c.DurationRange.Min < 0 || c.DurationRange.Max < c.DurationRange.Min {
		return fmt.Errorf("invalid duration range [%s, %s]", c.DurationRange.Min, c.DurationRange.Max)
	}
	if err := validSpeed(c.SpeedMultiplier); err != nil {
		return err
	}
	return nil
}

func validSpeed(m float64) error {
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return fmt.Errorf("speed multiplier must be a positive number (got %v)", m)
	}
	return nil
}

// scale returns the wall-clock wait for a nominal duration.
func scale(d time.Duration, speed float64) time.Duration {
	if speed <= 0 || speed == 1 {
		return d
	}
	return time.Duration(float64(d) / speed)
}
