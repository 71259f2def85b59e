package sim

import (
	"context"
	"time"
)

// Sleeper waits for a node's simulated duration. Implementations must return
// early with ctx.Err() once ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InstantSleeper never waits; simulations finish as fast as the traversal runs.
type InstantSleeper struct{}

func (InstantSleeper) Sleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
