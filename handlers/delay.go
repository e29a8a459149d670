package handlers

import (
	"context"
	"math/rand"
	"time"
)

// Delay simulates work at the start of each phase. It returns the context
// error if ctx ends first.
type Delay func(ctx context.Context) error

// NoDelay returns immediately
func NoDelay(ctx context.Context) error {
	return ctx.Err()
}

// RandomDelay sleeps for a uniformly random duration in [min, max)
func RandomDelay(min, max time.Duration) Delay {
	return func(ctx context.Context) error {
		d := min
		if max > min {
			d += time.Duration(rand.Int63n(int64(max - min)))
		}
		if d <= 0 {
			return ctx.Err()
		}

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}
