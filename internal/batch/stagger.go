package batch

import (
	"context"
	"math/rand"
	"time"
)

// Stagger spreads target starts so concurrent targets do not hit a build
// host or license server at the same instant. Each start after the first
// waits a random delay in [0, max).
type Stagger struct {
	max time.Duration
	rng *rand.Rand
}

// NewStagger creates a Stagger with a deterministic delay sequence.
func NewStagger(max time.Duration, seed int64) *Stagger {
	return &Stagger{
		max: max,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Delay returns the delay before starting target index. Not safe for
// concurrent use.
func (s *Stagger) Delay(index int) time.Duration {
	if s.max <= 0 || index == 0 {
		return 0
	}
	return time.Duration(s.rng.Int63n(int64(s.max)))
}

// Wait sleeps Delay(index). Returns the context error if cancelled.
func (s *Stagger) Wait(ctx context.Context, index int) error {
	d := s.Delay(index)
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

// Max returns the configured maximum delay.
func (s *Stagger) Max() time.Duration {
	return s.max
}
