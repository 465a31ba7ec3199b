package search

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig delays the next probe after a hard evaluation failure,
// e.g. to let a license server or build host recover. A zero Initial
// disables the delay.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	JitterPct  float64 // 0.4 = ±20%
}

// DefaultBackoffConfig waits 30s, growing to 10m.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    30 * time.Second,
		Max:        10 * time.Minute,
		Multiplier: 2,
		JitterPct:  0.2,
	}
}

// Backoff calculates exponential delays with deterministic jitter.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a Backoff whose jitter sequence is fixed by seed.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	if b.config.Initial <= 0 {
		return 0
	}
	mult := b.config.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.config.Initial) * math.Pow(mult, float64(b.attempts))
	if b.config.Max > 0 && delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset resets the attempt counter after a successful evaluation.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of consecutive failures seen.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
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
