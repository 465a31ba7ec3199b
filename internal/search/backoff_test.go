package search

import (
	"context"
	"errors"
	"testing"
	"time"
)

// =============================================================================
// Table-Driven Tests: Backoff.Calculate (no jitter)
// =============================================================================

func TestBackoff_Calculate_NoJitter(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		initial  time.Duration
		max      time.Duration
		mult     float64
		want     time.Duration
	}{
		{"attempt 0", 0, 100 * time.Millisecond, 10 * time.Second, 2.0, 100 * time.Millisecond},
		{"attempt 1", 1, 100 * time.Millisecond, 10 * time.Second, 2.0, 200 * time.Millisecond},
		{"attempt 3", 3, 100 * time.Millisecond, 10 * time.Second, 2.0, 800 * time.Millisecond},
		{"capped at max", 10, 100 * time.Millisecond, time.Second, 2.0, time.Second},
		{"multiplier 1.5", 2, 100 * time.Millisecond, 10 * time.Second, 1.5, 225 * time.Millisecond},
		{"multiplier below 1", 4, 100 * time.Millisecond, 10 * time.Second, 0.5, 100 * time.Millisecond},
		{"no max", 4, time.Second, 0, 2.0, 16 * time.Second},
		{"disabled", 4, 0, time.Second, 2.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(0, BackoffConfig{
				Initial:    tt.initial,
				Max:        tt.max,
				Multiplier: tt.mult,
			})
			b.attempts = tt.attempts

			if got := b.Calculate(); got != tt.want {
				t.Errorf("Calculate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: Backoff.Next and Reset
// =============================================================================

func TestBackoff_NextAndReset(t *testing.T) {
	b := NewBackoff(0, BackoffConfig{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2})

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w)
		}
	}
	if b.Attempts() != 3 {
		t.Errorf("Attempts() = %d, want 3", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 {
		t.Errorf("Attempts() after Reset = %d", b.Attempts())
	}
	if got := b.Next(); got != 100*time.Millisecond {
		t.Errorf("Next() after Reset = %v, want 100ms", got)
	}
}

// =============================================================================
// Tests: Jitter
// =============================================================================

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2, JitterPct: 0.4}
	b := NewBackoff(7, cfg)

	// ±20% around 1s.
	for i := 0; i < 100; i++ {
		got := b.Calculate()
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("Calculate() = %v, outside [800ms, 1.2s]", got)
		}
	}
}

func TestBackoff_JitterDeterministic(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2, JitterPct: 0.4}
	a, b := NewBackoff(42, cfg), NewBackoff(42, cfg)

	for i := 0; i < 5; i++ {
		if da, db := a.Next(), b.Next(); da != db {
			t.Fatalf("attempt %d: %v != %v with the same seed", i, da, db)
		}
	}
}

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	if cfg.Initial != 30*time.Second || cfg.Max != 10*time.Minute {
		t.Errorf("DefaultBackoffConfig() = %+v", cfg)
	}
	if cfg.Multiplier != 2 || cfg.JitterPct != 0.2 {
		t.Errorf("DefaultBackoffConfig() = %+v", cfg)
	}
}

// =============================================================================
// Tests: sleepContext
// =============================================================================

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("zero delay error = %v", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("short delay error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext did not return promptly on cancel")
	}
}
