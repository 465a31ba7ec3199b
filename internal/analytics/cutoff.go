package analytics

import (
	"fmt"

	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
)

// MinTailCount is the smallest number of samples the tail beyond a cutoff
// must hold for the cutoff to be reported. It is a policy constant.
const MinTailCount = 10

// Cutoff is the result of FindCutoffLatency.
type Cutoff struct {
	Index       int     // flattened bucket index
	Latency     float64 // representative latency of Index
	Accumulated uint64  // mass in buckets >= Index
	Threshold   float64 // p * total mass
}

// FindCutoffLatency walks buckets from the highest latency downward and
// returns the first bucket at which the accumulated mass reaches
// p * total. Underflow and overflow are folded as in Flatten.
func FindCutoffLatency(h *histogram.Histogram, p float64) (Cutoff, error) {
	if !(p > 0 && p <= 1) {
		return Cutoff{}, fmt.Errorf("%w: %g", histogram.ErrInvalidProbability, p)
	}
	total := h.TotalMass()
	threshold := p * float64(total)
	if threshold < MinTailCount {
		return Cutoff{}, fmt.Errorf("%w: p*total = %g*%d = %g, need at least %d",
			ErrInsufficientSamples, p, total, threshold, MinTailCount)
	}

	latencies, counts := h.Flatten()
	var acc uint64
	for i := len(counts) - 1; i >= 0; i-- {
		acc += counts[i]
		if float64(acc) >= threshold {
			return Cutoff{Index: i, Latency: latencies[i], Accumulated: acc, Threshold: threshold}, nil
		}
	}
	// unreachable for p <= 1
	return Cutoff{Index: 0, Latency: latencies[0], Accumulated: acc, Threshold: threshold}, nil
}
