package histogram

import (
	"fmt"
	"math"
)

// Bias returns a histogram of the same shape where every sample is shifted
// by offset before being bucketed again.
//
// Individual sample latencies are not retained, so each bucket is moved as
// a whole using its representative latency. The result is therefore only
// accurate to roughly one bucket width (see Shape.IntervalRatio). Underflow
// and overflow mass is moved with the first and last bucket respectively.
func (h *Histogram) Bias(offset float64) (*Histogram, error) {
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return nil, fmt.Errorf("%w: bias offset %g", ErrInvalidLatency, offset)
	}
	out := &Histogram{shape: h.shape, counts: make(map[int]uint64)}
	latencies, counts := h.Flatten()
	for i, c := range counts {
		if c == 0 {
			continue
		}
		if err := out.Record(latencies[i]+offset, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FilterRange keeps only the buckets whose representative latency lies in
// [min, max]. Excluded buckets may hold at most tolerance samples each;
// otherwise an *OutsideRangeError is returned for the first offender.
// Underflow and overflow are treated as part of the first and last bucket.
func (h *Histogram) FilterRange(min, max float64, tolerance uint64) (*Histogram, error) {
	out := &Histogram{shape: h.shape, counts: make(map[int]uint64)}
	latencies, counts := h.Flatten()
	for i, c := range counts {
		if c == 0 {
			continue
		}
		if latencies[i] >= min && latencies[i] <= max {
			out.counts[i] = c
			continue
		}
		if c > tolerance {
			return nil, &OutsideRangeError{
				Index:     i,
				Latency:   latencies[i],
				Count:     c,
				Tolerance: tolerance,
			}
		}
	}
	return out, nil
}

// CombineBins returns a coarser histogram where every k adjacent buckets
// are summed into one. When the bucket count is not a multiple of k the
// range is extended with empty buckets so the last group is complete;
// the upper bound grows accordingly. Total mass is preserved exactly.
func (h *Histogram) CombineBins(k int) (*Histogram, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: combine factor must be positive (got %d)", ErrInvalidShape, k)
	}
	if k == 1 {
		return h.Clone(), nil
	}

	n := h.shape.Buckets
	coarse := (n + k - 1) / k
	padded := coarse * k

	upper := h.shape.Upper
	if padded != n {
		// extend to the edge of the synthetic padding buckets
		upper = h.shape.Lower * math.Pow(h.shape.Upper/h.shape.Lower, float64(padded)/float64(n))
	}

	out, err := NewWithShape(Shape{Lower: h.shape.Lower, Upper: upper, Buckets: coarse})
	if err != nil {
		return nil, err
	}
	for idx, c := range h.counts {
		out.counts[idx/k] += c
	}
	out.underflow = h.underflow
	out.overflow = h.overflow
	return out, nil
}
