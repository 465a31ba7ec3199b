// Package histogram implements a bounded-memory latency histogram with
// logarithmically spaced buckets.
//
// A Histogram has a fixed Shape chosen at creation and a sparse set of
// bucket counts plus underflow and overflow counters. Merged, biased,
// filtered and combined histograms are always new values; inputs are never
// mutated. A Histogram is not safe for concurrent mutation.
package histogram

import (
	"fmt"
	"math"
	"sort"
)

// Histogram is a fixed-shape, log-scale bucketed latency table.
type Histogram struct {
	shape     Shape
	counts    map[int]uint64 // only nonzero buckets
	underflow uint64
	overflow  uint64
}

// Bucket is a single nonzero bucket.
type Bucket struct {
	Index int
	Count uint64
}

// New creates an empty histogram over [lower, upper) with n buckets.
func New(lower, upper float64, n int) (*Histogram, error) {
	return NewWithShape(Shape{Lower: lower, Upper: upper, Buckets: n})
}

// NewWithShape creates an empty histogram with the given shape.
func NewWithShape(s Shape) (*Histogram, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Histogram{
		shape:  s,
		counts: make(map[int]uint64),
	}, nil
}

// NewDefault creates an empty histogram with DefaultShape.
func NewDefault() *Histogram {
	h, _ := NewWithShape(DefaultShape())
	return h
}

// Shape returns the histogram geometry.
func (h *Histogram) Shape() Shape {
	return h.shape
}

// Record adds weight samples of the given latency.
// Non-positive latencies are counted as underflow.
func (h *Histogram) Record(latency float64, weight uint64) error {
	if weight == 0 {
		return ErrInvalidWeight
	}
	if math.IsNaN(latency) {
		return ErrInvalidLatency
	}
	idx, r := h.shape.classify(latency)
	switch r {
	case below:
		h.underflow += weight
	case above:
		h.overflow += weight
	default:
		h.counts[idx] += weight
	}
	return nil
}

// Merge returns the pointwise sum of h and other.
func (h *Histogram) Merge(other *Histogram) (*Histogram, error) {
	if !h.shape.Compatible(other.shape) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrIncompatible, h.shape, other.shape)
	}
	out := h.Clone()
	for idx, c := range other.counts {
		out.counts[idx] += c
	}
	out.underflow += other.underflow
	out.overflow += other.overflow
	return out, nil
}

// MergeAll folds a list of histograms with Merge. At least one histogram
// is required.
func MergeAll(hs ...*Histogram) (*Histogram, error) {
	if len(hs) == 0 {
		return nil, fmt.Errorf("%w: nothing to merge", ErrEmpty)
	}
	merged := hs[0].Clone()
	for _, h := range hs[1:] {
		var err error
		if merged, err = merged.Merge(h); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// Flatten returns the representative latency and count of every bucket.
// Underflow is folded into bucket 0 and overflow into the last bucket.
// Stored state is not modified.
func (h *Histogram) Flatten() ([]float64, []uint64) {
	n := h.shape.Buckets
	latencies := make([]float64, n)
	counts := make([]uint64, n)
	for i := 0; i < n; i++ {
		latencies[i] = h.shape.Latency(i)
	}
	for idx, c := range h.counts {
		counts[idx] = c
	}
	counts[0] += h.underflow
	counts[n-1] += h.overflow
	return latencies, counts
}

// NonZero returns the nonzero in-range buckets in ascending index order.
func (h *Histogram) NonZero() []Bucket {
	out := make([]Bucket, 0, len(h.counts))
	for idx, c := range h.counts {
		out = append(out, Bucket{Index: idx, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Count returns the in-range count of bucket i.
func (h *Histogram) Count(i int) uint64 {
	return h.counts[i]
}

// Underflow returns the number of samples below the lower bound.
func (h *Histogram) Underflow() uint64 { return h.underflow }

// Overflow returns the number of samples at or above the upper bound.
func (h *Histogram) Overflow() uint64 { return h.overflow }

// InRangeCount returns the number of samples that landed in a bucket.
func (h *Histogram) InRangeCount() uint64 {
	var total uint64
	for _, c := range h.counts {
		total += c
	}
	return total
}

// TotalMass returns every recorded sample including underflow and overflow.
func (h *Histogram) TotalMass() uint64 {
	return h.InRangeCount() + h.underflow + h.overflow
}

// AverageLatency is the count-weighted mean of the flattened representative
// latencies.
func (h *Histogram) AverageLatency() (float64, error) {
	latencies, counts := h.Flatten()
	var total uint64
	var sum float64
	for i, c := range counts {
		if c == 0 {
			continue
		}
		total += c
		sum += latencies[i] * float64(c)
	}
	if total == 0 {
		return 0, ErrEmpty
	}
	return sum / float64(total), nil
}

// PercentileIndex returns the index of the flattened bucket holding the
// p-th quantile (0 < p <= 1).
func (h *Histogram) PercentileIndex(p float64) (int, error) {
	if !(p > 0 && p <= 1) {
		return 0, fmt.Errorf("%w: %g", ErrInvalidProbability, p)
	}
	_, counts := h.Flatten()
	var total uint64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0, ErrEmpty
	}
	target := p * float64(total)
	var cumulative uint64
	for i, c := range counts {
		cumulative += c
		if float64(cumulative) >= target {
			return i, nil
		}
	}
	return len(counts) - 1, nil
}

// PercentileLatency returns the representative latency of PercentileIndex(p).
func (h *Histogram) PercentileLatency(p float64) (float64, error) {
	idx, err := h.PercentileIndex(p)
	if err != nil {
		return 0, err
	}
	return h.shape.Latency(idx), nil
}

// Warnings describes mass that fell outside the histogram range.
func (h *Histogram) Warnings() []string {
	var out []string
	if h.underflow > 0 {
		out = append(out, fmt.Sprintf("%d samples below lower bound %.3e, consider decreasing it", h.underflow, h.shape.Lower))
	}
	if h.overflow > 0 {
		out = append(out, fmt.Sprintf("%d samples at or above upper bound %.3e, consider increasing it", h.overflow, h.shape.Upper))
	}
	return out
}

// Clone returns a deep copy.
func (h *Histogram) Clone() *Histogram {
	out := &Histogram{
		shape:     h.shape,
		counts:    make(map[int]uint64, len(h.counts)),
		underflow: h.underflow,
		overflow:  h.overflow,
	}
	for idx, c := range h.counts {
		out.counts[idx] = c
	}
	return out
}

// Reset clears all counts, keeping the shape.
func (h *Histogram) Reset() {
	h.counts = make(map[int]uint64)
	h.underflow = 0
	h.overflow = 0
}

// Equal reports whether both histograms have compatible shapes and
// identical counts.
func (h *Histogram) Equal(other *Histogram) bool {
	if h == nil || other == nil {
		return h == other
	}
	if !h.shape.Compatible(other.shape) ||
		h.underflow != other.underflow ||
		h.overflow != other.overflow ||
		len(h.counts) != len(other.counts) {
		return false
	}
	for idx, c := range h.counts {
		if other.counts[idx] != c {
			return false
		}
	}
	return true
}
