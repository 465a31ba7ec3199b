package analytics

import "math"

// SampleBudget sizes a latency run from an estimated logical error rate so
// that roughly AccumulateErrors logical errors are observed.
type SampleBudget struct {
	AccumulateErrors float64
	MinSamples       int64
	MaxSamples       int64
}

// DefaultSampleBudget accumulates 1000 errors with 1e4..1e10 samples.
func DefaultSampleBudget() SampleBudget {
	return SampleBudget{
		AccumulateErrors: 1000,
		MinSamples:       10_000,
		MaxSamples:       10_000_000_000,
	}
}

// Samples returns AccumulateErrors / pL clamped to [MinSamples, MaxSamples].
// A non-positive rate yields MaxSamples.
func (b SampleBudget) Samples(pL float64) int64 {
	if !(pL > 0) {
		return b.MaxSamples
	}
	want := b.AccumulateErrors / pL
	if want < float64(b.MinSamples) {
		return b.MinSamples
	}
	if want > float64(b.MaxSamples) || math.IsInf(want, 1) {
		return b.MaxSamples
	}
	return int64(math.Ceil(want))
}
