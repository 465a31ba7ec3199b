package analytics

import (
	"fmt"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
)

// Digest builds a t-digest from the flattened buckets, weighting each
// representative latency by its count.
func Digest(h *histogram.Histogram) *tdigest.TDigest {
	td := tdigest.NewWithCompression(100)
	latencies, counts := h.Flatten()
	for i, c := range counts {
		if c > 0 {
			td.Add(latencies[i], float64(c))
		}
	}
	return td
}

// Quantiles returns interpolated latency quantiles for each q in (0, 1].
func Quantiles(h *histogram.Histogram, qs ...float64) ([]float64, error) {
	if h.TotalMass() == 0 {
		return nil, histogram.ErrEmpty
	}
	for _, q := range qs {
		if !(q > 0 && q <= 1) {
			return nil, fmt.Errorf("%w: %g", histogram.ErrInvalidProbability, q)
		}
	}
	td := Digest(h)
	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = td.Quantile(q)
	}
	return out, nil
}
