// Package analytics computes calibration statistics over latency histograms:
// exponential tail fits, cutoff latencies for a target exceedance
// probability, quantile summaries and sample budgets.
package analytics

import (
	"errors"
	"fmt"
	"math"

	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
)

var (
	ErrInsufficientFitPoints = errors.New("insufficient points for tail fit")
	ErrInsufficientSamples   = errors.New("insufficient samples for cutoff")
	ErrInvalidFit            = errors.New("tail fit does not decay")
)

// FitRange selects buckets by their fractional mass (count / total).
type FitRange struct {
	Min float64
	Max float64
}

// DefaultFitRange keeps buckets holding between 1e-6 and 1e-4 of the mass.
func DefaultFitRange() FitRange {
	return FitRange{Min: 1e-6, Max: 1e-4}
}

// TailFit is the least-squares fit of
//
//	ln(count / (total * latency * interval_ratio)) = A - B*latency
//
// i.e. an exponential density exp(A - B*latency) over the selected buckets.
type TailFit struct {
	A        float64
	B        float64
	Points   int
	RSquared float64
}

// Density evaluates the fitted probability density at latency.
func (f TailFit) Density(latency float64) float64 {
	return math.Exp(f.A - f.B*latency)
}

// CutoffLatency extrapolates the latency beyond which the fitted tail holds
// probability p: the x solving exp(A - B*x)/B = p.
func (f TailFit) CutoffLatency(p float64) (float64, error) {
	if !(p > 0 && p <= 1) {
		return 0, fmt.Errorf("%w: %g", histogram.ErrInvalidProbability, p)
	}
	if !(f.B > 0) {
		return 0, fmt.Errorf("%w: B = %g", ErrInvalidFit, f.B)
	}
	return (f.A - math.Log(p*f.B)) / f.B, nil
}

// FitExponentialTail fits an exponential tail to the buckets whose fractional
// mass falls in r. Fewer than two qualifying buckets is an error.
//
// Each bucket contributes its representative latency rather than the
// latencies of its samples, so the fit inherits the bucket quantization
// error (see histogram.Shape.IntervalRatio).
func FitExponentialTail(h *histogram.Histogram, r FitRange) (TailFit, error) {
	total := h.TotalMass()
	if total == 0 {
		return TailFit{}, histogram.ErrEmpty
	}
	ratio := h.Shape().IntervalRatio()
	latencies, counts := h.Flatten()

	var xs, ys []float64
	for i, c := range counts {
		if c == 0 {
			continue
		}
		f := float64(c) / float64(total)
		if f < r.Min || f > r.Max {
			continue
		}
		xs = append(xs, latencies[i])
		ys = append(ys, math.Log(f/(latencies[i]*ratio)))
	}
	if len(xs) < 2 {
		return TailFit{}, fmt.Errorf("%w: %d buckets in fractional range [%g, %g]",
			ErrInsufficientFitPoints, len(xs), r.Min, r.Max)
	}

	slope, intercept, r2 := leastSquares(xs, ys)
	return TailFit{A: intercept, B: -slope, Points: len(xs), RSquared: r2}, nil
}

// leastSquares fits y = intercept + slope*x.
func leastSquares(xs, ys []float64) (slope, intercept, r2 float64) {
	n := float64(len(xs))
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n

	var sxx, sxy, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return 0, my, 0
	}
	slope = sxy / sxx
	intercept = my - slope*mx
	if syy > 0 {
		r2 = sxy * sxy / (sxx * syy)
	} else {
		r2 = 1
	}
	return slope, intercept, r2
}
