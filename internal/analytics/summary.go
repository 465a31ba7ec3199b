package analytics

import (
	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
)

// SummaryOptions controls Summarize.
type SummaryOptions struct {
	TargetProbability float64  // exceedance probability for the cutoff
	FitRange          FitRange // bucket selection for the tail fit
	CombineBins       int      // coarsen before fitting; <= 1 disables
}

// DefaultSummaryOptions targets a 1e-9 exceedance probability.
func DefaultSummaryOptions() SummaryOptions {
	return SummaryOptions{
		TargetProbability: 1e-9,
		FitRange:          DefaultFitRange(),
		CombineBins:       10,
	}
}

// Summary collects the calibration statistics of one histogram. Cutoff and
// tail fit failures are kept next to their results so a summary can still
// be reported when the sample count is too small for one of them.
type Summary struct {
	TotalMass uint64
	InRange   uint64
	Underflow uint64
	Overflow  uint64

	Average float64
	P50     float64
	P90     float64
	P99     float64
	P999    float64

	Cutoff    *Cutoff
	CutoffErr error

	Fit       *TailFit
	FitErr    error
	FitCutoff float64 // extrapolated from Fit, 0 if unavailable

	Warnings []string
}

// Summarize computes a Summary. It fails only for an empty histogram.
func Summarize(h *histogram.Histogram, opts SummaryOptions) (Summary, error) {
	avg, err := h.AverageLatency()
	if err != nil {
		return Summary{}, err
	}
	qs, err := Quantiles(h, 0.5, 0.9, 0.99, 0.999)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		TotalMass: h.TotalMass(),
		InRange:   h.InRangeCount(),
		Underflow: h.Underflow(),
		Overflow:  h.Overflow(),
		Average:   avg,
		P50:       qs[0],
		P90:       qs[1],
		P99:       qs[2],
		P999:      qs[3],
		Warnings:  h.Warnings(),
	}

	if c, err := FindCutoffLatency(h, opts.TargetProbability); err != nil {
		s.CutoffErr = err
	} else {
		s.Cutoff = &c
	}

	fitInput := h
	if opts.CombineBins > 1 {
		if fitInput, err = h.CombineBins(opts.CombineBins); err != nil {
			s.FitErr = err
			return s, nil
		}
	}
	fit, err := FitExponentialTail(fitInput, opts.FitRange)
	if err != nil {
		s.FitErr = err
		return s, nil
	}
	s.Fit = &fit
	if v, err := fit.CutoffLatency(opts.TargetProbability); err == nil {
		s.FitCutoff = v
	}
	return s, nil
}
