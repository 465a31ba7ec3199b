package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// targetName keeps names usable as file names and metric labels.
var targetName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or the joined ValidationErrors.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Workspace
	if cfg.WorkDir == "" {
		add("work_dir", "must not be empty")
	}
	if cfg.ResultsFile == "" {
		add("results_file", "must not be empty")
	}
	if cfg.Journal != "file" && cfg.Journal != "badger" {
		add("journal", "must be 'file' or 'badger' (got %q)", cfg.Journal)
	}
	if cfg.Cache != "memory" && cfg.Cache != "badger" {
		add("cache", "must be 'memory' or 'badger' (got %q)", cfg.Cache)
	}

	// Histogram shape
	h := cfg.Histogram
	if !(h.Lower > 0) || math.IsInf(h.Lower, 0) {
		add("histogram.lower", "must be positive and finite (got %g)", h.Lower)
	}
	if !(h.Upper > h.Lower) || math.IsInf(h.Upper, 0) {
		add("histogram.upper", "must be finite and exceed lower (got %g)", h.Upper)
	}
	if h.Buckets < 1 {
		add("histogram.buckets", "must be at least 1")
	}

	// Search
	errs = append(errs, validateSearch("search", cfg.Search)...)

	// Chunks
	if cfg.Chunk.MaxSize < 1 {
		add("chunk.max_size", "must be at least 1")
	}
	switch cfg.Chunk.Retention {
	case "keep", "delete", "compress":
	default:
		add("chunk.retention", "must be one of: keep, delete, compress (got %q)", cfg.Chunk.Retention)
	}

	// Budget
	if !(cfg.Budget.AccumulateErrors > 0) {
		add("budget.accumulate_errors", "must be positive")
	}
	if cfg.Budget.MinSamples < 1 {
		add("budget.min_samples", "must be at least 1")
	}
	if cfg.Budget.MaxSamples < cfg.Budget.MinSamples {
		add("budget.max_samples", "must be >= min_samples")
	}

	// Analysis
	if !inOpenUnit(cfg.Analysis.TargetProbability) {
		add("analysis.target_probability", "must be in (0, 1) (got %g)", cfg.Analysis.TargetProbability)
	}
	if !inOpenUnit(cfg.Analysis.FitMin) || !inOpenUnit(cfg.Analysis.FitMax) || cfg.Analysis.FitMin >= cfg.Analysis.FitMax {
		add("analysis.fit_min", "fit range must satisfy 0 < fit_min < fit_max < 1 (got %g, %g)", cfg.Analysis.FitMin, cfg.Analysis.FitMax)
	}
	if cfg.Analysis.CombineBins < 0 {
		add("analysis.combine_bins", "must not be negative")
	}

	// Batch
	if cfg.Concurrency < 1 {
		add("concurrency", "must be at least 1")
	}
	if cfg.StartStagger < 0 {
		add("start_stagger", "must not be negative")
	}
	errs = append(errs, validateTargets(cfg)...)

	// Observability
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateSearch(prefix string, s SearchConfig) []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: prefix + "." + field, Message: fmt.Sprintf(format, args...)})
	}

	divider := false
	switch s.Objective {
	case "", "frequency":
	case "divider":
		divider = true
	default:
		add("objective", "must be 'frequency' or 'divider' (got %q)", s.Objective)
	}

	if s.Start < 0 {
		add("start", "must not be negative")
	}
	if s.Limit < 0 {
		add("limit", "must not be negative")
	}
	if divider && s.BaseFrequency <= 0 {
		add("base_frequency", "is required for the divider objective")
	}
	if s.MaxIteration < 1 {
		add("max_iteration", "must be at least 1")
	}
	if s.ExtraDecrease < 0 || (!divider && s.ExtraDecrease >= 1) {
		add("extra_decrease", "must be in [0, 1) (got %g)", s.ExtraDecrease)
	}
	if s.OnFailureDecrease <= 0 || (!divider && s.OnFailureDecrease >= 1) {
		add("on_failure_decrease", "must be in (0, 1) (got %g)", s.OnFailureDecrease)
	}
	if s.MinDecrease < 0 || s.MinDecrease >= 1 {
		add("min_decrease", "must be in [0, 1) (got %g)", s.MinDecrease)
	}

	// Retry delay
	if s.RetryInitial < 0 {
		add("retry_initial", "must not be negative")
	}
	if s.RetryInitial > 0 {
		if s.RetryMax < s.RetryInitial {
			add("retry_max", "must be >= retry_initial")
		}
		if s.RetryMultiply < 1.0 {
			add("retry_multiply", "must be >= 1.0")
		}
	}
	if s.RetryJitter < 0 || s.RetryJitter >= 1 {
		add("retry_jitter", "must be in [0, 1)")
	}
	return errs
}

func validateTargets(cfg *Config) []error {
	var errs []error
	seen := make(map[string]bool, len(cfg.Targets))

	for i, t := range cfg.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		add := func(format string, args ...any) {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
		}

		if !targetName.MatchString(t.Name) {
			add("name %q must start with a letter or digit and contain only letters, digits, '_', '-', '.'", t.Name)
		} else if seen[t.Name] {
			add("duplicate name %q", t.Name)
		}
		seen[t.Name] = true

		if t.Distance < 1 {
			add("distance must be at least 1 (got %d)", t.Distance)
		}
		if !inOpenUnit(t.ErrorRate) {
			add("p must be in (0, 1) (got %g)", t.ErrorRate)
		}
		if t.Samples < 0 {
			add("samples must not be negative")
		}

		if !t.SkipSearch {
			if cfg.Commands.Evaluate.IsZero() {
				add("search requires commands.evaluate")
			}
			errs = append(errs, validateSearch(field, cfg.ResolveSearch(t))...)
		}
		if !t.SkipLatency {
			if cfg.Commands.Chunk.IsZero() {
				add("latency run requires commands.chunk")
			}
			if t.Samples == 0 && cfg.Commands.Estimate.IsZero() {
				add("samples = 0 requires commands.estimate")
			}
		}
	}
	return errs
}

func inOpenUnit(v float64) bool {
	return v > 0 && v < 1
}
