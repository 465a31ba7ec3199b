// Package stats formats the human-readable reports of go-decoder-bench.
//
// This file implements the exit summary printed when a batch finishes, and
// the calibration report printed by the analyze command.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/randomizedcoder/go-decoder-bench/internal/analytics"
	"github.com/randomizedcoder/go-decoder-bench/internal/batch"
	"github.com/randomizedcoder/go-decoder-bench/internal/metrics"
)

const (
	rule    = "═══════════════════════════════════════════════════════════════════════════════\n"
	subRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Duration is the total run duration
	Duration time.Duration

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// ResultsFile is where the results were written
	ResultsFile string

	// Totals are the run-wide counters from metrics.Collector
	Totals metrics.Totals
}

// FormatExitSummary formats a batch report for display at program exit.
//
// The summary includes:
// - Run information
// - One row per target (search result, samples, latency cutoff)
// - Run-wide search and aggregation counters
// - Collaborator exit codes
// - Failures with their stage and error
func FormatExitSummary(rep *batch.Report, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("                         go-decoder-bench Exit Summary\n")
	b.WriteString(rule + "\n")

	if rep == nil {
		fmt.Fprintf(&b, "Run Duration:           %s\n\n", FormatDuration(cfg.Duration))
		b.WriteString("(No targets were run)\n\n")
		b.WriteString(rule)
		return b.String()
	}

	fmt.Fprintf(&b, "Run ID:                 %s\n", rep.RunID)
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Targets:                %d succeeded, %d failed\n\n", rep.Succeeded(), len(rep.Failed()))

	// Per-target results
	if len(rep.Targets) > 0 {
		section(&b, "Calibration Results")

		fmt.Fprintf(&b, "  %-16s %-10s %8s %10s %12s %12s\n", "Target", "Stage", "Best", "Samples", "Average", "Cutoff")
		b.WriteString("  " + strings.Repeat("─", 73) + "\n")
		for _, t := range rep.Targets {
			best := "-"
			if t.Searched && t.Search.Value > 0 {
				best = fmt.Sprintf("%d", t.Search.Value)
			}
			samples := "-"
			if t.Samples > 0 {
				samples = FormatNumber(t.Samples)
			}
			avg, cutoff := "-", "-"
			if s := t.Summary; s != nil {
				avg = FormatLatency(s.Average)
				switch {
				case s.Cutoff != nil:
					cutoff = FormatLatency(s.Cutoff.Latency)
				case s.FitCutoff > 0:
					cutoff = FormatLatency(s.FitCutoff) + "*"
				}
			}
			fmt.Fprintf(&b, "  %-16s %-10s %8s %10s %12s %12s\n",
				truncate(t.Name, 16), t.Stage, best, samples, avg, cutoff)
		}
		b.WriteString("\n  * extrapolated from the tail fit\n\n")
	}

	// Counters (from metrics.Collector)
	tot := cfg.Totals
	if tot.Probes > 0 || tot.ChunksRun > 0 || tot.ChunksSkipped > 0 {
		section(&b, "Work Done")

		fmt.Fprintf(&b, "  Search Probes:        %d (%d failed)\n", tot.Probes, tot.Failures)
		fmt.Fprintf(&b, "  Chunks Run:           %d\n", tot.ChunksRun)
		fmt.Fprintf(&b, "  Chunks Resumed:       %d\n", tot.ChunksSkipped)
		fmt.Fprintf(&b, "  Samples Merged:       %s\n\n", FormatNumber(int64(tot.Samples)))
	}

	// Exit codes (from metrics.Collector)
	if len(tot.ExitCodes) > 0 {
		section(&b, "Exit Codes")

		// Sort exit codes for consistent output
		codes := make([]int, 0, len(tot.ExitCodes))
		for code := range tot.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		for _, code := range codes {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), tot.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if failed := rep.Failed(); len(failed) > 0 {
		section(&b, "Failures")
		for _, t := range failed {
			fmt.Fprintf(&b, "  %s (%s): %v\n", t.Name, t.Stage, t.Err)
		}
		b.WriteString("\n")
	}

	if cfg.ResultsFile != "" {
		fmt.Fprintf(&b, "Results written to: %s\n", cfg.ResultsFile)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(rule)
	return b.String()
}

// FormatCalibration formats the analysis of one merged histogram.
func FormatCalibration(name string, s analytics.Summary, opts analytics.SummaryOptions) string {
	var b strings.Builder

	b.WriteString(rule)
	fmt.Fprintf(&b, "  Latency calibration: %s\n", name)
	b.WriteString(rule + "\n")

	fmt.Fprintf(&b, "  Samples:              %s (%d in range)\n", FormatNumber(int64(s.TotalMass)), s.InRange)
	if s.Underflow > 0 || s.Overflow > 0 {
		fmt.Fprintf(&b, "  Underflow/Overflow:   %d / %d\n", s.Underflow, s.Overflow)
	}
	fmt.Fprintf(&b, "  Average:              %s\n\n", FormatLatency(s.Average))

	fmt.Fprintf(&b, "  P50:                  %s\n", FormatLatency(s.P50))
	fmt.Fprintf(&b, "  P90:                  %s\n", FormatLatency(s.P90))
	fmt.Fprintf(&b, "  P99:                  %s\n", FormatLatency(s.P99))
	fmt.Fprintf(&b, "  P99.9:                %s\n\n", FormatLatency(s.P999))

	fmt.Fprintf(&b, "  Target probability:   %g\n", opts.TargetProbability)
	if s.Cutoff != nil {
		fmt.Fprintf(&b, "  Cutoff:               %s (bucket %d, %d samples above)\n",
			FormatLatency(s.Cutoff.Latency), s.Cutoff.Index, s.Cutoff.Accumulated)
	} else {
		fmt.Fprintf(&b, "  Cutoff:               unavailable (%v)\n", s.CutoffErr)
	}
	if s.Fit != nil {
		fmt.Fprintf(&b, "  Tail fit:             A=%.4g B=%.4g over %d points (R²=%.3f)\n",
			s.Fit.A, s.Fit.B, s.Fit.Points, s.Fit.RSquared)
		if s.FitCutoff > 0 {
			fmt.Fprintf(&b, "  Fit cutoff:           %s\n", FormatLatency(s.FitCutoff))
		}
	} else {
		fmt.Fprintf(&b, "  Tail fit:             unavailable (%v)\n", s.FitErr)
	}

	if len(s.Warnings) > 0 {
		b.WriteString("\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "  ⚠️  %s\n", w)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(subRule)
	pad := (len(subRule)/3 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(subRule + "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case -1:
		return "(not started)"
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 124:
		return "(timeout)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M/G suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.1fG", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatLatency formats a latency in seconds with ns/µs/ms/s units.
func FormatLatency(sec float64) string {
	switch {
	case sec <= 0:
		return "0"
	case sec < 1e-6:
		return fmt.Sprintf("%.1f ns", sec*1e9)
	case sec < 1e-3:
		return fmt.Sprintf("%.2f µs", sec*1e6)
	case sec < 1:
		return fmt.Sprintf("%.2f ms", sec*1e3)
	default:
		return fmt.Sprintf("%.3f s", sec)
	}
}

// FormatRate formats a probability or rate in scientific notation.
func FormatRate(rate float64) string {
	if rate == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2e", rate)
}
