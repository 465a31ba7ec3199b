package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-decoder-bench/internal/analytics"
	"github.com/randomizedcoder/go-decoder-bench/internal/batch"
	"github.com/randomizedcoder/go-decoder-bench/internal/chunk"
	"github.com/randomizedcoder/go-decoder-bench/internal/config"
	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
	"github.com/randomizedcoder/go-decoder-bench/internal/metrics"
	"github.com/randomizedcoder/go-decoder-bench/internal/orchestrator"
	"github.com/randomizedcoder/go-decoder-bench/internal/stats"
	"github.com/randomizedcoder/go-decoder-bench/internal/timing"
)

// maxLine bounds a single histogram line read by analyze.
const maxLine = 64 << 20

// =============================================================================
// run, search, aggregate
// =============================================================================

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search and calibrate every target of the batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBatch(cmd, nil)
		},
	}
	a.registerBatchFlags(cmd)
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Only search the best frequency or divider of every target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBatch(cmd, func(t *config.Target) { t.SkipLatency = true })
		},
	}
	a.registerBatchFlags(cmd)
	return cmd
}

func newAggregateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Only run and merge the latency chunks of every target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBatch(cmd, func(t *config.Target) { t.SkipSearch = true })
		},
	}
	a.registerBatchFlags(cmd)
	return cmd
}

func (a *app) registerBatchFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	config.RegisterRunFlags(fs, a.cfg)
	config.RegisterHistogramFlags(fs, a.cfg)
	config.RegisterAnalysisFlags(fs, a.cfg)
}

// runBatch loads and validates the config, applies adjust to every target
// and runs the session.
func (a *app) runBatch(cmd *cobra.Command, adjust func(*config.Target)) error {
	if err := a.load(cmd); err != nil {
		return err
	}
	if adjust != nil {
		for i := range a.cfg.Targets {
			adjust(&a.cfg.Targets[i])
		}
	}
	if err := config.Validate(a.cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	a.logger.Info("starting",
		"version", version,
		"command", cmd.Name(),
		"targets", len(a.cfg.Targets),
		"work_dir", a.cfg.WorkDir,
		"metrics_addr", a.cfg.MetricsAddr,
	)

	orch := orchestrator.New(a.cfg, a.logger, orchestrator.Options{
		Version:       version,
		Out:           a.out,
		HandleSignals: true,
	})
	if err := orch.Run(cmd.Context()); err != nil {
		a.logger.Error("orchestrator_failed", "error", err)
		return err
	}
	return nil
}

// =============================================================================
// analyze
// =============================================================================

type analyzeOptions struct {
	dir      string
	name     string
	textfile string
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "Print the latency calibration of a histogram",
		Long: "Reads every histogram line of a file (or stdin with -), merges them and\n" +
			"prints percentiles, the cutoff latency and the tail fit. With --name the\n" +
			"merged histogram of a chunked run in --dir is read instead.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			return a.analyze(opts, args)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.dir, "dir", ".", "Directory of a chunked run")
	fs.StringVar(&opts.name, "name", "", "Name of a chunked run (reads <dir>/<name>.hist)")
	fs.StringVar(&opts.textfile, "textfile", "", "Also export the histogram as a node-exporter textfile")
	config.RegisterAnalysisFlags(fs, a.cfg)
	return cmd
}

func (a *app) analyze(opts analyzeOptions, args []string) error {
	var (
		h     *histogram.Histogram
		label string
		err   error
	)
	switch {
	case opts.name != "":
		label = opts.name
		h, err = chunk.LoadMerged(opts.dir, opts.name)
	case len(args) == 1:
		label = trimLabel(args[0])
		h, err = readHistograms(args[0])
	default:
		return errors.New("analyze needs a file argument or --name")
	}
	if err != nil {
		return err
	}

	sumOpts := batch.SummaryOptions(a.cfg)
	summary, err := analytics.Summarize(h, sumOpts)
	if err != nil {
		return fmt.Errorf("summarizing %s: %w", label, err)
	}
	fmt.Fprint(a.out, stats.FormatCalibration(label, summary, sumOpts))

	if opts.textfile != "" {
		exporter := metrics.NewHistogramExporter("decoder_bench_latency_seconds", "Decoding latency of the analyzed histogram.")
		exporter.Set(label, h)
		reg := prometheus.NewRegistry()
		reg.MustRegister(exporter)
		if err := metrics.WriteTextfile(reg, opts.textfile); err != nil {
			return err
		}
		a.logger.Info("metrics_textfile_written", "path", opts.textfile)
	}
	return nil
}

// readHistograms merges every histogram line of path, "-" being stdin.
func readHistograms(path string) (*histogram.Histogram, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return scanHistograms(r)
}

func scanHistograms(r io.Reader) (*histogram.Histogram, error) {
	var hs []*histogram.Histogram
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if !histogram.ContainsLine(text) {
			continue
		}
		h, err := histogram.FromLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		hs = append(hs, h)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(hs) == 0 {
		return nil, histogram.ErrEmpty
	}
	return histogram.MergeAll(hs...)
}

// =============================================================================
// plan
// =============================================================================

type planOptions struct {
	samples int64
	rate    float64
}

func newPlanCmd(a *app) *cobra.Command {
	var opts planOptions
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the sample budget and chunk plan of a latency run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			return a.plan(opts)
		},
	}
	fs := cmd.Flags()
	fs.Int64Var(&opts.samples, "samples", 0, "Total samples")
	fs.Float64Var(&opts.rate, "rate", 0, "Logical error rate; sizes the run when --samples is 0")
	fs.Int64Var(&a.cfg.Chunk.MaxSize, "chunk-size", a.cfg.Chunk.MaxSize, "Maximum samples per chunk")
	fs.Float64Var(&a.cfg.Budget.AccumulateErrors, "accumulate-errors", a.cfg.Budget.AccumulateErrors, "Logical errors a sized run should observe")
	return cmd
}

func (a *app) plan(opts planOptions) error {
	total := opts.samples
	if total == 0 {
		if opts.rate <= 0 {
			return errors.New("plan needs --samples or a positive --rate")
		}
		b := analytics.SampleBudget{
			AccumulateErrors: a.cfg.Budget.AccumulateErrors,
			MinSamples:       a.cfg.Budget.MinSamples,
			MaxSamples:       a.cfg.Budget.MaxSamples,
		}
		total = b.Samples(opts.rate)
		fmt.Fprintf(a.out, "Sample budget:  %s (%g errors at rate %s)\n",
			stats.FormatNumber(total), b.AccumulateErrors, stats.FormatRate(opts.rate))
	}

	lengths, err := chunk.Plan(total, a.cfg.Chunk.MaxSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Total samples:  %d\n", total)
	fmt.Fprintf(a.out, "Chunks:         %d\n", len(lengths))
	if n := len(lengths); n > 0 {
		fmt.Fprintf(a.out, "Chunk size:     %d", lengths[0])
		if last := lengths[n-1]; n > 1 && last != lengths[0] {
			fmt.Fprintf(a.out, " (last %d)", last)
		}
		fmt.Fprintln(a.out)
	}
	return nil
}

// =============================================================================
// timing
// =============================================================================

type timingOptions struct {
	frequency float64
	divider   int
	distance  int
}

func newTimingCmd(a *app) *cobra.Command {
	var opts timingOptions
	cmd := &cobra.Command{
		Use:   "timing [report]",
		Short: "Read a timing report and suggest an achievable frequency or divider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			return a.timing(opts, args)
		},
	}
	fs := cmd.Flags()
	fs.Float64Var(&opts.frequency, "frequency", 0, "Frequency the report was built at (MHz)")
	fs.IntVar(&opts.divider, "divider", 0, "Clock divider the report was built with")
	fs.IntVar(&opts.distance, "distance", 0, "Print the heuristic start frequency of a code distance")
	return cmd
}

func (a *app) timing(opts timingOptions, args []string) error {
	if opts.distance != 0 {
		f, err := timing.HeuristicFrequency(opts.distance)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Heuristic frequency (d=%d): %d MHz\n", opts.distance, f)
	}
	if len(args) == 0 {
		if opts.distance == 0 {
			return errors.New("timing needs a report or --distance")
		}
		return nil
	}

	s, err := timing.ReadSummary(args[0])
	if err != nil {
		return err
	}
	status := "met"
	if !s.Met() {
		status = "violated"
	}
	fmt.Fprintf(a.out, "WNS: %.3f ns  TNS: %.3f ns  (%s)\n", s.WNS, s.TNS, status)

	switch {
	case opts.frequency <= 0:
	case opts.divider > 0:
		if d, ok := timing.SuggestDivider(opts.frequency, opts.divider, s); ok {
			fmt.Fprintf(a.out, "Suggested divider: %.3f\n", d)
		}
	default:
		if f, ok := timing.SuggestFrequency(opts.frequency, s); ok {
			fmt.Fprintf(a.out, "Suggested frequency: %d MHz\n", f)
		}
	}
	return nil
}

// trimLabel shortens a path argument for report titles.
func trimLabel(s string) string {
	if i := strings.LastIndexByte(s, '/'); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}
