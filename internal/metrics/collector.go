// Package metrics provides Prometheus metrics for go-decoder-bench.
//
// Metrics are grouped the way the calibration dashboard is laid out:
//   - Run overview (targets, completion)
//   - Search progress per target (probes, candidate, best value)
//   - Sample aggregation per target (chunks, merged samples)
//   - Latency calibration per target (average, cutoff, merged histogram)
//
// Every series carries a "target" label. A batch has tens of targets at
// most, so per-target cardinality is fine.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-decoder-bench/internal/search"
)

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	RunID   string
	Version string
	Targets int
}

// Collector owns the metric vectors of one batch run.
type Collector struct {
	// --- Panel 1: Run Overview ---
	info          *prometheus.GaugeVec
	targets       prometheus.Gauge
	targetsDone   *prometheus.CounterVec
	elapsed       prometheus.Gauge
	commandExits  *prometheus.CounterVec
	commandLength *prometheus.HistogramVec

	// --- Panel 2: Search Progress ---
	probes      *prometheus.CounterVec
	candidate   *prometheus.GaugeVec
	best        *prometheus.GaugeVec
	searchState *prometheus.GaugeVec

	// --- Panel 3: Sample Aggregation ---
	chunks        *prometheus.CounterVec
	samplesMerged *prometheus.CounterVec
	sampleBudget  *prometheus.GaugeVec
	errorRate     *prometheus.GaugeVec

	// --- Panel 4: Latency Calibration ---
	averageLatency *prometheus.GaugeVec
	cutoffLatency  *prometheus.GaugeVec
	fitCutoff      *prometheus.GaugeVec
	latency        *HistogramExporter

	startTime time.Time

	mu     sync.Mutex
	totals Totals
}

// Totals are run-wide counters kept alongside the Prometheus series for the
// exit summary.
type Totals struct {
	Probes        int64
	Failures      int64
	ChunksRun     int64
	ChunksSkipped int64
	Samples       uint64
	Commands      int64
	ExitCodes     map[int]int64
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing and for textfile export.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		// Panel 1: Run Overview
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoder_bench_info",
				Help: "Information about the benchmark run (value always 1)",
			},
			[]string{"version", "run_id"},
		),
		targets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "decoder_bench_targets",
				Help: "Number of configurations in the batch",
			},
		),
		targetsDone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decoder_bench_targets_finished_total",
				Help: "Configurations finished, by status",
			},
			[]string{"status"},
		),
		elapsed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "decoder_bench_elapsed_seconds",
				Help: "Seconds since the run started",
			},
		),
		commandExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decoder_bench_command_exits_total",
				Help: "Collaborator command exits by kind and exit code",
			},
			[]string{"kind", "code"},
		),
		commandLength: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "decoder_bench_command_duration_seconds",
				Help:    "Collaborator command wall time",
				Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200, 14400, 43200, 86400},
			},
			[]string{"kind"},
		),

		// Panel 2: Search Progress
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decoder_bench_probes_total",
				Help: "Search probes by outcome (suggested, optimal, failure)",
			},
			[]string{"target", "outcome"},
		),
		candidate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoder_bench_candidate",
				Help: "Candidate value currently being evaluated",
			},
			[]string{"target"},
		),
		best: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoder_bench_best",
				Help: "Converged best value (frequency in MHz or clock divider)",
			},
			[]string{"target"},
		),
		searchState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoder_bench_search_state",
				Help: "Search state (0=init, 1=probing, 2=converged, 3=failed)",
			},
			[]string{"target"},
		),

		// Panel 3: Sample Aggregation
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decoder_bench_chunks_total",
				Help: "Chunks processed by outcome (run, skipped, ledger, missing)",
			},
			[]string{"target", "outcome"},
		),
		samplesMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decoder_bench_samples_merged_total",
				Help: "Latency samples merged into the target histogram",
			},
			[]string{"target"},
		),
		sampleBudget: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoder_bench_sample_budget",
				Help: "Requested sample count for the target",
			},
			[]string{"target"},
		),
		errorRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoder_bench_logical_error_rate",
				Help: "Estimated logical error rate used to size the sample budget",
			},
			[]string{"target"},
		),

		// Panel 4: Latency Calibration
		averageLatency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoder_bench_average_latency_seconds",
				Help: "Average decoding latency",
			},
			[]string{"target"},
		),
		cutoffLatency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoder_bench_cutoff_latency_seconds",
				Help: "Empirical latency cutoff at the target exceedance probability",
			},
			[]string{"target"},
		),
		fitCutoff: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoder_bench_fit_cutoff_latency_seconds",
				Help: "Cutoff extrapolated from the exponential tail fit",
			},
			[]string{"target"},
		),
		latency: NewHistogramExporter(
			"decoder_bench_latency_seconds",
			"Merged decoding latency distribution",
		),

		startTime: time.Now(),
		totals:    Totals{ExitCodes: make(map[int]int64)},
	}

	registry.MustRegister(
		// Panel 1: Run Overview
		c.info,
		c.targets,
		c.targetsDone,
		c.elapsed,
		c.commandExits,
		c.commandLength,

		// Panel 2: Search Progress
		c.probes,
		c.candidate,
		c.best,
		c.searchState,

		// Panel 3: Sample Aggregation
		c.chunks,
		c.samplesMerged,
		c.sampleBudget,
		c.errorRate,

		// Panel 4: Latency Calibration
		c.averageLatency,
		c.cutoffLatency,
		c.fitCutoff,
		c.latency,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.RunID).Set(1)
	c.targets.Set(float64(cfg.Targets))

	return c
}

// =============================================================================
// Update Methods
// =============================================================================

// SetSearchState records a search state transition.
func (c *Collector) SetSearchState(target string, s search.State) {
	c.searchState.WithLabelValues(target).Set(float64(s))
}

// RecordProbe records that candidate is being evaluated.
func (c *Collector) RecordProbe(target string, candidate int) {
	c.candidate.WithLabelValues(target).Set(float64(candidate))

	c.mu.Lock()
	c.totals.Probes++
	c.mu.Unlock()
}

// RecordOutcome records the outcome of a probe.
func (c *Collector) RecordOutcome(target string, s search.Suggestion, err error) {
	outcome := "suggested"
	switch {
	case err != nil:
		outcome = "failure"
		c.mu.Lock()
		c.totals.Failures++
		c.mu.Unlock()
	case !s.Present:
		outcome = "optimal"
	}
	c.probes.WithLabelValues(target, outcome).Inc()
}

// SetBest records the converged best value.
func (c *Collector) SetBest(target string, v int) {
	c.best.WithLabelValues(target).Set(float64(v))
}

// RecordChunk records a chunk outcome.
func (c *Collector) RecordChunk(target, outcome string) {
	c.chunks.WithLabelValues(target, outcome).Inc()

	c.mu.Lock()
	switch outcome {
	case "run":
		c.totals.ChunksRun++
	case "skipped", "ledger":
		c.totals.ChunksSkipped++
	}
	c.mu.Unlock()
}

// RecordBudget records the estimated logical error rate and the sample
// count derived from it.
func (c *Collector) RecordBudget(target string, errorRate float64, samples int64) {
	c.errorRate.WithLabelValues(target).Set(errorRate)
	c.sampleBudget.WithLabelValues(target).Set(float64(samples))
}

// RecordAggregation records the merged sample count of a target.
func (c *Collector) RecordAggregation(target string, samples uint64) {
	c.samplesMerged.WithLabelValues(target).Add(float64(samples))

	c.mu.Lock()
	c.totals.Samples += samples
	c.mu.Unlock()
}

// RecordLatency records the calibration statistics of a target. A zero
// cutoff is left unset.
func (c *Collector) RecordLatency(target string, average, cutoff, fitCutoff float64) {
	c.averageLatency.WithLabelValues(target).Set(average)
	if cutoff > 0 {
		c.cutoffLatency.WithLabelValues(target).Set(cutoff)
	}
	if fitCutoff > 0 {
		c.fitCutoff.WithLabelValues(target).Set(fitCutoff)
	}
}

// Histograms returns the exporter for merged latency histograms.
func (c *Collector) Histograms() *HistogramExporter {
	return c.latency
}

// RecordCommand records a collaborator command exit.
func (c *Collector) RecordCommand(kind string, exitCode int, d time.Duration) {
	c.commandExits.WithLabelValues(kind, strconv.Itoa(exitCode)).Inc()
	c.commandLength.WithLabelValues(kind).Observe(d.Seconds())

	c.mu.Lock()
	c.totals.Commands++
	c.totals.ExitCodes[exitCode]++
	c.mu.Unlock()
}

// TargetFinished records the end of one configuration.
func (c *Collector) TargetFinished(status string) {
	c.targetsDone.WithLabelValues(status).Inc()
	c.elapsed.Set(time.Since(c.startTime).Seconds())
}

// Totals returns a copy of the run-wide counters.
func (c *Collector) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.totals
	t.ExitCodes = make(map[int]int64, len(c.totals.ExitCodes))
	for k, v := range c.totals.ExitCodes {
		t.ExitCodes[k] = v
	}
	return t
}
