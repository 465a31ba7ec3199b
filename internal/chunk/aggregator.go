package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
)

var (
	// ErrIncompleteAggregation is returned when a planned chunk has no
	// artifact after the run phase.
	ErrIncompleteAggregation = errors.New("incomplete aggregation")

	// ErrMassMismatch is returned by mass verification when a chunk
	// histogram does not hold exactly one sample per planned sample.
	ErrMassMismatch = errors.New("chunk mass does not match its length")
)

// IncompleteError lists the chunks whose artifacts are missing.
type IncompleteError struct {
	Missing []int
}

func (e *IncompleteError) Error() string {
	idx := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		idx[i] = strconv.Itoa(m)
	}
	return fmt.Sprintf("%v: %d chunk artifact(s) missing after run: [%s]",
		ErrIncompleteAggregation, len(e.Missing), strings.Join(idx, " "))
}

func (e *IncompleteError) Unwrap() error {
	return ErrIncompleteAggregation
}

// Runner produces the artifact for one chunk. It returns the path written;
// an empty path means c.Path.
type Runner interface {
	RunChunk(ctx context.Context, c Chunk) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, c Chunk) (string, error)

// RunChunk implements Runner.
func (f RunnerFunc) RunChunk(ctx context.Context, c Chunk) (string, error) {
	return f(ctx, c)
}

// Outcome is what happened to a chunk.
type Outcome string

const (
	OutcomeRun     Outcome = "run"
	OutcomeSkipped Outcome = "skipped" // artifact already on disk
	OutcomeLedger  Outcome = "ledger"  // merged in an earlier run
	OutcomeMissing Outcome = "missing"
)

// Config configures an Aggregator.
type Config struct {
	Dir          string
	Name         string
	TotalSamples int64
	MaxChunkSize int64

	// Label selects a labelled histogram line inside each artifact.
	Label string

	Retention  Retention
	VerifyMass bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, errors.New("dir is required"))
	}
	if c.Name == "" || strings.ContainsAny(c.Name, `/\`) {
		errs = append(errs, fmt.Errorf("name must be a non-empty file name (got %q)", c.Name))
	}
	if c.TotalSamples < 0 {
		errs = append(errs, fmt.Errorf("total samples must not be negative (got %d)", c.TotalSamples))
	}
	if c.MaxChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("max chunk size must be positive (got %d)", c.MaxChunkSize))
	}
	if _, err := ParseRetention(string(c.Retention)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stats summarises an aggregation.
type Stats struct {
	Chunks  int
	Run     int
	Skipped int
	Ledger  int
	Samples uint64
}

// Aggregator runs and merges the chunks of one configuration. Each
// configuration must own its directory and name exclusively.
type Aggregator struct {
	cfg     Config
	runner  Runner
	logger  *slog.Logger
	ledger  *ledger
	onChunk func(c Chunk, o Outcome)
	stats   Stats
}

// New creates an Aggregator.
func New(cfg Config, runner Runner, logger *slog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunk config: %w", err)
	}
	if cfg.Retention == "" {
		cfg.Retention = RetainKeep
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		cfg:    cfg,
		runner: runner,
		logger: logger.With("name", cfg.Name),
		ledger: &ledger{path: LedgerPath(cfg.Dir, cfg.Name)},
	}, nil
}

// OnChunk installs a callback invoked once per chunk with its outcome.
func (a *Aggregator) OnChunk(fn func(c Chunk, o Outcome)) {
	a.onChunk = fn
}

// Stats returns the counters of the last Aggregate call.
func (a *Aggregator) Stats() Stats {
	return a.stats
}

// Chunks returns the planned chunks with their artifact paths.
func (a *Aggregator) Chunks() ([]Chunk, error) {
	lengths, err := Plan(a.cfg.TotalSamples, a.cfg.MaxChunkSize)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, len(lengths))
	for i, l := range lengths {
		chunks[i] = Chunk{Index: i, Length: l, Path: ArtifactPath(a.cfg.Dir, a.cfg.Name, i)}
	}
	return chunks, nil
}

func (a *Aggregator) report(c Chunk, o Outcome) {
	if a.onChunk != nil {
		a.onChunk(c, o)
	}
}

// Aggregate runs every chunk that has neither a ledger entry nor an
// artifact, merges all chunk histograms, writes the merged histogram to
// <dir>/<name>.hist and then applies the retention policy.
func (a *Aggregator) Aggregate(ctx context.Context) (*histogram.Histogram, error) {
	a.stats = Stats{}

	chunks, err := a.Chunks()
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no samples planned", histogram.ErrEmpty)
	}
	a.stats.Chunks = len(chunks)

	if err := os.MkdirAll(a.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk directory: %w", err)
	}

	done, err := a.ledger.load()
	if err != nil {
		return nil, err
	}

	a.logger.Info("aggregation_started",
		"chunks", len(chunks),
		"total_samples", a.cfg.TotalSamples,
		"max_chunk_size", a.cfg.MaxChunkSize,
		"ledger_entries", len(done),
	)

	// run phase
	paths := make(map[int]string, len(chunks))
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e, ok := done[c.Index]; ok {
			if e.Length == c.Length {
				a.stats.Ledger++
				a.report(c, OutcomeLedger)
				continue
			}
			a.logger.Warn("chunk_ledger_mismatch",
				"chunk", c.Index,
				"ledger_length", e.Length,
				"planned_length", c.Length,
			)
			delete(done, c.Index)
		}

		if p := existingArtifact(c.Path); p != "" {
			a.logger.Warn("chunk_skipped_existing",
				"chunk", c.Index,
				"path", p,
				"hint", "delete it and rerun if it is stale",
			)
			paths[c.Index] = p
			a.stats.Skipped++
			a.report(c, OutcomeSkipped)
			continue
		}

		a.logger.Info("chunk_started", "chunk", c.Index, "length", c.Length, "path", c.Path)
		p, err := a.runner.RunChunk(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("run chunk %d: %w", c.Index, err)
		}
		if p == "" {
			p = c.Path
		}
		paths[c.Index] = p
		a.stats.Run++
		a.report(c, OutcomeRun)
		a.logger.Info("chunk_finished", "chunk", c.Index, "path", p)
	}

	// collect phase
	var missing []int
	var fresh []ledgerEntry
	hists := make([]*histogram.Histogram, 0, len(chunks))
	for _, c := range chunks {
		if e, ok := done[c.Index]; ok {
			hists = append(hists, e.Histogram)
			continue
		}
		p := existingArtifact(paths[c.Index])
		if p == "" {
			missing = append(missing, c.Index)
			a.report(c, OutcomeMissing)
			continue
		}
		paths[c.Index] = p

		h, err := LoadArtifact(p, a.cfg.Label)
		if err != nil {
			return nil, fmt.Errorf("load chunk %d: %w", c.Index, err)
		}
		if a.cfg.VerifyMass && h.TotalMass() != uint64(c.Length) {
			return nil, fmt.Errorf("%w: chunk %d holds %d samples, planned %d",
				ErrMassMismatch, c.Index, h.TotalMass(), c.Length)
		}
		hists = append(hists, h)
		fresh = append(fresh, ledgerEntry{Index: c.Index, Length: c.Length, Histogram: h})
	}
	if len(missing) > 0 {
		a.logger.Error("aggregation_incomplete", "missing", missing)
		return nil, &IncompleteError{Missing: missing}
	}

	merged, err := histogram.MergeAll(hists...)
	if err != nil {
		return nil, fmt.Errorf("merge chunks: %w", err)
	}
	a.stats.Samples = merged.TotalMass()

	if err := a.ledger.append(fresh); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(MergedPath(a.cfg.Dir, a.cfg.Name), []byte(merged.ToLine()+"\n")); err != nil {
		return nil, fmt.Errorf("write merged histogram: %w", err)
	}

	a.retain(paths)

	a.logger.Info("aggregation_finished",
		"samples", a.stats.Samples,
		"run", a.stats.Run,
		"skipped", a.stats.Skipped,
		"ledger", a.stats.Ledger,
	)
	for _, w := range merged.Warnings() {
		a.logger.Warn("aggregation_warning", "warning", w)
	}
	return merged, nil
}

// retain applies the retention policy to every merged artifact. Failures
// only cost disk space, so they are logged.
func (a *Aggregator) retain(paths map[int]string) {
	if a.cfg.Retention == RetainKeep {
		return
	}
	indices := make([]int, 0, len(paths))
	for i := range paths {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		if err := applyRetention(a.cfg.Retention, paths[i]); err != nil {
			a.logger.Warn("chunk_retention_failed",
				"chunk", i,
				"path", paths[i],
				"policy", string(a.cfg.Retention),
				"error", err,
			)
			continue
		}
		a.logger.Debug("chunk_retained", "chunk", i, "policy", string(a.cfg.Retention))
	}
}

// LoadMerged reads a merged histogram written by Aggregate.
func LoadMerged(dir, name string) (*histogram.Histogram, error) {
	data, err := os.ReadFile(MergedPath(dir, name))
	if err != nil {
		return nil, err
	}
	return histogram.FromLine(string(data))
}
