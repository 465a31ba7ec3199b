// Package batch runs the calibration pipeline over the independent
// configurations of a benchmark: for each target a frequency (or clock
// divider) search, a sample budget from the estimated logical error rate,
// a chunked latency run and the latency analysis.
//
// Targets share nothing but the estimate cache and the metrics collector.
// A failed target is recorded and its siblings continue.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-decoder-bench/internal/cache"
	"github.com/randomizedcoder/go-decoder-bench/internal/config"
	"github.com/randomizedcoder/go-decoder-bench/internal/metrics"
	"github.com/randomizedcoder/go-decoder-bench/internal/process"
	"github.com/randomizedcoder/go-decoder-bench/internal/store"
)

// ErrTargetsFailed is returned by Run when at least one target failed.
var ErrTargetsFailed = errors.New("one or more targets failed")

// Options holds the collaborators of a Runner. Nil fields get defaults.
type Options struct {
	// Factory builds evaluators, chunk runners and the estimator. Defaults
	// to command-line collaborators from the config.
	Factory Factory

	// Metrics receives progress. Defaults to a collector on a private
	// registry.
	Metrics *metrics.Collector

	// DB is the shared badger database for the badger journal and cache.
	// Opened from the config when nil and needed.
	DB *badger.DB

	// OnEvent receives progress events, e.g. for the dashboard. It is
	// called from target goroutines and must not block.
	OnEvent func(Event)

	// RunID identifies the run. Defaults to a random UUID.
	RunID string

	// Seed fixes start stagger and retry jitter. Defaults to the clock.
	Seed int64
}

// Runner executes a batch.
type Runner struct {
	cfg     *config.Config
	logger  *slog.Logger
	factory Factory
	metrics *metrics.Collector
	db      *badger.DB
	ownDB   bool
	cache   cache.Cache
	onEvent func(Event)
	runID   string
	seed    int64
	stagger *Stagger

	mu      sync.Mutex
	results map[string]TargetResult
}

// New creates a Runner. cfg must already be validated.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		factory: opts.Factory,
		metrics: opts.Metrics,
		db:      opts.DB,
		onEvent: opts.OnEvent,
		runID:   opts.RunID,
		results: make(map[string]TargetResult, len(cfg.Targets)),
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r.seed = seed
	r.stagger = NewStagger(cfg.StartStagger, seed)

	if r.db == nil && cfg.NeedsStore() {
		sc := store.DefaultConfig(cfg.StatePath())
		sc.Logger = logger
		db, err := store.Open(sc)
		if err != nil {
			return nil, err
		}
		r.db, r.ownDB = db, true
	}

	switch cfg.Cache {
	case "badger":
		r.cache = cache.NewBadger(r.db)
	default:
		r.cache = cache.NewMemory()
	}

	if r.factory == nil {
		r.factory = NewCommandFactory(cfg, r.cache, logger)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
			RunID:   r.runID,
			Targets: len(cfg.Targets),
		}, prometheus.NewRegistry())
	}
	if cf, ok := r.factory.(*CommandFactory); ok {
		cf.Executor().OnExit = func(res process.Result) {
			r.metrics.RecordCommand(commandKind(res.Source), res.ExitCode, res.Duration())
		}
	}
	return r, nil
}

// RunID returns the run identifier.
func (r *Runner) RunID() string {
	return r.runID
}

// Metrics returns the collector.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// Close releases the database if the Runner opened it.
func (r *Runner) Close() error {
	if r.ownDB && r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Run processes every target, at most cfg.Concurrency at a time, and
// writes the results file. Target failures do not stop siblings; they are
// reported together as ErrTargetsFailed. Cancelling ctx stops everything.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	r.logger.Info("batch_started",
		"run_id", r.runID,
		"targets", len(r.cfg.Targets),
		"concurrency", r.cfg.Concurrency,
	)

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	for i, t := range r.cfg.Targets {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := r.stagger.Wait(ctx, i); err != nil {
				break
			}
		}
		i, t := i, t
		g.Go(func() error {
			res := r.runTarget(ctx, i, t)
			r.record(res)
			return nil
		})
	}
	_ = g.Wait()

	report := r.report(start)
	if err := WriteResults(r.cfg.ResultsPath(), report); err != nil {
		return report, err
	}
	r.logger.Info("batch_finished",
		"run_id", r.runID,
		"succeeded", report.Succeeded(),
		"failed", len(report.Failed()),
		"duration", report.Duration.String(),
	)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if failed := report.Failed(); len(failed) > 0 {
		errs := make([]error, 0, len(failed)+1)
		errs = append(errs, ErrTargetsFailed)
		for _, f := range failed {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, f.Err))
		}
		return report, errors.Join(errs...)
	}
	return report, nil
}

func (r *Runner) record(res TargetResult) {
	r.mu.Lock()
	r.results[res.Name] = res
	r.mu.Unlock()

	status := "succeeded"
	if res.Err != nil {
		status = "failed"
	}
	r.metrics.TargetFinished(status)
	r.emit(Event{Target: res.Name, Kind: EventFinished, Err: res.Err})
}

// report orders results by target declaration. Targets never started
// (cancelled batch) are absent.
func (r *Runner) report(start time.Time) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := &Report{RunID: r.runID, Started: start, Duration: time.Since(start)}
	for _, t := range r.cfg.Targets {
		if res, ok := r.results[t.Name]; ok {
			rep.Targets = append(rep.Targets, res)
		}
	}
	return rep
}

func (r *Runner) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}
