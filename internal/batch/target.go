package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/randomizedcoder/go-decoder-bench/internal/analytics"
	"github.com/randomizedcoder/go-decoder-bench/internal/chunk"
	"github.com/randomizedcoder/go-decoder-bench/internal/config"
	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
	"github.com/randomizedcoder/go-decoder-bench/internal/journal"
	"github.com/randomizedcoder/go-decoder-bench/internal/search"
	"github.com/randomizedcoder/go-decoder-bench/internal/timing"
)

// Stage is a step of the per-target pipeline.
type Stage string

const (
	StageSearch   Stage = "search"
	StageBudget   Stage = "budget"
	StageLatency  Stage = "latency"
	StageAnalysis Stage = "analysis"
	StageDone     Stage = "done"
)

// SearchLogName is the file name of a target's search log inside its
// directory when the file journal is used.
const SearchLogName = "search.log"

// TargetResult is the outcome of one target.
type TargetResult struct {
	Name  string
	Stage Stage // stage reached; the failing stage when Err is set

	Searched bool
	Search   search.Result

	ErrorRate float64 // estimated logical error rate, 0 when samples were fixed
	Samples   int64
	Chunks    chunk.Stats
	Summary   *analytics.Summary

	Err      error
	Duration time.Duration
}

// runTarget runs the pipeline of t. It never panics on collaborator
// failures; the failure is returned in the result.
func (r *Runner) runTarget(ctx context.Context, idx int, t config.Target) (res TargetResult) {
	start := time.Now()
	res = TargetResult{Name: t.Name}
	logger := r.logger.With("target", t.Name)
	defer func() {
		res.Duration = time.Since(start)
		if res.Err != nil {
			logger.Error("target_failed", "stage", res.Stage, "error", res.Err)
		} else {
			logger.Info("target_finished", "duration", res.Duration.String())
		}
	}()

	dir := r.cfg.TargetDir(t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.Err = fmt.Errorf("creating target directory: %w", err)
		return res
	}

	steps := []struct {
		stage Stage
		skip  bool
		run   func() error
	}{
		{StageSearch, t.SkipSearch, func() error { return r.search(ctx, idx, t, dir, logger, &res) }},
		{StageBudget, t.SkipLatency, func() error { return r.budget(ctx, t, logger, &res) }},
		{StageLatency, t.SkipLatency, func() error { return r.latency(ctx, t, dir, logger, &res) }},
	}
	for _, s := range steps {
		if s.skip {
			continue
		}
		res.Stage = s.stage
		r.emit(Event{Target: t.Name, Kind: EventStage, Stage: s.stage})
		if err := s.run(); err != nil {
			res.Err = fmt.Errorf("%s: %w", res.Stage, err)
			return res
		}
	}
	res.Stage = StageDone
	return res
}

// search runs the frequency or divider search of t against its log.
func (r *Runner) search(ctx context.Context, idx int, t config.Target, dir string, logger *slog.Logger, res *TargetResult) error {
	s := r.cfg.ResolveSearch(t)
	obj, err := search.ParseObjective(s.Objective)
	if err != nil {
		return err
	}

	start := s.Start
	if start == 0 {
		if obj == search.MaximizeFrequency {
			if start, err = timing.HeuristicFrequency(t.Distance); err != nil {
				return err
			}
			logger.Info("search_heuristic_start", "distance", t.Distance, "start", start)
		} else {
			start = 1
		}
	}

	j, err := r.openJournal(t, dir, obj)
	if err != nil {
		return err
	}
	defer j.Close()

	cfg := search.Config{
		Objective:         obj,
		Start:             start,
		Limit:             s.Limit,
		MaxIteration:      s.MaxIteration,
		ExtraDecrease:     s.ExtraDecrease,
		OnFailureDecrease: s.OnFailureDecrease,
		MinDecrease:       s.MinDecrease,
		Revalidate:        s.Revalidate,
		Backoff: search.BackoffConfig{
			Initial:    s.RetryInitial,
			Max:        s.RetryMax,
			Multiplier: s.RetryMultiply,
			JitterPct:  s.RetryJitter,
		},
		BackoffSeed: r.seed + int64(idx),
	}
	eng, err := search.New(cfg, r.factory.Evaluator(t, dir, s, obj), j, logger)
	if err != nil {
		return err
	}
	eng.SetCallbacks(search.Callbacks{
		OnStateChange: func(_, state search.State) {
			r.metrics.SetSearchState(t.Name, state)
			r.emit(Event{Target: t.Name, Kind: EventState, State: state})
		},
		OnProbe: func(iteration, candidate int) {
			r.metrics.RecordProbe(t.Name, candidate)
			r.emit(Event{Target: t.Name, Kind: EventProbe, Iteration: iteration, Value: candidate})
		},
		OnOutcome: func(iteration, candidate int, sug search.Suggestion, err error) {
			r.metrics.RecordOutcome(t.Name, sug, err)
			r.emit(Event{Target: t.Name, Kind: EventOutcome, Iteration: iteration, Value: candidate, Suggestion: sug, Err: err})
		},
	})

	result, err := eng.Run(ctx)
	res.Searched, res.Search = true, result
	if err != nil {
		return err
	}
	r.metrics.SetBest(t.Name, result.Value)
	r.emit(Event{Target: t.Name, Kind: EventBest, Value: result.Value})
	return nil
}

func (r *Runner) openJournal(t config.Target, dir string, obj search.Objective) (journal.Journal, error) {
	vocab := journal.NewVocabulary(obj.Subject())
	if r.cfg.Journal == "badger" {
		return journal.NewBadgerJournal(r.db, t.Name, vocab)
	}
	return journal.NewFileJournal(filepath.Join(dir, SearchLogName), vocab), nil
}

// budget fixes the sample count, from the target or from the estimated
// logical error rate.
func (r *Runner) budget(ctx context.Context, t config.Target, logger *slog.Logger, res *TargetResult) error {
	if t.Samples > 0 {
		res.Samples = t.Samples
		r.metrics.RecordBudget(t.Name, 0, res.Samples)
		return nil
	}

	pL, err := r.factory.Estimator().Estimate(ctx, t.Name, t.Distance, t.ErrorRate)
	if err != nil {
		return err
	}
	b := analytics.SampleBudget{
		AccumulateErrors: r.cfg.Budget.AccumulateErrors,
		MinSamples:       r.cfg.Budget.MinSamples,
		MaxSamples:       r.cfg.Budget.MaxSamples,
	}
	res.ErrorRate, res.Samples = pL, b.Samples(pL)
	logger.Info("sample_budget", "logical_error_rate", pL, "samples", res.Samples)
	r.metrics.RecordBudget(t.Name, pL, res.Samples)
	r.emit(Event{Target: t.Name, Kind: EventBudget, Samples: res.Samples})
	return nil
}

// latency runs and merges the latency chunks, then analyses the merged
// histogram.
func (r *Runner) latency(ctx context.Context, t config.Target, dir string, logger *slog.Logger, res *TargetResult) error {
	retention, err := chunk.ParseRetention(r.cfg.Chunk.Retention)
	if err != nil {
		return err
	}
	agg, err := chunk.New(chunk.Config{
		Dir:          dir,
		Name:         t.Name,
		TotalSamples: res.Samples,
		MaxChunkSize: r.cfg.Chunk.MaxSize,
		Label:        r.cfg.Chunk.Label,
		Retention:    retention,
		VerifyMass:   r.cfg.Chunk.VerifyMass,
	}, r.factory.ChunkRunner(t, dir), logger)
	if err != nil {
		return err
	}
	planned, err := agg.Chunks()
	if err != nil {
		return err
	}
	agg.OnChunk(func(c chunk.Chunk, o chunk.Outcome) {
		r.metrics.RecordChunk(t.Name, string(o))
		r.emit(Event{Target: t.Name, Kind: EventChunk, Chunk: c.Index, Chunks: len(planned), Outcome: string(o)})
	})

	h, err := agg.Aggregate(ctx)
	res.Chunks = agg.Stats()
	if err != nil {
		return err
	}
	r.metrics.RecordAggregation(t.Name, h.TotalMass())

	want := histogram.Shape{Lower: r.cfg.Histogram.Lower, Upper: r.cfg.Histogram.Upper, Buckets: r.cfg.Histogram.Buckets}
	if !h.Shape().Compatible(want) {
		logger.Warn("histogram_shape_mismatch", "configured", want.String(), "merged", h.Shape().String())
	}

	res.Stage = StageAnalysis
	summary, err := analytics.Summarize(h, r.summaryOptions())
	if err != nil {
		return err
	}
	res.Summary = &summary
	for _, w := range summary.Warnings {
		logger.Warn("histogram_warning", "warning", w)
	}

	var cutoff float64
	if summary.Cutoff != nil {
		cutoff = summary.Cutoff.Latency
	} else {
		logger.Warn("cutoff_unavailable", "error", summary.CutoffErr)
	}
	r.metrics.RecordLatency(t.Name, summary.Average, cutoff, summary.FitCutoff)
	r.metrics.Histograms().Set(t.Name, h)
	r.emit(Event{Target: t.Name, Kind: EventAnalyzed, Samples: int64(summary.TotalMass), Latency: summary.Average, Cutoff: cutoff})
	return nil
}

func (r *Runner) summaryOptions() analytics.SummaryOptions {
	return SummaryOptions(r.cfg)
}

// SummaryOptions derives the analysis options from cfg.
func SummaryOptions(cfg *config.Config) analytics.SummaryOptions {
	return analytics.SummaryOptions{
		TargetProbability: cfg.Analysis.TargetProbability,
		FitRange:          analytics.FitRange{Min: cfg.Analysis.FitMin, Max: cfg.Analysis.FitMax},
		CombineBins:       cfg.Analysis.CombineBins,
	}
}
