package batch

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/randomizedcoder/go-decoder-bench/internal/cache"
	"github.com/randomizedcoder/go-decoder-bench/internal/chunk"
	"github.com/randomizedcoder/go-decoder-bench/internal/config"
	"github.com/randomizedcoder/go-decoder-bench/internal/process"
	"github.com/randomizedcoder/go-decoder-bench/internal/search"
)

// RateEstimator estimates the logical error rate of a configuration.
type RateEstimator interface {
	Estimate(ctx context.Context, name string, d int, p float64) (float64, error)
}

// Factory builds the per-target collaborators.
type Factory interface {
	Evaluator(t config.Target, dir string, s config.SearchConfig, obj search.Objective) search.Evaluator
	ChunkRunner(t config.Target, dir string) chunk.Runner
	Estimator() RateEstimator
}

// CommandFactory builds collaborators that run the configured command
// templates.
type CommandFactory struct {
	cfg       *config.Config
	exec      *process.Executor
	estimator *process.Estimator
}

// NewCommandFactory creates a CommandFactory. Estimates and completed
// prepare steps are kept in c.
func NewCommandFactory(cfg *config.Config, c cache.Cache, logger *slog.Logger) *CommandFactory {
	exec := process.NewExecutor(logger, cfg.Verbose)
	return &CommandFactory{
		cfg:       cfg,
		exec:      exec,
		estimator: process.NewEstimator(cfg.Commands.Estimate, cfg.Commands.Prepare, exec, c),
	}
}

// Executor returns the shared executor, e.g. to observe command exits.
func (f *CommandFactory) Executor() *process.Executor {
	return f.exec
}

// Evaluator implements Factory.
func (f *CommandFactory) Evaluator(t config.Target, dir string, s config.SearchConfig, obj search.Objective) search.Evaluator {
	return process.NewCommandEvaluator(process.EvaluatorConfig{
		Name:          t.Name,
		Dir:           dir,
		Command:       f.cfg.Commands.Evaluate,
		Objective:     obj,
		BaseFrequency: s.BaseFrequency,
	}, f.exec)
}

// ChunkRunner implements Factory.
func (f *CommandFactory) ChunkRunner(t config.Target, dir string) chunk.Runner {
	return process.NewCommandChunkRunner(t.Name, dir, f.cfg.Commands.Chunk, f.exec)
}

// Estimator implements Factory.
func (f *CommandFactory) Estimator() RateEstimator {
	return f.estimator
}

// commandKind maps an executor source such as "d9/chunk-3" to a metric
// label such as "chunk".
func commandKind(source string) string {
	kind, _, _ := strings.Cut(path.Base(source), "-")
	return kind
}
