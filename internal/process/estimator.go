package process

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-decoder-bench/internal/cache"
)

// SimulationResult is the summary line printed by the error rate simulator:
//
//	<p> <d> <...> <total_rounds> <error_count> <error_rate> <...> <confidence_interval>
type SimulationResult struct {
	TotalRounds        int64
	ErrorCount         int64
	ErrorRate          float64
	ConfidenceInterval float64
}

// ParseSimulationResult reads the last non-empty line of out.
func ParseSimulationResult(out string) (SimulationResult, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	fields := strings.Fields(last)
	if len(fields) < 8 {
		return SimulationResult{}, fmt.Errorf("simulation result %q: want at least 8 fields, got %d", last, len(fields))
	}

	var r SimulationResult
	var err error
	if r.TotalRounds, err = strconv.ParseInt(fields[3], 10, 64); err != nil {
		return SimulationResult{}, fmt.Errorf("simulation result total rounds: %w", err)
	}
	if r.ErrorCount, err = strconv.ParseInt(fields[4], 10, 64); err != nil {
		return SimulationResult{}, fmt.Errorf("simulation result error count: %w", err)
	}
	if r.ErrorRate, err = strconv.ParseFloat(fields[5], 64); err != nil {
		return SimulationResult{}, fmt.Errorf("simulation result error rate: %w", err)
	}
	if r.ConfidenceInterval, err = strconv.ParseFloat(fields[7], 64); err != nil {
		return SimulationResult{}, fmt.Errorf("simulation result confidence: %w", err)
	}
	return r, nil
}

// Estimator estimates the logical error rate of a configuration with a
// simulation command ({d}, {p}, {name} substituted). Results and completed
// prepare steps are kept in a cache, so each runs once per key.
type Estimator struct {
	Command Command
	Prepare Command

	exec   *Executor
	loader *cache.Loader
}

// NewEstimator creates an Estimator backed by c.
func NewEstimator(cmd, prepare Command, exec *Executor, c cache.Cache) *Estimator {
	return &Estimator{Command: cmd, Prepare: prepare, exec: exec, loader: cache.NewLoader(c)}
}

// PrepareOnce runs the prepare command for name unless it already
// completed. It is a no-op when no prepare command is configured.
func (e *Estimator) PrepareOnce(ctx context.Context, name string, vars Vars) error {
	if e.Prepare.IsZero() {
		return nil
	}
	_, hit, err := e.loader.Load(ctx, cache.BuildKey(name), func(ctx context.Context) (float64, error) {
		if _, err := e.exec.Run(ctx, name+"/prepare", e.Prepare, vars); err != nil {
			return 0, err
		}
		return 1, nil
	})
	if hit {
		e.exec.logger.Debug("prepare_cached", "name", name)
	}
	return err
}

// Estimate returns the logical error rate for code distance d and physical
// error rate p.
func (e *Estimator) Estimate(ctx context.Context, name string, d int, p float64) (float64, error) {
	vars := Vars{
		"d":    strconv.Itoa(d),
		"p":    strconv.FormatFloat(p, 'g', -1, 64),
		"name": name,
	}
	if err := e.PrepareOnce(ctx, name, vars); err != nil {
		return 0, fmt.Errorf("prepare %s: %w", name, err)
	}

	key := cache.EstimateKey(d, p)
	rate, hit, err := e.loader.Load(ctx, key, func(ctx context.Context) (float64, error) {
		res, err := e.exec.Run(ctx, name+"/estimate", e.Command, vars)
		if err != nil {
			return 0, err
		}
		sim, err := ParseSimulationResult(res.Stdout)
		if err != nil {
			return 0, err
		}
		if sim.ErrorRate <= 0 {
			return 0, fmt.Errorf("simulation of %s observed no logical errors in %d rounds", key, sim.TotalRounds)
		}
		return sim.ErrorRate, nil
	})
	if err != nil {
		return 0, err
	}
	e.exec.logger.Info("logical_error_rate", "name", name, "key", key, "rate", rate, "cached", hit)
	return rate, nil
}
