// Package search implements a resumable iterative search for the best
// operating parameter (clock frequency or clock divider) an expensive
// external evaluation can sustain.
//
// Every step is written to a journal before control returns, so a killed
// process resumes from the log: a recorded best value is returned without
// probing, and an interrupted search continues from its last candidate.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randomizedcoder/go-decoder-bench/internal/journal"
)

// ErrSearchExhausted is returned when no candidate converged within the
// iteration budget.
var ErrSearchExhausted = errors.New("search exhausted")

// Config holds the search policy.
type Config struct {
	Objective Objective

	// Start is the first candidate: the maximum frequency, or the initial
	// divider.
	Start int

	// Limit bounds the candidates: the lowest acceptable frequency, or the
	// highest acceptable divider (0 = unbounded).
	Limit int

	MaxIteration      int
	ExtraDecrease     float64 // margin applied below a suggestion
	OnFailureDecrease float64 // step after a hard evaluation failure
	MinDecrease       float64 // minimum relative step per probe, 0 disables

	// Revalidate re-evaluates a best value found in the log. A value that
	// no longer holds rotates the log aside and restarts the search.
	Revalidate bool

	Backoff     BackoffConfig
	BackoffSeed int64
}

// DefaultConfig returns the default frequency search policy from start MHz.
func DefaultConfig(start int) Config {
	return Config{
		Objective:         MaximizeFrequency,
		Start:             start,
		Limit:             1,
		MaxIteration:      5,
		ExtraDecrease:     0.1,
		OnFailureDecrease: 0.3,
	}
}

// Validate checks the policy.
func (c Config) Validate() error {
	var errs []error
	if c.Start < 1 {
		errs = append(errs, fmt.Errorf("start must be at least 1 (got %d)", c.Start))
	}
	if c.MaxIteration < 1 {
		errs = append(errs, fmt.Errorf("max iteration must be at least 1 (got %d)", c.MaxIteration))
	}
	if c.ExtraDecrease < 0 || (c.Objective == MaximizeFrequency && c.ExtraDecrease >= 1) {
		errs = append(errs, fmt.Errorf("extra decrease out of range (got %g)", c.ExtraDecrease))
	}
	if c.OnFailureDecrease <= 0 || (c.Objective == MaximizeFrequency && c.OnFailureDecrease >= 1) {
		errs = append(errs, fmt.Errorf("on-failure decrease out of range (got %g)", c.OnFailureDecrease))
	}
	if c.MinDecrease < 0 || c.MinDecrease >= 1 {
		errs = append(errs, fmt.Errorf("min decrease out of range (got %g)", c.MinDecrease))
	}
	return errors.Join(errs...)
}

// Callbacks are optional hooks for observers such as metrics or the TUI.
type Callbacks struct {
	OnStateChange func(old, new State)
	OnProbe       func(iteration, candidate int)
	OnOutcome     func(iteration, candidate int, s Suggestion, err error)
}

// Result is the outcome of Run.
type Result struct {
	State      State
	Value      int  // best value, valid when State is StateConverged
	Probes     int  // evaluations made by this call
	Iterations int  // iteration counter reached
	Resumed    bool // best value taken from the log
}

// Engine runs one search against one journal. It is not safe for
// concurrent use; each configuration owns its own Engine and journal.
type Engine struct {
	cfg       Config
	eval      Evaluator
	journal   journal.Journal
	logger    *slog.Logger
	callbacks Callbacks
	backoff   *Backoff
	state     State
}

// New creates an Engine.
func New(cfg Config, eval Evaluator, j journal.Journal, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		eval:    eval,
		journal: j,
		logger:  logger.With("objective", cfg.Objective.String()),
		backoff: NewBackoff(cfg.BackoffSeed, cfg.Backoff),
		state:   StateInit,
	}, nil
}

// SetCallbacks installs observer hooks.
func (e *Engine) SetCallbacks(cb Callbacks) {
	e.callbacks = cb
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) setState(s State) {
	old := e.state
	e.state = s
	if old != s && e.callbacks.OnStateChange != nil {
		e.callbacks.OnStateChange(old, s)
	}
}

// session is the probing position reconstructed from the log.
type session struct {
	candidate int
	iteration int
	converged bool
	value     int
	resumed   bool
}

// Run executes the search until it converges or exhausts its budget.
// A failed search returns an error wrapping ErrSearchExhausted.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	e.state = StateInit

	records, err := e.journal.Replay(ctx)
	if err != nil {
		return Result{State: e.state}, fmt.Errorf("replay search log: %w", err)
	}

	if best, ok := journal.Best(records); ok {
		if !e.cfg.Revalidate {
			e.logger.Info("search_resumed_best", "value", best)
			e.setState(StateConverged)
			return Result{State: StateConverged, Value: best, Resumed: true}, nil
		}
		return e.revalidate(ctx, best)
	}

	s := e.reconstruct(records)
	res := Result{}
	if s.converged {
		// crashed between the optimal outcome and the marker
		return e.converge(ctx, s.value, &res)
	}
	if s.resumed {
		e.logger.Info("search_resumed", "candidate", s.candidate, "iteration", s.iteration)
	} else {
		e.logger.Info("search_started", "start", e.cfg.Start, "max_iteration", e.cfg.MaxIteration)
		if err := e.append(ctx, journal.Record{Kind: journal.KindStart}); err != nil {
			return Result{State: e.state}, err
		}
	}
	return e.probe(ctx, s, &res)
}

// revalidate evaluates a logged best value once. When the value no longer
// holds, the log is rotated aside before searching again, so the live log
// never carries more than one terminal record and the new result is what
// later runs resume from.
func (e *Engine) revalidate(ctx context.Context, best int) (Result, error) {
	res := Result{Probes: 1}
	e.logger.Info("search_revalidating", "value", best)
	if e.callbacks.OnProbe != nil {
		e.callbacks.OnProbe(0, best)
	}

	sug, evalErr := e.evaluate(ctx, best)
	if e.callbacks.OnOutcome != nil {
		e.callbacks.OnOutcome(0, best, sug, evalErr)
	}
	if evalErr != nil && ctx.Err() != nil {
		return res, ctx.Err()
	}

	var (
		seed int
		note journal.Record
	)
	switch {
	case evalErr != nil:
		e.logger.Warn("search_revalidation_failed", "value", best, "error", evalErr)
		note = journal.Record{Kind: journal.KindNote, Detail: fmt.Sprintf("revalidation of %d failed: %v", best, evalErr)}
		seed = e.cfg.Objective.scale(best, e.cfg.OnFailureDecrease)
	case !sug.Present || e.cfg.Objective.meets(sug.Value, best):
		if err := e.append(ctx, journal.Record{Kind: journal.KindRevalidated, Value: best}); err != nil {
			return res, err
		}
		e.logger.Info("search_revalidated", "value", best)
		e.setState(StateConverged)
		res.State, res.Value, res.Resumed = StateConverged, best, true
		return res, nil
	default:
		suggested := e.cfg.Objective.truncate(sug.Value)
		e.logger.Warn("search_best_stale", "value", best, "suggested", suggested)
		note = journal.Record{Kind: journal.KindStale, Value: suggested}
		_, seed = e.decide(best, sug)
	}

	if err := e.journal.Rotate(ctx); err != nil {
		return res, fmt.Errorf("rotate stale search log: %w", err)
	}
	if err := e.append(ctx, note); err != nil {
		return res, err
	}
	if err := e.append(ctx, journal.Record{Kind: journal.KindStart, Value: seed}); err != nil {
		return res, err
	}
	return e.probe(ctx, session{candidate: seed}, &res)
}

// reconstruct replays the records after the last start marker.
func (e *Engine) reconstruct(records []journal.Record) session {
	fresh := session{candidate: e.cfg.Start}

	start := -1
	for i, r := range records {
		if r.Kind == journal.KindStart {
			start = i
		}
	}
	if start < 0 {
		return fresh
	}

	s := session{candidate: e.cfg.Start, resumed: true}
	if v := records[start].Value; v != 0 {
		s.candidate = v
	}
	for _, r := range records[start+1:] {
		switch r.Kind {
		case journal.KindProbe:
			s.candidate, s.iteration = r.Value, r.Iteration
		case journal.KindSuggested:
			done, next := e.decide(s.candidate, Suggest(float64(r.Value)))
			if done {
				s.converged, s.value = true, s.candidate
			} else {
				s.candidate, s.iteration = next, r.Iteration+1
			}
		case journal.KindOptimal:
			s.converged, s.value = true, r.Value
		case journal.KindFailure:
			s.candidate = e.cfg.Objective.scale(s.candidate, e.cfg.OnFailureDecrease)
			s.iteration = r.Iteration + 1
		case journal.KindExhausted:
			return fresh
		}
	}
	return s
}

// decide applies one suggestion to a candidate. It returns done when no
// improvement is possible, otherwise the next candidate.
func (e *Engine) decide(candidate int, sug Suggestion) (bool, int) {
	if !sug.Present {
		return true, candidate
	}
	o := e.cfg.Objective
	if o.meets(sug.Value, candidate) {
		return true, candidate
	}
	next := o.scale(o.truncate(sug.Value), e.cfg.ExtraDecrease)
	if e.cfg.MinDecrease > 0 {
		next = o.tighter(next, o.scale(candidate, e.cfg.MinDecrease))
	}
	return false, next
}

// inBounds reports whether a candidate may still be probed.
func (e *Engine) inBounds(candidate int) bool {
	if candidate < 1 {
		return false
	}
	if e.cfg.Objective == MinimizeDivider {
		return e.cfg.Limit <= 0 || candidate <= e.cfg.Limit
	}
	return candidate >= e.cfg.Limit
}

// probe runs the PROBING loop from s.
func (e *Engine) probe(ctx context.Context, s session, res *Result) (Result, error) {
	e.setState(StateProbing)

	for s.iteration < e.cfg.MaxIteration && e.inBounds(s.candidate) {
		if err := ctx.Err(); err != nil {
			res.State, res.Iterations = e.state, s.iteration
			return *res, err
		}

		if err := e.append(ctx, journal.Record{Kind: journal.KindProbe, Iteration: s.iteration, Value: s.candidate}); err != nil {
			return *res, err
		}
		e.logger.Info("search_probe", "iteration", s.iteration, "candidate", s.candidate)
		if e.callbacks.OnProbe != nil {
			e.callbacks.OnProbe(s.iteration, s.candidate)
		}

		res.Probes++
		sug, evalErr := e.evaluate(ctx, s.candidate)
		if e.callbacks.OnOutcome != nil {
			e.callbacks.OnOutcome(s.iteration, s.candidate, sug, evalErr)
		}

		if evalErr != nil {
			if ctx.Err() != nil {
				res.State, res.Iterations = e.state, s.iteration
				return *res, ctx.Err()
			}
			if err := e.append(ctx, journal.Record{Kind: journal.KindFailure, Iteration: s.iteration, Detail: evalErr.Error()}); err != nil {
				return *res, err
			}
			next := e.cfg.Objective.scale(s.candidate, e.cfg.OnFailureDecrease)
			e.logger.Warn("search_evaluation_failed",
				"iteration", s.iteration,
				"candidate", s.candidate,
				"next", next,
				"error", evalErr,
			)
			s.candidate = next
			s.iteration++

			if delay := e.backoff.Next(); delay > 0 && s.iteration < e.cfg.MaxIteration {
				e.logger.Info("search_backoff", "delay", delay.String(), "attempts", e.backoff.Attempts())
				if err := sleepContext(ctx, delay); err != nil {
					res.State, res.Iterations = e.state, s.iteration
					return *res, err
				}
			}
			continue
		}
		e.backoff.Reset()

		if !sug.Present {
			if err := e.append(ctx, journal.Record{Kind: journal.KindOptimal, Iteration: s.iteration, Value: s.candidate}); err != nil {
				return *res, err
			}
			res.Iterations = s.iteration + 1
			return e.converge(ctx, s.candidate, res)
		}

		suggested := e.cfg.Objective.truncate(sug.Value)
		if err := e.append(ctx, journal.Record{Kind: journal.KindSuggested, Iteration: s.iteration, Value: suggested}); err != nil {
			return *res, err
		}
		done, next := e.decide(s.candidate, sug)
		e.logger.Info("search_suggested",
			"iteration", s.iteration,
			"candidate", s.candidate,
			"suggested", suggested,
			"converged", done,
		)
		if done {
			res.Iterations = s.iteration + 1
			return e.converge(ctx, s.candidate, res)
		}
		s.candidate = next
		s.iteration++
	}

	res.Iterations = s.iteration
	if err := e.append(ctx, journal.Record{Kind: journal.KindExhausted, Iteration: s.iteration}); err != nil {
		return *res, err
	}
	e.logger.Warn("search_exhausted", "iterations", s.iteration, "last_candidate", s.candidate)
	e.setState(StateFailed)
	res.State = StateFailed
	return *res, fmt.Errorf("%w after %d iterations (last candidate %d)", ErrSearchExhausted, s.iteration, s.candidate)
}

// converge writes the terminal marker.
func (e *Engine) converge(ctx context.Context, value int, res *Result) (Result, error) {
	if err := e.append(ctx, journal.Record{Kind: journal.KindBest, Value: value}); err != nil {
		return *res, err
	}
	e.logger.Info("search_converged", "value", value, "probes", res.Probes)
	e.setState(StateConverged)
	res.State, res.Value = StateConverged, value
	return *res, nil
}

// evaluate runs the evaluator and turns a NaN suggestion into a hard
// failure.
func (e *Engine) evaluate(ctx context.Context, candidate int) (Suggestion, error) {
	sug, err := e.eval.Evaluate(ctx, candidate)
	if err != nil {
		return sug, err
	}
	if err := sug.check(); err != nil {
		return Suggestion{}, err
	}
	return sug, nil
}

func (e *Engine) append(ctx context.Context, r journal.Record) error {
	if err := e.journal.Append(ctx, r); err != nil {
		return fmt.Errorf("append search log: %w", err)
	}
	return nil
}
