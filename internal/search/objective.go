package search

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Objective selects the direction of the search.
type Objective int

const (
	// MaximizeFrequency searches downward from a maximum clock frequency
	// (MHz) for the highest value that meets timing.
	MaximizeFrequency Objective = iota

	// MinimizeDivider searches upward from an initial clock divider for
	// the smallest value that meets timing.
	MinimizeDivider
)

// String returns the objective name used in configuration.
func (o Objective) String() string {
	switch o {
	case MaximizeFrequency:
		return "frequency"
	case MinimizeDivider:
		return "divider"
	default:
		return "unknown"
	}
}

// Subject is the parameter name written into the search log.
func (o Objective) Subject() string {
	if o == MinimizeDivider {
		return "clock divide by"
	}
	return "frequency"
}

// ParseObjective converts a configuration string to an Objective.
func ParseObjective(s string) (Objective, error) {
	switch s {
	case "", "frequency":
		return MaximizeFrequency, nil
	case "divider":
		return MinimizeDivider, nil
	default:
		return 0, fmt.Errorf("unknown search objective %q (want frequency or divider)", s)
	}
}

// Suggestion is an evaluator's answer for one candidate. An absent value
// means the candidate is already optimal.
type Suggestion struct {
	Value   float64
	Present bool
}

// Optimal reports that no better value is achievable.
func Optimal() Suggestion {
	return Suggestion{}
}

// Suggest reports the evaluator's own estimate of an achievable value.
func Suggest(v float64) Suggestion {
	return Suggestion{Value: v, Present: true}
}

// ErrInvalidSuggestion is returned for a suggestion that is not a number.
// The engine treats it as a hard evaluation failure.
var ErrInvalidSuggestion = errors.New("invalid suggestion")

// check rejects a NaN suggestion.
func (s Suggestion) check() error {
	if s.Present && math.IsNaN(s.Value) {
		return fmt.Errorf("%w: %v", ErrInvalidSuggestion, s.Value)
	}
	return nil
}

// Evaluator runs the expensive external evaluation of a candidate. An
// error is a hard failure of the evaluation itself.
type Evaluator interface {
	Evaluate(ctx context.Context, candidate int) (Suggestion, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, candidate int) (Suggestion, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, candidate int) (Suggestion, error) {
	return f(ctx, candidate)
}

// maxCandidate bounds every candidate so float conversions cannot overflow.
const maxCandidate = math.MaxInt32

// clampCandidate converts v to an int within [0, maxCandidate].
func clampCandidate(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= maxCandidate {
		return maxCandidate
	}
	return int(v)
}

// truncate converts a suggested value to an integer towards the safe side:
// down for frequencies, up for dividers.
func (o Objective) truncate(v float64) int {
	if o == MinimizeDivider {
		return clampCandidate(math.Ceil(v))
	}
	return clampCandidate(math.Floor(v))
}

// meets reports whether a suggestion shows no improvement over the
// candidate is possible. It compares before truncation, so +Inf or any
// value beyond the int range still settles a frequency search.
func (o Objective) meets(suggested float64, candidate int) bool {
	if o == MinimizeDivider {
		return suggested <= float64(candidate)
	}
	return suggested >= float64(candidate)
}

// scale moves v away from the unsafe side by fraction f and truncates.
func (o Objective) scale(v int, f float64) int {
	if o == MinimizeDivider {
		return clampCandidate(math.Ceil((1 + f) * float64(v)))
	}
	return clampCandidate(math.Floor((1 - f) * float64(v)))
}

// tighter returns whichever of a and b is further on the safe side.
func (o Objective) tighter(a, b int) int {
	if o == MinimizeDivider {
		return max(a, b)
	}
	return min(a, b)
}
