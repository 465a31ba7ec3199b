package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-decoder-bench/internal/search"
	"github.com/randomizedcoder/go-decoder-bench/internal/timing"
)

// ErrNoDirective is returned when an evaluation command printed no
// recognised result line.
var ErrNoDirective = errors.New("evaluation printed no result directive")

// directive is one result line printed by an evaluation command:
//
//	optimal
//	suggested <value>
//	wns <ns>
//	report <path>
type directive struct {
	kind  string
	value float64
	path  string
}

// parseDirectives returns the last directive in out.
func parseDirectives(out string) (directive, error) {
	var last directive
	found := false
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "optimal":
			if len(fields) == 1 {
				last, found = directive{kind: "optimal"}, true
			}
		case "suggested", "wns":
			if len(fields) != 2 {
				continue
			}
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return directive{}, fmt.Errorf("bad %s value %q: %w", fields[0], fields[1], err)
			}
			// an infinite suggestion means no limit; wns must be finite
			if math.IsNaN(v) || (fields[0] == "wns" && math.IsInf(v, 0)) {
				return directive{}, fmt.Errorf("bad %s value %q: not a finite number", fields[0], fields[1])
			}
			last, found = directive{kind: fields[0], value: v}, true
		case "report":
			if len(fields) == 2 {
				last, found = directive{kind: "report", path: fields[1]}, true
			}
		}
	}
	if !found {
		return directive{}, ErrNoDirective
	}
	return last, nil
}

// EvaluatorConfig configures a CommandEvaluator.
type EvaluatorConfig struct {
	Name      string
	Dir       string
	Command   Command
	Objective search.Objective

	// BaseFrequency is the fast clock (MHz) divided by the candidate when
	// searching a clock divider.
	BaseFrequency float64
}

// CommandEvaluator evaluates a candidate by running a command with
// {candidate}, {name} and {dir} substituted, then reading the result
// directive from its stdout.
type CommandEvaluator struct {
	cfg  EvaluatorConfig
	exec *Executor
}

// NewCommandEvaluator creates a CommandEvaluator.
func NewCommandEvaluator(cfg EvaluatorConfig, exec *Executor) *CommandEvaluator {
	return &CommandEvaluator{cfg: cfg, exec: exec}
}

// Evaluate implements search.Evaluator.
func (e *CommandEvaluator) Evaluate(ctx context.Context, candidate int) (search.Suggestion, error) {
	vars := Vars{
		"candidate": strconv.Itoa(candidate),
		"name":      e.cfg.Name,
		"dir":       e.cfg.Dir,
	}
	res, err := e.exec.Run(ctx, e.cfg.Name+"/evaluate", e.cfg.Command, vars)
	if err != nil {
		return search.Suggestion{}, err
	}

	d, err := parseDirectives(res.Stdout)
	if err != nil {
		return search.Suggestion{}, fmt.Errorf("%s: %w", e.cfg.Name, err)
	}

	switch d.kind {
	case "optimal":
		return search.Optimal(), nil
	case "suggested":
		return search.Suggest(d.value), nil
	case "wns":
		return e.fromSummary(candidate, timing.Summary{WNS: d.value})
	default:
		path := d.path
		if !filepath.IsAbs(path) && e.cfg.Dir != "" {
			path = filepath.Join(e.cfg.Dir, path)
		}
		s, err := timing.ReadSummary(path)
		if err != nil {
			return search.Suggestion{}, err
		}
		return e.fromSummary(candidate, s)
	}
}

func (e *CommandEvaluator) fromSummary(candidate int, s timing.Summary) (search.Suggestion, error) {
	if e.cfg.Objective == search.MinimizeDivider {
		if e.cfg.BaseFrequency <= 0 {
			return search.Suggestion{}, errors.New("divider search needs a base frequency")
		}
		v, ok := timing.SuggestDivider(e.cfg.BaseFrequency, candidate, s)
		if !ok {
			return search.Optimal(), nil
		}
		return search.Suggest(v), nil
	}
	v, ok := timing.SuggestFrequency(float64(candidate), s)
	if !ok {
		return search.Optimal(), nil
	}
	return search.Suggest(float64(v)), nil
}
