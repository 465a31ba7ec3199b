package batch

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/randomizedcoder/go-decoder-bench/internal/search"
)

// Report is the outcome of a batch.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Targets  []TargetResult
}

// Succeeded returns the number of targets without error.
func (r *Report) Succeeded() int {
	n := 0
	for _, t := range r.Targets {
		if t.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the targets that failed.
func (r *Report) Failed() []TargetResult {
	var out []TargetResult
	for _, t := range r.Targets {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

// WriteResults writes the results file: a "# <name> <best>" line for every
// converged search followed by one summary line per target. The file is
// replaced atomically.
func WriteResults(path string, rep *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# run %s %s\n", rep.RunID, rep.Started.UTC().Format(time.RFC3339))

	for _, t := range rep.Targets {
		if t.Searched && t.Search.State == search.StateConverged {
			fmt.Fprintf(&b, "# %s %d\n", t.Name, t.Search.Value)
		}
	}
	for _, t := range rep.Targets {
		b.WriteString(summaryLine(t))
		b.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

func summaryLine(t TargetResult) string {
	fields := []string{t.Name, "stage=" + string(t.Stage)}
	if t.Searched {
		fields = append(fields,
			"search="+t.Search.State.String(),
			"best="+strconv.Itoa(t.Search.Value),
			"probes="+strconv.Itoa(t.Search.Probes),
		)
	}
	if t.ErrorRate > 0 {
		fields = append(fields, "logical_error_rate="+formatFloat(t.ErrorRate))
	}
	if t.Samples > 0 {
		fields = append(fields, "samples="+strconv.FormatInt(t.Samples, 10))
	}
	if s := t.Summary; s != nil {
		fields = append(fields, "average="+formatFloat(s.Average))
		if s.Cutoff != nil {
			fields = append(fields, "cutoff="+formatFloat(s.Cutoff.Latency))
		}
		if s.FitCutoff > 0 {
			fields = append(fields, "fit_cutoff="+formatFloat(s.FitCutoff))
		}
	}
	if t.Err != nil {
		fields = append(fields, "error="+strconv.Quote(t.Err.Error()))
	}
	return strings.Join(fields, " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'e', 3, 64)
}

// ReadBest parses the "# <name> <best>" lines of a results file. Later
// lines for the same name win.
func ReadBest(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	best := make(map[string]int)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 || fields[0] != "#" {
			continue
		}
		v, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		best[fields[1]] = v
	}
	return best, scanner.Err()
}
