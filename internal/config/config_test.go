package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/randomizedcoder/go-decoder-bench/internal/process"
)

const sampleYAML = `
work_dir: /tmp/bench
journal: badger
concurrency: 2
histogram:
  buckets: 1000
search:
  max_iteration: 8
  retry_initial: 30s
  retry_max: 10m
chunk:
  max_size: 1000000
  retention: compress
commands:
  evaluate:
    args: [make, -C, "{dir}", "FREQ={candidate}"]
    timeout: 4h
  chunk:
    args: [./bench, "{length}", "{output}"]
  estimate:
    args: [./simulate, "{d}", "{p}"]
targets:
  - name: d9
    distance: 9
    p: 0.001
  - name: d11-div
    distance: 11
    p: 0.001
    objective: divider
    start: 2
    base_frequency: 250
    samples: 5000000
`

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Commands = CommandsConfig{
		Evaluate: process.Command{Args: []string{"eval", "{candidate}"}},
		Chunk:    process.Command{Args: []string{"bench", "{length}"}},
		Estimate: process.Command{Args: []string{"simulate"}},
	}
	cfg.Targets = []Target{{Name: "d5", Distance: 5, ErrorRate: 0.001}}
	return cfg
}

// =============================================================================
// Tests: Defaults and Loading
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Histogram != (HistogramConfig{Lower: 1e-9, Upper: 1.0, Buckets: 2000}) {
		t.Errorf("Histogram = %+v", cfg.Histogram)
	}
	if cfg.Search.MaxIteration != 5 || cfg.Search.ExtraDecrease != 0.1 || cfg.Search.OnFailureDecrease != 0.3 {
		t.Errorf("Search = %+v", cfg.Search)
	}
	if cfg.Budget.AccumulateErrors != 1000 || cfg.Budget.MinSamples != 10_000 || cfg.Budget.MaxSamples != 10_000_000_000 {
		t.Errorf("Budget = %+v", cfg.Budget)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("DefaultConfig does not validate: %v", err)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.WorkDir != "/tmp/bench" || cfg.Journal != "badger" || cfg.Concurrency != 2 {
		t.Errorf("workspace fields = %q %q %d", cfg.WorkDir, cfg.Journal, cfg.Concurrency)
	}
	// Unset nested fields keep their defaults.
	if cfg.Histogram.Buckets != 1000 || cfg.Histogram.Lower != 1e-9 {
		t.Errorf("Histogram = %+v", cfg.Histogram)
	}
	if cfg.Search.MaxIteration != 8 || cfg.Search.ExtraDecrease != 0.1 {
		t.Errorf("Search = %+v", cfg.Search)
	}
	if cfg.Search.RetryInitial != 30*time.Second || cfg.Search.RetryMax != 10*time.Minute {
		t.Errorf("retry = %v / %v", cfg.Search.RetryInitial, cfg.Search.RetryMax)
	}
	if cfg.Commands.Evaluate.Timeout != 4*time.Hour {
		t.Errorf("evaluate timeout = %v", cfg.Commands.Evaluate.Timeout)
	}
	if got := strings.Join(cfg.Commands.Evaluate.Args, " "); got != "make -C {dir} FREQ={candidate}" {
		t.Errorf("evaluate args = %q", got)
	}
	if len(cfg.Targets) != 2 || cfg.Targets[1].BaseFrequency != 250 || cfg.Targets[1].Samples != 5_000_000 {
		t.Errorf("Targets = %+v", cfg.Targets)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("sample config does not validate: %v", err)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "work_dirr: x\n"},
		{"unknown nested key", "search:\n  max_iterations: 3\n"},
		{"bad duration", "search:\n  retry_initial: soon\n"},
		{"wrong type", "concurrency: many\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if cfg.Concurrency != DefaultConfig().Concurrency {
		t.Error("empty document should yield defaults")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Targets) != 2 {
		t.Errorf("Targets = %d, want 2", len(cfg.Targets))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestLoadWithFlags_FlagsWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterRunFlags(fs, cfg)
	if err := fs.Parse([]string{"--concurrency", "6", "--retention", "delete"}); err != nil {
		t.Fatal(err)
	}

	if err := LoadWithFlags(cfg, path, fs); err != nil {
		t.Fatalf("LoadWithFlags: %v", err)
	}

	if cfg.Concurrency != 6 {
		t.Errorf("Concurrency = %d, want flag value 6", cfg.Concurrency)
	}
	if cfg.Chunk.Retention != "delete" {
		t.Errorf("Retention = %q, want flag value delete", cfg.Chunk.Retention)
	}
	if cfg.Journal != "badger" {
		t.Errorf("Journal = %q, want file value badger", cfg.Journal)
	}
	if cfg.Chunk.MaxSize != 1_000_000 {
		t.Errorf("MaxSize = %d, want file value", cfg.Chunk.MaxSize)
	}
}

// =============================================================================
// Tests: Derived values
// =============================================================================

func TestResolveSearch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.Start = 300

	base := cfg.ResolveSearch(Target{Name: "a"})
	if base.Start != 300 || base.Objective != "frequency" {
		t.Errorf("no overrides = %+v", base)
	}

	got := cfg.ResolveSearch(Target{Name: "b", Objective: "divider", Start: 2, Limit: 8, BaseFrequency: 250})
	if got.Objective != "divider" || got.Start != 2 || got.Limit != 8 || got.BaseFrequency != 250 {
		t.Errorf("overrides = %+v", got)
	}
	if got.MaxIteration != cfg.Search.MaxIteration {
		t.Error("non-overridable fields should be inherited")
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkDir = "/w"

	if got := cfg.StatePath(); got != "/w/.state" {
		t.Errorf("StatePath = %q", got)
	}
	cfg.StateDir = "/state"
	if got := cfg.StatePath(); got != "/state" {
		t.Errorf("StatePath = %q", got)
	}
	if got := cfg.ResultsPath(); got != "/w/results.txt" {
		t.Errorf("ResultsPath = %q", got)
	}
	cfg.ResultsFile = "/abs/out.txt"
	if got := cfg.ResultsPath(); got != "/abs/out.txt" {
		t.Errorf("ResultsPath = %q", got)
	}
	if got := cfg.TargetDir(Target{Name: "d9"}); got != "/w/d9" {
		t.Errorf("TargetDir = %q", got)
	}
	if cfg.NeedsStore() {
		t.Error("default backends should not need a store")
	}
	cfg.Cache = "badger"
	if !cfg.NeedsStore() {
		t.Error("badger cache needs a store")
	}
}

// =============================================================================
// Tests: Validate
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty work dir", func(c *Config) { c.WorkDir = "" }, "work_dir"},
		{"unknown journal", func(c *Config) { c.Journal = "sqlite" }, "journal"},
		{"unknown cache", func(c *Config) { c.Cache = "redis" }, "cache"},
		{"zero lower", func(c *Config) { c.Histogram.Lower = 0 }, "histogram.lower"},
		{"upper below lower", func(c *Config) { c.Histogram.Upper = 1e-10 }, "histogram.upper"},
		{"no buckets", func(c *Config) { c.Histogram.Buckets = 0 }, "histogram.buckets"},
		{"bad objective", func(c *Config) { c.Search.Objective = "area" }, "search.objective"},
		{"divider without base", func(c *Config) { c.Search.Objective = "divider" }, "search.base_frequency"},
		{"no iterations", func(c *Config) { c.Search.MaxIteration = 0 }, "search.max_iteration"},
		{"extra decrease 1", func(c *Config) { c.Search.ExtraDecrease = 1 }, "search.extra_decrease"},
		{"failure decrease 0", func(c *Config) { c.Search.OnFailureDecrease = 0 }, "search.on_failure_decrease"},
		{"min decrease 1", func(c *Config) { c.Search.MinDecrease = 1 }, "search.min_decrease"},
		{"retry max too small", func(c *Config) {
			c.Search.RetryInitial = time.Minute
			c.Search.RetryMax = time.Second
		}, "search.retry_max"},
		{"zero chunk", func(c *Config) { c.Chunk.MaxSize = 0 }, "chunk.max_size"},
		{"bad retention", func(c *Config) { c.Chunk.Retention = "archive" }, "chunk.retention"},
		{"max below min", func(c *Config) { c.Budget.MaxSamples = 10 }, "budget.max_samples"},
		{"probability 1", func(c *Config) { c.Analysis.TargetProbability = 1 }, "analysis.target_probability"},
		{"fit range inverted", func(c *Config) { c.Analysis.FitMin = 1e-3 }, "analysis.fit_min"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad target name", func(c *Config) { c.Targets[0].Name = "../d5" }, "targets[0]"},
		{"duplicate target", func(c *Config) { c.Targets = append(c.Targets, c.Targets[0]) }, "targets[1]"},
		{"zero distance", func(c *Config) { c.Targets[0].Distance = 0 }, "targets[0]"},
		{"p out of range", func(c *Config) { c.Targets[0].ErrorRate = 1.5 }, "targets[0]"},
		{"search without evaluate", func(c *Config) { c.Commands.Evaluate = process.Command{} }, "targets[0]"},
		{"latency without chunk", func(c *Config) { c.Commands.Chunk = process.Command{} }, "targets[0]"},
		{"budget without estimate", func(c *Config) { c.Commands.Estimate = process.Command{} }, "targets[0]"},
		{"target divider without base", func(c *Config) { c.Targets[0].Objective = "divider" }, "targets[0].base_frequency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := Validate(cfg)

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error for field %s", tt.wantField)
			}
			if !hasField(err, tt.wantField) {
				t.Errorf("error %q does not name field %s", err, tt.wantField)
			}
		})
	}
}

func TestValidate_SkippedStagesNeedNoCommands(t *testing.T) {
	cfg := validConfig()
	cfg.Commands = CommandsConfig{}
	cfg.Targets[0].SkipSearch = true
	cfg.Targets[0].SkipLatency = true

	if err := Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Concurrency = 0
	cfg.LogFormat = "xml"
	cfg.Chunk.MaxSize = 0

	err := Validate(cfg)
	for _, field := range []string{"concurrency", "log_format", "chunk.max_size"} {
		if !hasField(err, field) {
			t.Errorf("missing error for %s in %v", field, err)
		}
	}
}

// hasField reports whether err joins a ValidationError for field.
func hasField(err error, field string) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return false
	}
	for _, e := range joined.Unwrap() {
		var ve ValidationError
		if errors.As(e, &ve) && ve.Field == field {
			return true
		}
	}
	return false
}
