// Package config provides configuration management for go-decoder-bench.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-decoder-bench/internal/process"
)

// Config holds all configuration options for a benchmark run.
type Config struct {
	// Workspace
	WorkDir     string `yaml:"work_dir" json:"work_dir"`
	ResultsFile string `yaml:"results_file" json:"results_file"` // relative to work_dir
	StateDir    string `yaml:"state_dir" json:"state_dir"`       // badger directory, "" = <work_dir>/.state
	Journal     string `yaml:"journal" json:"journal"`           // file, badger
	Cache       string `yaml:"cache" json:"cache"`               // memory, badger

	Histogram HistogramConfig `yaml:"histogram" json:"histogram"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Chunk     ChunkConfig     `yaml:"chunk" json:"chunk"`
	Budget    BudgetConfig    `yaml:"budget" json:"budget"`
	Analysis  AnalysisConfig  `yaml:"analysis" json:"analysis"`
	Commands  CommandsConfig  `yaml:"commands" json:"commands"`

	// Batch
	Concurrency  int           `yaml:"concurrency" json:"concurrency"`
	StartStagger time.Duration `yaml:"start_stagger" json:"start_stagger"` // max random delay between target starts
	Targets      []Target      `yaml:"targets" json:"targets"`

	// Observability
	MetricsAddr     string `yaml:"metrics_addr" json:"metrics_addr"` // "" = disabled
	MetricsTextfile string `yaml:"metrics_textfile" json:"metrics_textfile"`
	LogFormat       string `yaml:"log_format" json:"log_format"` // json, text
	LogLevel        string `yaml:"log_level" json:"log_level"`
	LogFile         string `yaml:"log_file" json:"log_file"` // used while the TUI owns the terminal
	Verbose         bool   `yaml:"verbose" json:"verbose"`
	TUIEnabled      bool   `yaml:"tui" json:"tui"`

	// Preflight
	SkipPreflight bool   `yaml:"skip_preflight" json:"skip_preflight"`
	MinFreeDiskMB uint64 `yaml:"min_free_disk_mb" json:"min_free_disk_mb"`
}

// HistogramConfig is the latency histogram geometry.
type HistogramConfig struct {
	Lower   float64 `yaml:"lower" json:"lower"`
	Upper   float64 `yaml:"upper" json:"upper"`
	Buckets int     `yaml:"buckets" json:"buckets"`
}

// SearchConfig configures the frequency / divider search.
type SearchConfig struct {
	Objective         string  `yaml:"objective" json:"objective"` // frequency, divider
	Start             int     `yaml:"start" json:"start"`         // 0 = heuristic from code distance
	Limit             int     `yaml:"limit" json:"limit"` // 0 = unbounded
	MaxIteration      int     `yaml:"max_iteration" json:"max_iteration"`
	ExtraDecrease     float64 `yaml:"extra_decrease" json:"extra_decrease"`
	OnFailureDecrease float64 `yaml:"on_failure_decrease" json:"on_failure_decrease"`
	MinDecrease       float64 `yaml:"min_decrease" json:"min_decrease"`
	BaseFrequency     float64 `yaml:"base_frequency" json:"base_frequency"` // MHz, divider objective only
	Revalidate        bool    `yaml:"revalidate" json:"revalidate"`

	// Retry delay after a failed evaluation
	RetryInitial  time.Duration `yaml:"retry_initial" json:"retry_initial"` // 0 = retry immediately
	RetryMax      time.Duration `yaml:"retry_max" json:"retry_max"`
	RetryMultiply float64       `yaml:"retry_multiply" json:"retry_multiply"`
	RetryJitter   float64       `yaml:"retry_jitter" json:"retry_jitter"`
}

// ChunkConfig configures chunked sample aggregation.
type ChunkConfig struct {
	MaxSize    int64  `yaml:"max_size" json:"max_size"`
	Retention  string `yaml:"retention" json:"retention"` // keep, delete, compress
	VerifyMass bool   `yaml:"verify_mass" json:"verify_mass"`
	Label      string `yaml:"label" json:"label"` // prefix of histogram lines in artifacts
}

// BudgetConfig sizes latency runs from the estimated logical error rate.
type BudgetConfig struct {
	AccumulateErrors float64 `yaml:"accumulate_errors" json:"accumulate_errors"`
	MinSamples       int64   `yaml:"min_samples" json:"min_samples"`
	MaxSamples       int64   `yaml:"max_samples" json:"max_samples"`
}

// AnalysisConfig configures the latency calibration summary.
type AnalysisConfig struct {
	TargetProbability float64 `yaml:"target_probability" json:"target_probability"`
	FitMin            float64 `yaml:"fit_min" json:"fit_min"`
	FitMax            float64 `yaml:"fit_max" json:"fit_max"`
	CombineBins       int     `yaml:"combine_bins" json:"combine_bins"`
}

// CommandsConfig holds the collaborator command templates.
type CommandsConfig struct {
	Evaluate process.Command `yaml:"evaluate" json:"evaluate"`
	Prepare  process.Command `yaml:"prepare" json:"prepare"`
	Estimate process.Command `yaml:"estimate" json:"estimate"`
	Chunk    process.Command `yaml:"chunk" json:"chunk"`
}

// Target is one independent configuration of a batch.
type Target struct {
	Name      string  `yaml:"name" json:"name"`
	Distance  int     `yaml:"distance" json:"distance"`
	ErrorRate float64 `yaml:"p" json:"p"`             // physical error rate
	Samples   int64   `yaml:"samples" json:"samples"` // 0 = sized from the estimated logical error rate

	// Overrides; zero values inherit the global search settings.
	Objective     string  `yaml:"objective,omitempty" json:"objective,omitempty"`
	Start         int     `yaml:"start,omitempty" json:"start,omitempty"`
	Limit         int     `yaml:"limit,omitempty" json:"limit,omitempty"`
	BaseFrequency float64 `yaml:"base_frequency,omitempty" json:"base_frequency,omitempty"`
	SkipSearch    bool    `yaml:"skip_search,omitempty" json:"skip_search,omitempty"`
	SkipLatency   bool    `yaml:"skip_latency,omitempty" json:"skip_latency,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Workspace
		WorkDir:     ".",
		ResultsFile: "results.txt",
		Journal:     "file",
		Cache:       "memory",

		Histogram: HistogramConfig{Lower: 1e-9, Upper: 1.0, Buckets: 2000},

		Search: SearchConfig{
			Objective:         "frequency",
			MaxIteration:      5,
			ExtraDecrease:     0.1,
			OnFailureDecrease: 0.3,
			RetryMax:          5 * time.Minute,
			RetryMultiply:     2.0,
			RetryJitter:       0.1,
		},

		Chunk: ChunkConfig{
			MaxSize:   100_000_000,
			Retention: "keep",
		},

		Budget: BudgetConfig{
			AccumulateErrors: 1000,
			MinSamples:       10_000,
			MaxSamples:       10_000_000_000,
		},

		Analysis: AnalysisConfig{
			TargetProbability: 1e-9,
			FitMin:            1e-6,
			FitMax:            1e-4,
			CombineBins:       10,
		},

		Concurrency: 1,

		// Observability
		LogFormat:  "json",
		LogLevel:   "info",
		TUIEnabled: false,

		MinFreeDiskMB: 1024,
	}
}

// Load reads a YAML configuration file on top of DefaultConfig. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of DefaultConfig.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := decodeInto(cfg, data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// StatePath returns the badger directory.
func (c *Config) StatePath() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(c.WorkDir, ".state")
}

// ResultsPath returns the results file path.
func (c *Config) ResultsPath() string {
	if filepath.IsAbs(c.ResultsFile) {
		return c.ResultsFile
	}
	return filepath.Join(c.WorkDir, c.ResultsFile)
}

// TargetDir returns the working directory of a target.
func (c *Config) TargetDir(t Target) string {
	return filepath.Join(c.WorkDir, t.Name)
}

// ResolveSearch returns the search settings of t with its overrides
// applied.
func (c *Config) ResolveSearch(t Target) SearchConfig {
	s := c.Search
	if t.Objective != "" {
		s.Objective = t.Objective
	}
	if t.Start != 0 {
		s.Start = t.Start
	}
	if t.Limit != 0 {
		s.Limit = t.Limit
	}
	if t.BaseFrequency != 0 {
		s.BaseFrequency = t.BaseFrequency
	}
	return s
}

// NeedsStore reports whether a badger store must be opened.
func (c *Config) NeedsStore() bool {
	return c.Journal == "badger" || c.Cache == "badger"
}
