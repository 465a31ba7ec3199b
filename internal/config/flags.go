package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// RegisterGlobalFlags binds the flags shared by every subcommand.
func RegisterGlobalFlags(fs *pflag.FlagSet, cfg *Config) {
	// Observability
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging (includes collaborator output)")
}

// RegisterRunFlags binds the flags of the run and search subcommands.
// Flags override values loaded from the config file.
func RegisterRunFlags(fs *pflag.FlagSet, cfg *Config) {
	// Workspace
	fs.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "Directory holding per-target logs and artifacts")
	fs.StringVar(&cfg.ResultsFile, "results", cfg.ResultsFile, "Results file (relative to work-dir)")
	fs.StringVar(&cfg.Journal, "journal", cfg.Journal, `Search log backend: "file" or "badger"`)
	fs.StringVar(&cfg.Cache, "cache", cfg.Cache, `Estimate cache backend: "memory" or "badger"`)
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "Badger directory (default <work-dir>/.state)")

	// Batch
	fs.IntVarP(&cfg.Concurrency, "concurrency", "j", cfg.Concurrency, "Targets processed in parallel")
	fs.DurationVar(&cfg.StartStagger, "start-stagger", cfg.StartStagger, "Random delay between target starts")

	// Search
	fs.StringVar(&cfg.Search.Objective, "objective", cfg.Search.Objective, `Search objective: "frequency" or "divider"`)
	fs.IntVar(&cfg.Search.MaxIteration, "max-iteration", cfg.Search.MaxIteration, "Probes per search")
	fs.Float64Var(&cfg.Search.ExtraDecrease, "extra-decrease", cfg.Search.ExtraDecrease, "Margin applied to a suggested value")
	fs.Float64Var(&cfg.Search.OnFailureDecrease, "on-failure-decrease", cfg.Search.OnFailureDecrease, "Step after a failed evaluation")
	fs.Float64Var(&cfg.Search.MinDecrease, "min-decrease", cfg.Search.MinDecrease, "Minimum relative step per probe (0 disables)")
	fs.BoolVar(&cfg.Search.Revalidate, "revalidate", cfg.Search.Revalidate, "Re-evaluate a best value found in the search log")
	fs.DurationVar(&cfg.Search.RetryInitial, "retry-delay", cfg.Search.RetryInitial, "Delay after a failed evaluation (0 = none)")

	// Chunks
	fs.Int64Var(&cfg.Chunk.MaxSize, "chunk-size", cfg.Chunk.MaxSize, "Maximum samples per chunk")
	fs.StringVar(&cfg.Chunk.Retention, "retention", cfg.Chunk.Retention, `Chunk artifacts after merge: "keep", "delete", "compress"`)
	fs.BoolVar(&cfg.Chunk.VerifyMass, "verify-mass", cfg.Chunk.VerifyMass, "Require each chunk histogram to hold exactly its sample count")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty disables)")
	fs.StringVar(&cfg.MetricsTextfile, "metrics-textfile", cfg.MetricsTextfile, "Write final metrics to this node-exporter textfile")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log destination while the dashboard is shown")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show the live terminal dashboard")

	// Preflight
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.Uint64Var(&cfg.MinFreeDiskMB, "min-free-disk", cfg.MinFreeDiskMB, "Minimum free space in work-dir (MB)")
}

// RegisterHistogramFlags binds the histogram shape flags.
func RegisterHistogramFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.Float64Var(&cfg.Histogram.Lower, "lower", cfg.Histogram.Lower, "Histogram lower bound (seconds)")
	fs.Float64Var(&cfg.Histogram.Upper, "upper", cfg.Histogram.Upper, "Histogram upper bound (seconds)")
	fs.IntVar(&cfg.Histogram.Buckets, "buckets", cfg.Histogram.Buckets, "Histogram bucket count")
}

// RegisterAnalysisFlags binds the calibration summary flags.
func RegisterAnalysisFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.Float64Var(&cfg.Analysis.TargetProbability, "probability", cfg.Analysis.TargetProbability, "Target exceedance probability for the cutoff")
	fs.Float64Var(&cfg.Analysis.FitMin, "fit-min", cfg.Analysis.FitMin, "Smallest bucket mass fraction used by the tail fit")
	fs.Float64Var(&cfg.Analysis.FitMax, "fit-max", cfg.Analysis.FitMax, "Largest bucket mass fraction used by the tail fit")
	fs.IntVar(&cfg.Analysis.CombineBins, "combine-bins", cfg.Analysis.CombineBins, "Coarsen buckets before fitting (<= 1 disables)")
}

// LoadWithFlags decodes the YAML file at path into cfg, then re-applies
// every flag the user set explicitly, so the command line wins over the
// file. cfg must be the struct the flags were registered against.
func LoadWithFlags(cfg *Config, path string, fs *pflag.FlagSet) error {
	changed := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := decodeInto(cfg, data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	for name, value := range changed {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("re-applying --%s: %w", name, err)
		}
	}
	return nil
}
