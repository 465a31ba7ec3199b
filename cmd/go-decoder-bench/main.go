// Package main provides the go-decoder-bench CLI entry point.
//
// go-decoder-bench searches the highest clock frequency (or lowest clock
// divider) a decoder configuration reaches, then calibrates its decoding
// latency distribution from chunked simulation runs.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-decoder-bench/internal/config"
	"github.com/randomizedcoder/go-decoder-bench/internal/logging"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-decoder-bench
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// app is the state shared by all subcommands of one invocation.
type app struct {
	cfg        *config.Config
	configPath string
	out        io.Writer
	errOut     io.Writer

	logger  *slog.Logger
	logFile *os.File
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{cfg: config.DefaultConfig(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "go-decoder-bench",
		Short:         "Decoder frequency search and latency calibration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cobra.OnFinalize(a.close)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	config.RegisterGlobalFlags(root.PersistentFlags(), a.cfg)

	root.AddCommand(
		newRunCmd(a),
		newSearchCmd(a),
		newAggregateCmd(a),
		newAnalyzeCmd(a),
		newPlanCmd(a),
		newTimingCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load applies the config file under the command line flags and sets up
// logging.
func (a *app) load(cmd *cobra.Command) error {
	if a.configPath != "" {
		if err := config.LoadWithFlags(a.cfg, a.configPath, cmd.Flags()); err != nil {
			return err
		}
	}
	return a.setupLogger()
}

// setupLogger builds the process logger. While the dashboard owns the
// terminal, logs go to the log file or nowhere.
func (a *app) setupLogger() error {
	cfg := a.cfg
	if !cfg.TUIEnabled {
		a.logger = logging.NewLoggerTo(a.errOut, cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
		logging.SetDefault(a.logger)
		return nil
	}

	var w io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		a.logFile = f
		w = f
	}
	a.logger = logging.NewLoggerTo(w, cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	logging.SetDefault(a.logger)
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "go-decoder-bench %s\n", version)
		},
	}
}
