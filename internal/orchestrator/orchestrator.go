// Package orchestrator runs one calibration session: preflight checks, the
// metrics endpoint, the optional dashboard, the batch itself, metrics
// export and the exit summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-decoder-bench/internal/batch"
	"github.com/randomizedcoder/go-decoder-bench/internal/config"
	"github.com/randomizedcoder/go-decoder-bench/internal/metrics"
	"github.com/randomizedcoder/go-decoder-bench/internal/preflight"
	"github.com/randomizedcoder/go-decoder-bench/internal/stats"
	"github.com/randomizedcoder/go-decoder-bench/internal/tui"
)

// ErrPreflight is returned when a preflight check fails.
var ErrPreflight = errors.New("preflight checks failed (use --skip-preflight to override)")

// Options holds optional collaborators of an Orchestrator.
type Options struct {
	// Version is reported in the info metric.
	Version string

	// Out receives the banner, preflight results and exit summary.
	// Defaults to os.Stdout.
	Out io.Writer

	// Factory overrides the command-line collaborators.
	Factory batch.Factory

	// Seed fixes start stagger and retry jitter. 0 uses the clock.
	Seed int64

	// HandleSignals cancels the session on SIGINT or SIGTERM.
	HandleSignals bool
}

// Orchestrator coordinates all components of a calibration session.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	opts   Options
	out    io.Writer

	runID         string
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server

	report    *batch.Report
	startTime time.Time
}

// New creates a new Orchestrator with the given configuration. cfg must
// already be validated.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Orchestrator {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	runID := uuid.NewString()

	// Private registry so textfile export carries only this session.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		RunID:   runID,
		Version: opts.Version,
		Targets: len(cfg.Targets),
	}, registry)

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		opts:     opts,
		out:      out,
		runID:    runID,
		registry: registry,
		metrics:  collector,
	}
	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, logger)
	}
	return o
}

// Run executes the session. It blocks until the batch finishes, a signal
// arrives or ctx is cancelled, and returns the batch error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	// Start metrics server first so /ready reports preflight progress
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
				o.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.config)
		preflight.WriteResults(o.out, result)
		if !result.Passed {
			return ErrPreflight
		}
	}
	if o.metricsServer != nil {
		o.metricsServer.SetReady(true)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if o.opts.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				o.logger.Info("received_signal", "signal", sig.String())
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	// Dashboard
	var program *tea.Program
	var tuiDone chan struct{}
	if o.config.TUIEnabled {
		program, tuiDone = o.startTUI(ctx, cancel)
	} else {
		o.printBanner()
	}

	runner, err := batch.New(o.config, batch.Options{
		Factory: o.opts.Factory,
		Metrics: o.metrics,
		OnEvent: func(ev batch.Event) { tui.SendEvent(program, ev) },
		RunID:   o.runID,
		Seed:    o.opts.Seed,
	}, o.logger)
	if err != nil {
		o.stopTUI(program, tuiDone, nil, err)
		return err
	}
	defer runner.Close()

	report, runErr := runner.Run(ctx)
	o.report = report
	o.stopTUI(program, tuiDone, report, runErr)

	if path := o.config.MetricsTextfile; path != "" {
		if err := metrics.WriteTextfile(o.registry, path); err != nil {
			o.logger.Warn("metrics_textfile_failed", "path", path, "error", err)
		} else {
			o.logger.Info("metrics_textfile_written", "path", path)
		}
	}

	o.printExitSummary()
	return runErr
}

// startTUI runs the dashboard until the batch stops it. Quitting the
// dashboard cancels the batch.
func (o *Orchestrator) startTUI(ctx context.Context, cancel context.CancelFunc) (*tea.Program, chan struct{}) {
	names := make([]string, len(o.config.Targets))
	for i, t := range o.config.Targets {
		names[i] = t.Name
	}
	program := tea.NewProgram(
		tui.New(tui.Config{RunID: o.runID, MetricsAddr: o.config.MetricsAddr, Targets: names}),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			o.logger.Warn("tui_error", "error", err)
		}
		cancel()
	}()
	return program, done
}

func (o *Orchestrator) stopTUI(program *tea.Program, done chan struct{}, rep *batch.Report, err error) {
	if program == nil {
		return
	}
	tui.SendDone(program, rep, err)
	tui.SendQuit(program)
	<-done
}

// printBanner prints the startup banner.
func (o *Orchestrator) printBanner() {
	fmt.Fprintln(o.out)
	fmt.Fprintln(o.out, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(o.out, "║                        go-decoder-bench                           ║")
	fmt.Fprintln(o.out, "║     Decoder Frequency Search and Latency Calibration              ║")
	fmt.Fprintln(o.out, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(o.out)
	fmt.Fprintf(o.out, "  Run:         %s\n", o.runID)
	fmt.Fprintf(o.out, "  Targets:     %d (%d at a time)\n", len(o.config.Targets), o.config.Concurrency)
	fmt.Fprintf(o.out, "  Work dir:    %s\n", o.config.WorkDir)
	fmt.Fprintf(o.out, "  Objective:   %s\n", o.config.Search.Objective)
	if o.metricsServer != nil {
		fmt.Fprintf(o.out, "  Metrics:     http://%s/metrics\n", o.metricsServer.Addr())
	}
	fmt.Fprintln(o.out)
	fmt.Fprintln(o.out, "Press Ctrl+C to stop. Completed work is kept and resumed on the next run.")
	fmt.Fprintln(o.out)
}

// printExitSummary prints a summary of the session.
func (o *Orchestrator) printExitSummary() {
	addr := ""
	if o.metricsServer != nil {
		addr = o.metricsServer.Addr()
	}
	fmt.Fprint(o.out, stats.FormatExitSummary(o.report, stats.SummaryConfig{
		Duration:    time.Since(o.startTime),
		MetricsAddr: addr,
		ResultsFile: o.config.ResultsPath(),
		Totals:      o.metrics.Totals(),
	}))
}

// RunID returns the session identifier.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Report returns the batch report once Run has returned.
func (o *Orchestrator) Report() *batch.Report {
	return o.report
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the session registry.
func (o *Orchestrator) Registry() prometheus.Gatherer {
	return o.registry
}
