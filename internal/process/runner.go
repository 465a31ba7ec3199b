// Package process runs the external collaborator commands of a benchmark:
// the evaluation that builds and times a design, the per-chunk sampling
// run, and the logical error rate simulation. Commands are argv templates
// with {placeholder} variables.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-decoder-bench/internal/logging"
)

// Vars maps placeholder names (without braces) to values.
type Vars map[string]string

// Expand replaces every {name} in s with its value. Unknown placeholders
// are left as they are.
func Expand(s string, vars Vars) string {
	if !strings.Contains(s, "{") {
		return s
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Command is a command template.
type Command struct {
	Args    []string      `yaml:"args" json:"args"`
	Dir     string        `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env     []string      `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// IsZero reports whether no command is configured.
func (c Command) IsZero() bool {
	return len(c.Args) == 0
}

// Binary returns the program name, or "".
func (c Command) Binary() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Expand returns a copy with all placeholders replaced.
func (c Command) Expand(vars Vars) Command {
	out := Command{
		Args:    make([]string, len(c.Args)),
		Dir:     Expand(c.Dir, vars),
		Timeout: c.Timeout,
	}
	for i, a := range c.Args {
		out.Args[i] = Expand(a, vars)
	}
	for _, e := range c.Env {
		out.Env = append(out.Env, Expand(e, vars))
	}
	return out
}

// Result captures the outcome of a command execution.
type Result struct {
	Source    string
	ExitCode  int
	StartTime int64 // Unix timestamp
	EndTime   int64 // Unix timestamp
	Stdout    string
}

// Duration returns the wall time of the command.
func (r Result) Duration() time.Duration {
	return time.Duration(r.EndTime-r.StartTime) * time.Second
}

// ExitError is returned when a command exits non-zero.
type ExitError struct {
	Source   string
	Args     []string
	ExitCode int
	Recent   []string // last output lines
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: %s exited with code %d", e.Source, strings.Join(e.Args, " "), e.ExitCode)
	if len(e.Recent) > 0 {
		msg += ": " + e.Recent[len(e.Recent)-1]
	}
	return msg
}

// Executor starts commands in their own process group, streams their
// output through a logging.OutputHandler and captures stdout.
type Executor struct {
	logger  *slog.Logger
	verbose bool

	// OnExit is called after every command with its result.
	OnExit func(r Result)
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger, verbose bool) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger, verbose: verbose}
}

// Run expands cmd with vars and runs it to completion. A non-zero exit is
// returned as *ExitError together with the partial Result.
func (e *Executor) Run(ctx context.Context, source string, cmd Command, vars Vars) (Result, error) {
	cmd = cmd.Expand(vars)
	res := Result{Source: source}
	if cmd.IsZero() {
		return res, fmt.Errorf("%s: no command configured", source)
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	// Set process group for clean shutdown
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
	c.WaitDelay = 5 * time.Second

	handler := logging.NewOutputHandler(source, e.logger, e.verbose)
	var stdout bytes.Buffer
	c.Stdout = io.MultiWriter(&stdout, handler.Writer())
	c.Stderr = handler.Writer()

	res.StartTime = time.Now().Unix()
	if err := c.Start(); err != nil {
		e.logger.Error("failed_to_start_process", "source", source, "error", err)
		return res, fmt.Errorf("%s: start %s: %w", source, cmd.Args[0], err)
	}
	e.logger.Debug("process_started", "source", source, "pid", c.Process.Pid, "args", cmd.Args)

	waitErr := c.Wait()
	handler.Flush()
	res.EndTime = time.Now().Unix()
	res.ExitCode = extractExitCode(waitErr)
	res.Stdout = stdout.String()

	e.logger.Info("process_exited",
		"source", source,
		"exit_code", res.ExitCode,
		"lines", handler.Lines(),
		"errors", handler.CountErrors(),
	)
	if e.OnExit != nil {
		e.OnExit(res)
	}

	if waitErr != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s: %w", source, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, &ExitError{
				Source:   source,
				Args:     cmd.Args,
				ExitCode: res.ExitCode,
				Recent:   handler.RecentLines(20),
			}
		}
		return res, fmt.Errorf("%s: %w", source, waitErr)
	}
	return res, nil
}

// extractExitCode extracts the exit code from an exec error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
