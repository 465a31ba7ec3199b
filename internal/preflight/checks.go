// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/randomizedcoder/go-decoder-bench/internal/config"
	"github.com/randomizedcoder/go-decoder-bench/internal/process"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks for a batch.
func RunAll(cfg *config.Config) *Result {
	result := &Result{
		Checks: make([]Check, 0, 8),
		Passed: true,
	}

	for _, c := range requiredCommands(cfg) {
		result.add(checkCommand(c.name, c.cmd))
	}
	result.add(checkWorkDir(cfg.WorkDir))
	result.add(checkDiskSpace(cfg.WorkDir, cfg.MinFreeDiskMB))
	result.add(checkFileDescriptors(cfg.Concurrency))
	result.add(checkProcessLimit(cfg.Concurrency))

	return result
}

type namedCommand struct {
	name string
	cmd  process.Command
}

// requiredCommands lists the collaborator commands some target will run.
func requiredCommands(cfg *config.Config) []namedCommand {
	var search, latency, estimate bool
	for _, t := range cfg.Targets {
		search = search || !t.SkipSearch
		latency = latency || !t.SkipLatency
		estimate = estimate || (!t.SkipLatency && t.Samples == 0)
	}

	var out []namedCommand
	if search {
		out = append(out, namedCommand{"evaluate", cfg.Commands.Evaluate})
	}
	if estimate {
		if !cfg.Commands.Prepare.IsZero() {
			out = append(out, namedCommand{"prepare", cfg.Commands.Prepare})
		}
		out = append(out, namedCommand{"estimate", cfg.Commands.Estimate})
	}
	if latency {
		out = append(out, namedCommand{"chunk", cfg.Commands.Chunk})
	}
	return out
}

// checkCommand verifies the program of a command template can be found.
func checkCommand(name string, cmd process.Command) Check {
	check := Check{Name: name + "_command"}

	bin := cmd.Binary()
	if bin == "" {
		check.Message = "not configured"
		return check
	}
	if strings.Contains(bin, "{") {
		// Placeholder in the program name, resolved per target.
		check.Passed, check.Warning = true, true
		check.Message = fmt.Sprintf("%s is templated, not checked", bin)
		return check
	}

	path, err := exec.LookPath(bin)
	if err != nil {
		check.Message = fmt.Sprintf("%s not found: %v", bin, err)
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("found at %s", path)
	return check
}

// checkWorkDir verifies the work directory exists or can be created, and
// is writable.
func checkWorkDir(dir string) Check {
	check := Check{Name: "work_dir"}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		check.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return check
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		check.Message = fmt.Sprintf("%s is not writable: %v", dir, err)
		return check
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	check.Passed = true
	check.Message = fmt.Sprintf("%s is writable", dir)
	return check
}

// checkDiskSpace verifies the file system of dir has at least minMB free.
// Chunk artifacts are kept until the merged histogram is written, so a
// full disk would fail a long run late.
func checkDiskSpace(dir string, minMB uint64) Check {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return Check{
			Name:    "disk_space",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	freeMB := uint64(st.Bavail) * uint64(st.Bsize) / (1 << 20)
	return Check{
		Name:     "disk_space",
		Required: int(minMB),
		Actual:   int(freeMB),
		Passed:   freeMB >= minMB,
		Message:  fmt.Sprintf("%d MB free in %s (need %d)", freeMB, dir, minMB),
	}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(concurrency int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// Each running target holds collaborator pipes, its log and the
	// badger value log files.
	required := concurrency*16 + 64
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d concurrent targets)", actual, required, concurrency),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(concurrency int) Check {
	// Collaborators may fork simulators and synthesis tools.
	required := concurrency*8 + 50

	// Read soft limit from /proc/self/limits
	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses returns the soft "Max processes" limit of a
// /proc/<pid>/limits file, 0 if absent.
func parseMaxProcesses(limits string) int {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		if fields[2] == "unlimited" {
			return 1_000_000
		}
		var n int
		fmt.Sscanf(fields[2], "%d", &n)
		return n
	}
	return 0
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	WriteResults(os.Stdout, result)
}

// WriteResults writes the preflight check results to w.
func WriteResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "work_dir":
		return "choose a writable --work-dir"
	case "disk_space":
		return "free space, use --retention delete or lower --min-free-disk"
	case "evaluate_command", "estimate_command", "chunk_command", "prepare_command":
		return "install the collaborator or fix its path under commands: in the config"
	default:
		return "see documentation"
	}
}
