package logging

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per command.
	MaxBufferedLines = 100
)

// OutputHandler consumes the stdout/stderr of a collaborator command (a
// build, a simulator, a chunk run). It keeps the most recent lines for
// failure reports and logs them at a level derived from their content.
type OutputHandler struct {
	source  string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	total  int
	mu     sync.Mutex

	stream  *LineWriter
	streams []*LineWriter
}

// LineWriter splits writes into lines for an OutputHandler. A line split
// across Write calls is held until its newline arrives or Flush is called.
// Use one LineWriter per pipe so fragments of different streams never join.
type LineWriter struct {
	h       *OutputHandler
	mu      sync.Mutex
	partial []byte
}

// NewOutputHandler creates a handler for the command identified by source
// (e.g. "d9/search").
func NewOutputHandler(source string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		source:  source,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// Writer returns a new LineWriter feeding h.
func (h *OutputHandler) Writer() *LineWriter {
	w := &LineWriter{h: h}
	h.mu.Lock()
	h.streams = append(h.streams, w)
	h.mu.Unlock()
	return w
}

// HandleReader reads lines from r until EOF. Run it in a goroutine per
// pipe.
func (h *OutputHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		h.HandleLine(scanner.Text())
	}
}

// Write implements io.Writer so the handler can be used as cmd.Stdout or
// cmd.Stderr directly. All calls share one LineWriter.
func (h *OutputHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	if h.stream == nil {
		h.stream = &LineWriter{h: h}
		h.streams = append(h.streams, h.stream)
	}
	w := h.stream
	h.mu.Unlock()
	return w.Write(p)
}

// Flush emits any pending partial lines. Call it once the command has
// exited.
func (h *OutputHandler) Flush() {
	h.mu.Lock()
	streams := append([]*LineWriter(nil), h.streams...)
	h.mu.Unlock()
	for _, w := range streams {
		w.Flush()
	}
}

// Write emits every complete line in p and keeps the trailing fragment.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.h.HandleLine(strings.TrimRight(string(w.partial[:i]), "\r"))
		w.partial = w.partial[i+1:]
	}
	// an unterminated line past the limit is emitted truncated
	if len(w.partial) > MaxLineLength {
		w.h.HandleLine(string(w.partial))
		w.partial = w.partial[:0]
	}
	if len(w.partial) == 0 {
		w.partial = nil
	}
	return len(p), nil
}

// Flush emits the pending partial line, if any.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.h.HandleLine(strings.TrimRight(string(w.partial), "\r"))
	}
	w.partial = nil
}

// HandleLine processes a single output line.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	h.mu.Unlock()

	h.logLine(line)
}

// logLine logs the line at appropriate level based on content.
func (h *OutputHandler) logLine(line string) {
	level := classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(context.Background(), level, "command_output",
		"source", h.source,
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
func classifyLine(line string) slog.Level {
	// vendor tool diagnostics
	if strings.HasPrefix(line, "ERROR:") || strings.HasPrefix(line, "CRITICAL WARNING:") {
		return slog.LevelWarn
	}

	lower := strings.ToLower(line)
	if strings.Contains(lower, "panicked at") ||
		strings.Contains(lower, "timing constraints are not met") ||
		strings.Contains(lower, "command not found") ||
		strings.Contains(lower, "error") && strings.Contains(lower, "failed") {
		return slog.LevelWarn
	}

	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)

	// Read from circular buffer in order
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// Lines returns the number of lines handled.
func (h *OutputHandler) Lines() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// ErrorPatterns are failure patterns counted for the exit summary.
var ErrorPatterns = []string{
	"ERROR:",
	"CRITICAL WARNING:",
	"Timing constraints are not met",
	"panicked at",
	"Segmentation fault",
	"out of memory",
	"timeout",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)

	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
