package journal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileJournal stores the log as a UTF-8 text file, one
// "[YYYY-MM-DD HH:MM:SS] message" line per record. Every append is synced
// before it returns.
type FileJournal struct {
	path  string
	vocab *Vocabulary
	now   func() time.Time

	mu sync.Mutex
}

// NewFileJournal returns a journal backed by path. The file is created on
// the first Append.
func NewFileJournal(path string, vocab *Vocabulary) *FileJournal {
	return &FileJournal{path: path, vocab: vocab, now: time.Now}
}

// Path returns the backing file path.
func (j *FileJournal) Path() string {
	return j.path
}

// Append implements Journal.
func (j *FileJournal) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Time.IsZero() {
		r.Time = j.now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open search log: %w", err)
	}
	if _, err := f.WriteString(j.vocab.FormatLine(r) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append search log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync search log: %w", err)
	}
	return f.Close()
}

// Replay implements Journal. A missing file is an empty log. A malformed
// final line without a trailing newline is a torn write and is skipped;
// any other malformed line is a *ParseError.
func (j *FileJournal) Replay(ctx context.Context) ([]Record, error) {
	j.mu.Lock()
	data, err := os.ReadFile(j.path)
	j.mu.Unlock()
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read search log: %w", err)
	}

	torn := len(data) > 0 && data[len(data)-1] != '\n'
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan search log: %w", err)
	}

	records := make([]Record, 0, len(lines))
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := j.vocab.ParseLine(line)
		if err != nil {
			if torn && i == len(lines)-1 {
				break
			}
			return nil, &ParseError{Source: j.path, Line: i + 1, Text: line, Reason: "bad record", Err: err}
		}
		records = append(records, r)
	}
	return records, nil
}

// Rotate implements Journal by renaming the file to
// "<path>.stale-<timestamp>".
func (j *FileJournal) Rotate(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := os.Stat(j.path); os.IsNotExist(err) {
		return nil
	}
	target := fmt.Sprintf("%s.stale-%s", j.path, j.now().Format("20060102T150405.000000000"))
	if err := os.Rename(j.path, target); err != nil {
		return fmt.Errorf("rotate search log: %w", err)
	}
	return nil
}

// Close implements Journal.
func (j *FileJournal) Close() error {
	return nil
}
