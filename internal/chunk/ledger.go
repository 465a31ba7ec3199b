package chunk

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
)

// ledgerEntry is one merged chunk remembered across runs.
type ledgerEntry struct {
	Index     int
	Length    int64
	Histogram *histogram.Histogram
}

// ledger records the histogram of every chunk already merged, so raw
// artifacts can be removed without losing resumability. Lines read
// "<index> <length> <histogram line>".
type ledger struct {
	path string
}

func (l *ledger) load() (map[int]ledgerEntry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[int]ledgerEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk ledger: %w", err)
	}

	entries := make(map[int]ledgerEntry)
	torn := len(data) > 0 && data[len(data)-1] != '\n'
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunk ledger: %w", err)
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := parseLedgerLine(line)
		if err != nil {
			if torn && i == len(lines)-1 {
				// interrupted append
				break
			}
			return nil, fmt.Errorf("%s:%d: %w", l.path, i+1, err)
		}
		entries[e.Index] = e
	}
	return entries, nil
}

func parseLedgerLine(line string) (ledgerEntry, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(fields) != 3 {
		return ledgerEntry{}, &histogram.ParseError{Line: line, Reason: "want <index> <length> <histogram>"}
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil || idx < 0 {
		return ledgerEntry{}, &histogram.ParseError{Line: line, Reason: "bad chunk index", Err: err}
	}
	length, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || length < 0 {
		return ledgerEntry{}, &histogram.ParseError{Line: line, Reason: "bad chunk length", Err: err}
	}
	h, err := histogram.FromLine(fields[2])
	if err != nil {
		return ledgerEntry{}, err
	}
	return ledgerEntry{Index: idx, Length: length, Histogram: h}, nil
}

// append durably adds entries.
func (l *ledger) append(entries []ledgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open chunk ledger: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%d %d %s\n", e.Index, e.Length, e.Histogram.ToLine())
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append chunk ledger: %w", err)
	}
	return f.Sync()
}
