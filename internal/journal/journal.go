// Package journal persists the append-only log of an iterative parameter
// search.
//
// A log is an ordered sequence of timestamped records. At most one record
// is meant to be terminal (a "found best" marker); when several exist the
// first one wins, and it stays authoritative until the log is rotated.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrParse is returned for a record that cannot be decoded.
	ErrParse = errors.New("malformed search log record")

	// ErrCorrupted is returned when a stored record fails its checksum.
	ErrCorrupted = errors.New("search log record corrupted")
)

// Journal is an append-only search log.
type Journal interface {
	// Append durably writes r. A zero r.Time is set to the current time.
	Append(ctx context.Context, r Record) error

	// Replay returns every record in append order.
	Replay(ctx context.Context) ([]Record, error)

	// Rotate moves the current log aside so the next Append starts a
	// fresh log. Rotating an empty log is a no-op.
	Rotate(ctx context.Context) error

	// Close releases resources held by the journal.
	Close() error
}

// Kind classifies a record.
type Kind int

const (
	KindNote Kind = iota
	KindStart
	KindProbe
	KindSuggested
	KindOptimal
	KindFailure
	KindExhausted
	KindRevalidated
	KindStale
	KindBest
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindStart:
		return "start"
	case KindProbe:
		return "probe"
	case KindSuggested:
		return "suggested"
	case KindOptimal:
		return "optimal"
	case KindFailure:
		return "failure"
	case KindExhausted:
		return "exhausted"
	case KindRevalidated:
		return "revalidated"
	case KindStale:
		return "stale"
	case KindBest:
		return "best"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the kind carries the final search result.
func (k Kind) IsTerminal() bool {
	return k == KindBest
}

// Record is one log entry.
type Record struct {
	Time      time.Time
	Kind      Kind
	Iteration int    // probe number, for probe outcomes
	Value     int    // candidate, suggested or best value
	Detail    string // failure reason or note text
}

// Best returns the value of the first terminal record.
func Best(records []Record) (int, bool) {
	for _, r := range records {
		if r.Kind.IsTerminal() {
			return r.Value, true
		}
	}
	return 0, false
}

// FindBest replays j and returns the first terminal value.
func FindBest(ctx context.Context, j Journal) (int, bool, error) {
	records, err := j.Replay(ctx)
	if err != nil {
		return 0, false, err
	}
	v, ok := Best(records)
	return v, ok, nil
}

// ParseError describes an undecodable log line.
type ParseError struct {
	Source string // file path or key prefix
	Line   int    // 1-based line number or sequence number
	Text   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s:%d: %s: %q", e.Source, e.Line, e.Reason, e.Text)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes ErrParse and the underlying cause.
func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrParse, e.Err}
	}
	return []error{ErrParse}
}
