package histogram

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match with errors.Is.
var (
	ErrInvalidShape       = errors.New("invalid histogram shape")
	ErrIncompatible       = errors.New("incompatible histogram")
	ErrEmpty              = errors.New("empty histogram")
	ErrMassOutsideRange   = errors.New("unexpected mass outside range")
	ErrParse              = errors.New("malformed histogram line")
	ErrInvalidWeight      = errors.New("weight must be positive")
	ErrInvalidLatency     = errors.New("latency is not a number")
	ErrInvalidProbability = errors.New("probability out of range")
)

// ParseError describes a histogram line that could not be decoded.
type ParseError struct {
	Line   string
	Reason string
	Err    error // optional underlying cause
}

func (e *ParseError) Error() string {
	line := e.Line
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("parse histogram %q: %s: %v", line, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse histogram %q: %s", line, e.Reason)
}

// Unwrap exposes both ErrParse and the underlying cause.
func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrParse, e.Err}
	}
	return []error{ErrParse}
}

// OutsideRangeError reports the first excluded bucket whose count exceeded
// the tolerance of a range filter.
type OutsideRangeError struct {
	Index     int
	Latency   float64
	Count     uint64
	Tolerance uint64
}

func (e *OutsideRangeError) Error() string {
	return fmt.Sprintf("bucket %d (latency %.3e) holds %d samples outside range, tolerance %d",
		e.Index, e.Latency, e.Count, e.Tolerance)
}

func (e *OutsideRangeError) Unwrap() error {
	return ErrMassOutsideRange
}
