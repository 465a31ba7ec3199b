package histogram

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Line format:
//
//	<lower>1.000e-09<upper>1.000e+00<N>2000[666]1[695]23[underflow]0[overflow]0
//
// Bucket entries appear in ascending index order and only nonzero buckets
// are written. The parser also accepts the short exponent form (1.000e-9)
// and a line carrying a prefix such as a tool name.
var (
	lineRe   = regexp.MustCompile(`<lower>([^<]+)<upper>([^<]+)<N>(\d+)((?:\[\d+\]\d+)*)\[underflow\](\d+)\[overflow\](\d+)`)
	bucketRe = regexp.MustCompile(`\[(\d+)\](\d+)`)
)

// ToLine serializes the histogram to its canonical single-line form.
func (h *Histogram) ToLine() string {
	var b strings.Builder
	b.WriteString(h.shape.String())
	for _, bk := range h.NonZero() {
		fmt.Fprintf(&b, "[%d]%d", bk.Index, bk.Count)
	}
	fmt.Fprintf(&b, "[underflow]%d[overflow]%d", h.underflow, h.overflow)
	return b.String()
}

// String implements fmt.Stringer.
func (h *Histogram) String() string {
	return h.ToLine()
}

// MarshalText implements encoding.TextMarshaler.
func (h *Histogram) MarshalText() ([]byte, error) {
	return []byte(h.ToLine()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Histogram) UnmarshalText(text []byte) error {
	parsed, err := FromLine(string(text))
	if err != nil {
		return err
	}
	*h = *parsed
	return nil
}

// ContainsLine reports whether s carries a histogram line.
func ContainsLine(s string) bool {
	return strings.Contains(s, "<lower>")
}

// FromLine parses a histogram line. Text before "<lower>" is ignored.
func FromLine(line string) (*Histogram, error) {
	line = strings.TrimSpace(line)
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return nil, &ParseError{Line: line, Reason: "no histogram found"}
	}

	lower, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, &ParseError{Line: line, Reason: "bad lower bound", Err: err}
	}
	upper, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, &ParseError{Line: line, Reason: "bad upper bound", Err: err}
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, &ParseError{Line: line, Reason: "bad bucket count", Err: err}
	}
	h, err := New(lower, upper, n)
	if err != nil {
		return nil, &ParseError{Line: line, Reason: "bad shape", Err: err}
	}

	prev := -1
	for _, bm := range bucketRe.FindAllStringSubmatch(m[4], -1) {
		idx, err := strconv.Atoi(bm[1])
		if err != nil {
			return nil, &ParseError{Line: line, Reason: "bad bucket index", Err: err}
		}
		if idx >= n {
			return nil, &ParseError{Line: line, Reason: fmt.Sprintf("bucket index %d out of range [0,%d)", idx, n)}
		}
		if idx <= prev {
			return nil, &ParseError{Line: line, Reason: fmt.Sprintf("bucket index %d not ascending", idx)}
		}
		prev = idx
		count, err := strconv.ParseUint(bm[2], 10, 64)
		if err != nil {
			return nil, &ParseError{Line: line, Reason: "bad bucket count value", Err: err}
		}
		if count > 0 {
			h.counts[idx] = count
		}
	}

	if h.underflow, err = strconv.ParseUint(m[5], 10, 64); err != nil {
		return nil, &ParseError{Line: line, Reason: "bad underflow", Err: err}
	}
	if h.overflow, err = strconv.ParseUint(m[6], 10, 64); err != nil {
		return nil, &ParseError{Line: line, Reason: "bad overflow", Err: err}
	}
	return h, nil
}
