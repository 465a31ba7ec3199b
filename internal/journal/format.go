package journal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format of a log line: [2006-01-02 15:04:05].
const TimeLayout = "2006-01-02 15:04:05"

// Vocabulary renders records as human-readable messages for one searched
// parameter, e.g. "frequency" or "clock divide by".
type Vocabulary struct {
	Subject string

	probe, suggested, optimal, failure, revalidated, stale *regexp.Regexp
}

var (
	exhaustedRe = regexp.MustCompile(`^search exhausted after (\d+) iterations$`)
	startFromRe = regexp.MustCompile(`^optimization start from (-?\d+)$`)
	lineRe      = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\] (.*)$`)
)

const startMessage = "optimization start"

// NewVocabulary builds the message codec for subject.
func NewVocabulary(subject string) *Vocabulary {
	s := regexp.QuoteMeta(subject)
	return &Vocabulary{
		Subject:     subject,
		probe:       regexp.MustCompile(`^iteration (\d+): trying ` + s + ` (-?\d+)$`),
		suggested:   regexp.MustCompile(`^iteration (\d+): suggested achievable ` + s + ` is (-?\d+)$`),
		optimal:     regexp.MustCompile(`^iteration (\d+): ` + s + ` (-?\d+) is optimal$`),
		failure:     regexp.MustCompile(`^iteration (\d+): evaluation failed: (.*)$`),
		revalidated: regexp.MustCompile(`^revalidated best ` + s + ` (-?\d+)$`),
		stale:       regexp.MustCompile(`^recorded best ` + s + ` no longer holds, suggested (-?\d+)$`),
	}
}

// Marker is the reserved prefix of a terminal record.
func (v *Vocabulary) Marker() string {
	return "[found best " + v.Subject + "] "
}

// Format renders the message part of a record.
func (v *Vocabulary) Format(r Record) string {
	switch r.Kind {
	case KindStart:
		if r.Value != 0 {
			return fmt.Sprintf("%s from %d", startMessage, r.Value)
		}
		return startMessage
	case KindProbe:
		return fmt.Sprintf("iteration %d: trying %s %d", r.Iteration, v.Subject, r.Value)
	case KindSuggested:
		return fmt.Sprintf("iteration %d: suggested achievable %s is %d", r.Iteration, v.Subject, r.Value)
	case KindOptimal:
		return fmt.Sprintf("iteration %d: %s %d is optimal", r.Iteration, v.Subject, r.Value)
	case KindFailure:
		// keep multi-line errors on one line
		return fmt.Sprintf("iteration %d: evaluation failed: %s", r.Iteration, oneLine(r.Detail))
	case KindExhausted:
		return fmt.Sprintf("search exhausted after %d iterations", r.Iteration)
	case KindRevalidated:
		return fmt.Sprintf("revalidated best %s %d", v.Subject, r.Value)
	case KindStale:
		return fmt.Sprintf("recorded best %s no longer holds, suggested %d", v.Subject, r.Value)
	case KindBest:
		return v.Marker() + strconv.Itoa(r.Value)
	default:
		return oneLine(r.Detail)
	}
}

// Parse decodes a message produced by Format. Unrecognised messages become
// notes; only a malformed terminal marker is an error.
func (v *Vocabulary) Parse(msg string) (Record, error) {
	if rest, ok := strings.CutPrefix(msg, v.Marker()); ok {
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return Record{}, fmt.Errorf("terminal marker value %q: %w", rest, err)
		}
		return Record{Kind: KindBest, Value: n}, nil
	}
	if msg == startMessage {
		return Record{Kind: KindStart}, nil
	}
	if m := startFromRe.FindStringSubmatch(msg); m != nil {
		return Record{Kind: KindStart, Value: atoi(m[1])}, nil
	}
	if m := exhaustedRe.FindStringSubmatch(msg); m != nil {
		return Record{Kind: KindExhausted, Iteration: atoi(m[1])}, nil
	}

	pairs := []struct {
		re   *regexp.Regexp
		kind Kind
	}{
		{v.probe, KindProbe},
		{v.suggested, KindSuggested},
		{v.optimal, KindOptimal},
	}
	for _, p := range pairs {
		if m := p.re.FindStringSubmatch(msg); m != nil {
			return Record{Kind: p.kind, Iteration: atoi(m[1]), Value: atoi(m[2])}, nil
		}
	}
	if m := v.failure.FindStringSubmatch(msg); m != nil {
		return Record{Kind: KindFailure, Iteration: atoi(m[1]), Detail: m[2]}, nil
	}
	if m := v.revalidated.FindStringSubmatch(msg); m != nil {
		return Record{Kind: KindRevalidated, Value: atoi(m[1])}, nil
	}
	if m := v.stale.FindStringSubmatch(msg); m != nil {
		return Record{Kind: KindStale, Value: atoi(m[1])}, nil
	}
	return Record{Kind: KindNote, Detail: msg}, nil
}

// FormatLine renders a full log line without the trailing newline.
func (v *Vocabulary) FormatLine(r Record) string {
	return "[" + r.Time.Format(TimeLayout) + "] " + v.Format(r)
}

// ParseLine decodes a full log line.
func (v *Vocabulary) ParseLine(line string) (Record, error) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Record{}, fmt.Errorf("missing [timestamp] prefix")
	}
	ts, err := time.ParseInLocation(TimeLayout, m[1], time.Local)
	if err != nil {
		return Record{}, err
	}
	r, err := v.Parse(m[2])
	if err != nil {
		return Record{}, err
	}
	r.Time = ts
	return r, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
