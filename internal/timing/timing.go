// Package timing reads post-route timing reports and turns worst negative
// slack into a suggested clock frequency or clock divider.
package timing

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
)

// ErrNoSummary is returned when a report has no design timing summary.
var ErrNoSummary = errors.New("no design timing summary in report")

var (
	summaryRe = regexp.MustCompile(`Design Timing Summary[\s|-]*WNS\(ns\).*\n.*\n *(.*)`)
	slackRe   = regexp.MustCompile(`([-+]?(?:[0-9]*[.])?[0-9]+) *([-+]?(?:[0-9]*[.])?[0-9]+)`)
)

// Summary holds the first two columns of the design timing summary.
type Summary struct {
	WNS float64 // worst negative slack, ns
	TNS float64 // total negative slack, ns
}

// Met reports whether the design meets timing.
func (s Summary) Met() bool {
	return s.WNS >= 0
}

// ParseSummary extracts WNS and TNS from report text.
func ParseSummary(report string) (Summary, error) {
	m := summaryRe.FindStringSubmatch(report)
	if m == nil {
		return Summary{}, ErrNoSummary
	}
	row := slackRe.FindStringSubmatch(m[1])
	if row == nil {
		return Summary{}, fmt.Errorf("%w: malformed summary row %q", ErrNoSummary, m[1])
	}
	wns, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return Summary{}, fmt.Errorf("parse WNS %q: %w", row[1], err)
	}
	tns, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return Summary{}, fmt.Errorf("parse TNS %q: %w", row[2], err)
	}
	return Summary{WNS: wns, TNS: tns}, nil
}

// ReadSummary parses the report at path.
func ReadSummary(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("read timing report: %w", err)
	}
	s, err := ParseSummary(string(data))
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// AchievableFrequency returns the frequency (MHz) at which the critical
// path would have zero slack: 1/(period - wns).
func AchievableFrequency(mhz float64, s Summary) float64 {
	period := 1e-6 / mhz
	return 1 / (period - s.WNS*1e-9) / 1e6
}

// SuggestFrequency returns the integer frequency the design can reach, or
// ok=false when timing is already met.
func SuggestFrequency(mhz float64, s Summary) (suggested int, ok bool) {
	if s.Met() {
		return 0, false
	}
	return int(math.Floor(AchievableFrequency(mhz, s))), true
}

// SuggestDivider returns the clock divider that absorbs the negative
// slack in the divided clock domain, or ok=false when timing is met.
func SuggestDivider(mhz float64, divider int, s Summary) (suggested float64, ok bool) {
	if s.Met() {
		return 0, false
	}
	period := 1e-6 / mhz
	slow := period * float64(divider)
	return (slow - s.WNS*1e-9) / period, true
}

// HeuristicFrequency estimates the reachable frequency (MHz) of a decoder
// for an odd code distance d >= 3, from earlier circuit-level builds.
func HeuristicFrequency(d int) (int, error) {
	if d < 3 || d%2 == 0 {
		return 0, fmt.Errorf("code distance must be odd and at least 3 (got %d)", d)
	}
	switch d {
	case 3:
		return 180, nil
	case 5:
		return 141, nil
	}
	cycle := 3.69e-3*math.Pow(float64(d), 3) + 8.16
	return int(math.Ceil(1000 / cycle)), nil
}
