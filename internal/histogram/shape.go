package histogram

import (
	"fmt"
	"math"
	"strconv"
)

// Shape is the immutable geometry of a histogram: bucket count and the
// latency range [Lower, Upper) split logarithmically.
type Shape struct {
	Lower   float64
	Upper   float64
	Buckets int
}

// DefaultShape covers 1ns to 1s in 2000 buckets.
func DefaultShape() Shape {
	return Shape{Lower: 1e-9, Upper: 1.0, Buckets: 2000}
}

// Validate returns ErrInvalidShape if the bounds or bucket count are unusable.
func (s Shape) Validate() error {
	switch {
	case !(s.Lower > 0) || math.IsInf(s.Lower, 0):
		return fmt.Errorf("%w: lower bound must be positive and finite (got %g)", ErrInvalidShape, s.Lower)
	case !(s.Upper > s.Lower) || math.IsInf(s.Upper, 0):
		return fmt.Errorf("%w: upper bound must be finite and exceed lower (got %g <= %g)", ErrInvalidShape, s.Upper, s.Lower)
	case s.Buckets <= 0:
		return fmt.Errorf("%w: bucket count must be positive (got %d)", ErrInvalidShape, s.Buckets)
	}
	return nil
}

// Compatible reports whether two shapes are identical at serialization
// precision. Bounds are compared after rendering with three significant
// digits so a histogram stays compatible with its own parsed line. As a
// consequence, in-memory shapes whose bounds differ only below that
// precision (Lower 1.0001e-9 and 1e-9, say) are compatible and merge; the
// merged histogram keeps the receiver's shape.
func (s Shape) Compatible(o Shape) bool {
	return s.Buckets == o.Buckets &&
		formatBound(s.Lower) == formatBound(o.Lower) &&
		formatBound(s.Upper) == formatBound(o.Upper)
}

// String renders the shape the way it appears in a histogram line.
func (s Shape) String() string {
	return fmt.Sprintf("<lower>%s<upper>%s<N>%d", formatBound(s.Lower), formatBound(s.Upper), s.Buckets)
}

// Latency returns the representative latency of bucket i, the geometric
// centre of its range.
func (s Shape) Latency(i int) float64 {
	return s.Lower * math.Pow(s.Upper/s.Lower, (float64(i)+0.5)/float64(s.Buckets))
}

// Edge returns the lower boundary of bucket i. Edge(Buckets) is Upper.
func (s Shape) Edge(i int) float64 {
	if i >= s.Buckets {
		return s.Upper
	}
	return s.Lower * math.Pow(s.Upper/s.Lower, float64(i)/float64(s.Buckets))
}

// IntervalRatio is the fixed relative width of every bucket:
// Edge(i+1)/Edge(i) - 1.
func (s Shape) IntervalRatio() float64 {
	return math.Exp(math.Log(s.Upper/s.Lower)/float64(s.Buckets)) - 1
}

type region int

const (
	inRange region = iota
	below
	above
)

// classify maps a latency to its bucket index, or to underflow/overflow.
// Anything below Lower (including zero and negative values) underflows;
// anything at or above Upper overflows.
func (s Shape) classify(latency float64) (int, region) {
	if latency < s.Lower {
		return 0, below
	}
	if latency >= s.Upper {
		return 0, above
	}
	idx := int(math.Floor(float64(s.Buckets) * math.Log(latency/s.Lower) / math.Log(s.Upper/s.Lower)))
	if idx < 0 {
		idx = 0
	}
	if idx >= s.Buckets {
		idx = s.Buckets - 1
	}
	return idx, inRange
}

// formatBound renders a bound in 3-significant-digit scientific notation.
func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'e', 3, 64)
}
