package metrics

import (
	"sort"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
)

// HistogramExporter exposes merged latency histograms as Prometheus
// histograms. Fine log-scale buckets are folded into decade buckets so a
// default 2000-bucket histogram becomes nine or ten series per target.
type HistogramExporter struct {
	desc *prometheus.Desc

	mu    sync.RWMutex
	hists map[string]*histogram.Histogram
}

// NewHistogramExporter creates an exporter for the metric name.
func NewHistogramExporter(name, help string) *HistogramExporter {
	return &HistogramExporter{
		desc:  prometheus.NewDesc(name, help, []string{"target"}, nil),
		hists: make(map[string]*histogram.Histogram),
	}
}

// Set stores a snapshot of h for target, replacing any earlier one.
func (e *HistogramExporter) Set(target string, h *histogram.Histogram) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hists[target] = h.Clone()
}

// Describe implements prometheus.Collector.
func (e *HistogramExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.desc
}

// Collect implements prometheus.Collector.
func (e *HistogramExporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	targets := make([]string, 0, len(e.hists))
	for t := range e.hists {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, t := range targets {
		count, sum, buckets := foldDecades(e.hists[t])
		ch <- prometheus.MustNewConstHistogram(e.desc, count, sum, buckets, t)
	}
}

// decadeBounds returns the upper bounds Lower·10, Lower·100, ... up to
// and including Upper.
func decadeBounds(s histogram.Shape) []float64 {
	var bounds []float64
	for b := s.Lower * 10; b < s.Upper*(1-1e-9); b *= 10 {
		bounds = append(bounds, b)
	}
	return append(bounds, s.Upper)
}

// foldDecades converts h into cumulative decade buckets. Underflow counts
// in every bucket and overflow only in the implicit +Inf bucket. The sum
// uses representative latencies, Lower for underflow and Upper for
// overflow.
func foldDecades(h *histogram.Histogram) (uint64, float64, map[float64]uint64) {
	s := h.Shape()
	bounds := decadeBounds(s)
	perBound := make([]uint64, len(bounds))

	sum := float64(h.Underflow())*s.Lower + float64(h.Overflow())*s.Upper
	for _, b := range h.NonZero() {
		sum += float64(b.Count) * s.Latency(b.Index)
		upper := s.Edge(b.Index + 1)
		i := sort.Search(len(bounds), func(i int) bool {
			return bounds[i] >= upper*(1-1e-9)
		})
		if i == len(bounds) {
			i = len(bounds) - 1
		}
		perBound[i] += b.Count
	}

	buckets := make(map[float64]uint64, len(bounds))
	cumulative := h.Underflow()
	for i, b := range bounds {
		cumulative += perBound[i]
		buckets[roundBound(b)] = cumulative
	}
	return h.TotalMass(), sum, buckets
}

// roundBound removes floating-point noise from repeated multiplication so
// bounds render as 1e-08 rather than 1.0000000000000001e-08.
func roundBound(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 12, 64), 64)
	if err != nil {
		return v
	}
	return r
}
