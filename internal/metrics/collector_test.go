package metrics

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
	"github.com/randomizedcoder/go-decoder-bench/internal/search"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestCollector creates a collector with a test registry.
func newTestCollector(cfg CollectorConfig) (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(cfg, registry)
	return c, registry
}

func testHistogram(t *testing.T) *histogram.Histogram {
	t.Helper()
	h := histogram.NewDefault()
	for _, r := range []struct {
		latency float64
		weight  uint64
	}{
		{5e-10, 1}, // underflow
		{5e-7, 3},
		{2e-3, 2},
		{2.0, 1}, // overflow
	} {
		if err := h.Record(r.latency, r.weight); err != nil {
			t.Fatalf("Record(%g): %v", r.latency, err)
		}
	}
	return h
}

// =============================================================================
// Tests: NewCollector
// =============================================================================

func TestNewCollector(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CollectorConfig
		wantVersion string
	}{
		{
			name:        "basic config",
			cfg:         CollectorConfig{RunID: "run-1", Version: "1.2.3", Targets: 4},
			wantVersion: "1.2.3",
		},
		{
			name:        "empty version",
			cfg:         CollectorConfig{RunID: "run-2", Targets: 1},
			wantVersion: "dev",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCollector(tt.cfg)
			if c == nil {
				t.Fatal("NewCollectorWithRegistry returned nil")
			}
			if got := testutil.ToFloat64(c.targets); got != float64(tt.cfg.Targets) {
				t.Errorf("targets = %v, want %d", got, tt.cfg.Targets)
			}
			if got := testutil.ToFloat64(c.info.WithLabelValues(tt.wantVersion, tt.cfg.RunID)); got != 1 {
				t.Errorf("info = %v, want 1", got)
			}
		})
	}
}

func TestNewCollector_DoubleRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewCollectorWithRegistry(CollectorConfig{}, registry)

	defer func() {
		if recover() == nil {
			t.Error("second registration should panic")
		}
	}()
	NewCollectorWithRegistry(CollectorConfig{}, registry)
}

// =============================================================================
// Tests: Search Progress
// =============================================================================

func TestRecordProbeAndOutcome(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{Targets: 1})

	c.SetSearchState("d9", search.StateProbing)
	c.RecordProbe("d9", 300)
	c.RecordOutcome("d9", search.Suggest(261), nil)
	c.RecordProbe("d9", 261)
	c.RecordOutcome("d9", search.Suggestion{}, errors.New("build failed"))
	c.RecordProbe("d9", 182)
	c.RecordOutcome("d9", search.Optimal(), nil)
	c.SetBest("d9", 182)
	c.SetSearchState("d9", search.StateConverged)

	if got := testutil.ToFloat64(c.candidate.WithLabelValues("d9")); got != 182 {
		t.Errorf("candidate = %v, want 182", got)
	}
	if got := testutil.ToFloat64(c.best.WithLabelValues("d9")); got != 182 {
		t.Errorf("best = %v, want 182", got)
	}
	if got := testutil.ToFloat64(c.searchState.WithLabelValues("d9")); got != float64(search.StateConverged) {
		t.Errorf("search state = %v, want %d", got, search.StateConverged)
	}
	for _, outcome := range []string{"suggested", "failure", "optimal"} {
		if got := testutil.ToFloat64(c.probes.WithLabelValues("d9", outcome)); got != 1 {
			t.Errorf("probes{outcome=%q} = %v, want 1", outcome, got)
		}
	}

	totals := c.Totals()
	if totals.Probes != 3 {
		t.Errorf("Totals.Probes = %d, want 3", totals.Probes)
	}
	if totals.Failures != 1 {
		t.Errorf("Totals.Failures = %d, want 1", totals.Failures)
	}
}

// =============================================================================
// Tests: Sample Aggregation
// =============================================================================

func TestRecordChunksAndSamples(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{Targets: 2})

	c.RecordChunk("d5", "run")
	c.RecordChunk("d5", "run")
	c.RecordChunk("d5", "skipped")
	c.RecordChunk("d7", "ledger")
	c.RecordBudget("d5", 1e-4, 10_000_000)
	c.RecordAggregation("d5", 2_500_000)
	c.RecordAggregation("d7", 500)

	if got := testutil.ToFloat64(c.chunks.WithLabelValues("d5", "run")); got != 2 {
		t.Errorf("chunks{d5,run} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.samplesMerged.WithLabelValues("d5")); got != 2_500_000 {
		t.Errorf("samples merged = %v, want 2500000", got)
	}
	if got := testutil.ToFloat64(c.sampleBudget.WithLabelValues("d5")); got != 10_000_000 {
		t.Errorf("sample budget = %v, want 1e7", got)
	}

	totals := c.Totals()
	if totals.ChunksRun != 2 || totals.ChunksSkipped != 2 {
		t.Errorf("Totals chunks = %d run / %d skipped, want 2 / 2", totals.ChunksRun, totals.ChunksSkipped)
	}
	if totals.Samples != 2_500_500 {
		t.Errorf("Totals.Samples = %d, want 2500500", totals.Samples)
	}
}

func TestRecordCommand(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})

	c.RecordCommand("evaluate", 0, 90*time.Second)
	c.RecordCommand("evaluate", 1, time.Second)
	c.RecordCommand("chunk", 0, time.Minute)

	if got := testutil.ToFloat64(c.commandExits.WithLabelValues("evaluate", "1")); got != 1 {
		t.Errorf("command exits{evaluate,1} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.commandLength); got != 2 {
		t.Errorf("command duration series = %d, want 2", got)
	}

	totals := c.Totals()
	if totals.Commands != 3 || totals.ExitCodes[0] != 2 || totals.ExitCodes[1] != 1 {
		t.Errorf("Totals = %+v", totals)
	}

	// Totals returns a copy.
	totals.ExitCodes[0] = 99
	if c.Totals().ExitCodes[0] != 2 {
		t.Error("Totals exposed the internal exit code map")
	}
}

func TestRecordLatency_SkipsZeroCutoff(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})

	c.RecordLatency("d3", 4e-7, 0, 2e-6)

	if got := testutil.ToFloat64(c.averageLatency.WithLabelValues("d3")); got != 4e-7 {
		t.Errorf("average = %v, want 4e-7", got)
	}
	if got := testutil.CollectAndCount(c.cutoffLatency); got != 0 {
		t.Errorf("cutoff series = %d, want 0", got)
	}
	if got := testutil.CollectAndCount(c.fitCutoff); got != 1 {
		t.Errorf("fit cutoff series = %d, want 1", got)
	}
}

// =============================================================================
// Tests: HistogramExporter
// =============================================================================

func TestDecadeBounds(t *testing.T) {
	bounds := decadeBounds(histogram.DefaultShape())
	if len(bounds) != 9 {
		t.Fatalf("len(bounds) = %d, want 9: %v", len(bounds), bounds)
	}
	if bounds[len(bounds)-1] != 1.0 {
		t.Errorf("last bound = %v, want 1", bounds[len(bounds)-1])
	}
}

func TestHistogramExporter(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{})
	h := testHistogram(t)
	c.Histograms().Set("d9", h)

	// Later changes to h do not leak into the snapshot.
	if err := h.Record(5e-7, 100); err != nil {
		t.Fatal(err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var found bool
	for _, mf := range families {
		if mf.GetName() != "decoder_bench_latency_seconds" {
			continue
		}
		found = true
		if len(mf.GetMetric()) != 1 {
			t.Fatalf("metrics = %d, want 1", len(mf.GetMetric()))
		}
		hist := mf.GetMetric()[0].GetHistogram()
		if hist.GetSampleCount() != 7 {
			t.Errorf("sample count = %d, want 7", hist.GetSampleCount())
		}

		want := map[float64]uint64{
			1e-8: 1, 1e-7: 1, 1e-6: 4, 1e-5: 4, 1e-4: 4,
			1e-3: 4, 1e-2: 6, 1e-1: 6, 1: 6,
		}
		for _, b := range hist.GetBucket() {
			w, ok := want[b.GetUpperBound()]
			if !ok {
				t.Errorf("unexpected bound %v", b.GetUpperBound())
				continue
			}
			if b.GetCumulativeCount() != w {
				t.Errorf("bucket le=%v = %d, want %d", b.GetUpperBound(), b.GetCumulativeCount(), w)
			}
		}
	}
	if !found {
		t.Fatal("latency histogram not gathered")
	}
}

// =============================================================================
// Tests: Server
// =============================================================================

func TestServerEndpoints(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{RunID: "r", Targets: 1})
	c.SetBest("d3", 180)

	s := NewServer("127.0.0.1:0", registry, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, _ := get("/health"); code != http.StatusOK {
		t.Errorf("/health = %d, want 200", code)
	}
	if code, _ := get("/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready before SetReady = %d, want 503", code)
	}
	s.SetReady(true)
	if code, _ := get("/readyz"); code != http.StatusOK {
		t.Errorf("/readyz after SetReady = %d, want 200", code)
	}

	code, body := get("/metrics")
	if code != http.StatusOK {
		t.Fatalf("/metrics = %d", code)
	}
	if !strings.Contains(body, `decoder_bench_best{target="d3"} 180`) {
		t.Errorf("/metrics missing best value:\n%s", body)
	}
}

// =============================================================================
// Tests: Textfile
// =============================================================================

func TestWriteTextfile(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{RunID: "r", Targets: 1})
	c.SetBest("d5", 141)
	c.Histograms().Set("d5", testHistogram(t))

	path := filepath.Join(t.TempDir(), "decoder_bench.prom")
	if err := WriteTextfile(registry, path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		"# TYPE decoder_bench_best gauge",
		`decoder_bench_best{target="d5"} 141`,
		"# TYPE decoder_bench_latency_seconds histogram",
		`decoder_bench_latency_seconds_count{target="d5"} 7`,
		`decoder_bench_latency_seconds_bucket{target="d5",le="+Inf"} 7`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q", want)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
