package chunk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
)

// =============================================================================
// Test Helpers
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner writes an artifact holding Length samples for every chunk.
type fakeRunner struct {
	t    *testing.T
	runs []int
	skip map[int]bool // chunks that "succeed" without writing
	err  error
}

func (f *fakeRunner) RunChunk(_ context.Context, c Chunk) (string, error) {
	f.runs = append(f.runs, c.Index)
	if f.err != nil {
		return "", f.err
	}
	if f.skip[c.Index] {
		return "", nil
	}
	writeArtifact(f.t, c.Path, c.Length)
	return c.Path, nil
}

func chunkHistogram(t *testing.T, samples int64) *histogram.Histogram {
	t.Helper()
	h := histogram.NewDefault()
	if samples == 0 {
		return h
	}
	fast := uint64(samples) * 9 / 10
	if fast > 0 {
		if err := h.Record(5e-7, fast); err != nil {
			t.Fatal(err)
		}
	}
	if slow := uint64(samples) - fast; slow > 0 {
		if err := h.Record(2e-6, slow); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

func writeArtifact(t *testing.T, path string, samples int64) {
	t.Helper()
	content := "benchmark start\n" +
		"cpu_wall_benchmarker" + histogram.NewDefault().ToLine() + "\n" +
		"latency_benchmarker" + chunkHistogram(t, samples).ToLine() + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newAggregator(t *testing.T, cfg Config, r Runner) *Aggregator {
	t.Helper()
	a, err := New(cfg, r, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func testConfig(dir string) Config {
	return Config{
		Dir:          dir,
		Name:         "d9_p0.001",
		TotalSamples: 2_500_000,
		MaxChunkSize: 1_000_000,
		Label:        "latency_benchmarker",
	}
}

// =============================================================================
// Plan
// =============================================================================

func TestPlan(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		max     int64
		want    []int64
		wantErr bool
	}{
		{"remainder", 2_500_000, 1_000_000, []int64{1_000_000, 1_000_000, 500_000}, false},
		{"exact", 2_000_000, 1_000_000, []int64{1_000_000, 1_000_000}, false},
		{"single", 10, 1_000_000, []int64{10}, false},
		{"empty", 0, 100, []int64{}, false},
		{"zero max", 10, 0, nil, true},
		{"negative total", -1, 10, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.total, tt.max)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Plan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Plan() = %v, want %v", got, tt.want)
			}
			var sum int64
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Plan()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
				if got[i] > tt.max {
					t.Errorf("chunk %d exceeds max: %d", i, got[i])
				}
				sum += got[i]
			}
			if sum != tt.total {
				t.Errorf("sum = %d, want %d", sum, tt.total)
			}
		})
	}
}

func TestParseRetention(t *testing.T) {
	for _, s := range []string{"keep", "delete", "compress", ""} {
		if _, err := ParseRetention(s); err != nil {
			t.Errorf("ParseRetention(%q) error = %v", s, err)
		}
	}
	if _, err := ParseRetention("shred"); err == nil {
		t.Error("ParseRetention(shred) should fail")
	}
}

// =============================================================================
// Aggregate
// =============================================================================

func TestAggregateMergesAllChunks(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{t: t}
	a := newAggregator(t, testConfig(dir), r)

	merged, err := a.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if merged.TotalMass() != 2_500_000 {
		t.Errorf("TotalMass() = %d, want 2500000", merged.TotalMass())
	}
	if len(r.runs) != 3 {
		t.Errorf("runs = %v, want 3 chunks", r.runs)
	}
	if s := a.Stats(); s.Run != 3 || s.Chunks != 3 || s.Samples != 2_500_000 {
		t.Errorf("Stats() = %+v", s)
	}

	onDisk, err := LoadMerged(dir, "d9_p0.001")
	if err != nil {
		t.Fatalf("LoadMerged() error = %v", err)
	}
	if !onDisk.Equal(merged) {
		t.Error("merged file differs from returned histogram")
	}
}

func TestAggregateSkipsExistingArtifacts(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	writeArtifact(t, ArtifactPath(dir, cfg.Name, 0), 1_000_000)
	writeArtifact(t, ArtifactPath(dir, cfg.Name, 2), 500_000)

	r := &fakeRunner{t: t}
	a := newAggregator(t, cfg, r)
	var outcomes []Outcome
	a.OnChunk(func(_ Chunk, o Outcome) { outcomes = append(outcomes, o) })

	merged, err := a.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(r.runs) != 1 || r.runs[0] != 1 {
		t.Errorf("runs = %v, want [1]", r.runs)
	}
	want := []Outcome{OutcomeSkipped, OutcomeRun, OutcomeSkipped}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcome %d = %v, want %v", i, outcomes[i], want[i])
		}
	}
	if merged.TotalMass() != 2_500_000 {
		t.Errorf("TotalMass() = %d", merged.TotalMass())
	}
}

func TestAggregateResumesFromLedgerAfterDeletion(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Retention = RetainDelete

	first := &fakeRunner{t: t}
	m1, err := newAggregator(t, cfg, first).Aggregate(context.Background())
	if err != nil {
		t.Fatalf("first Aggregate() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(ArtifactPath(dir, cfg.Name, i)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("artifact %d not deleted: %v", i, err)
		}
	}

	second := &fakeRunner{t: t}
	a := newAggregator(t, cfg, second)
	m2, err := a.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("second Aggregate() error = %v", err)
	}
	if len(second.runs) != 0 {
		t.Errorf("second run re-ran chunks %v", second.runs)
	}
	if a.Stats().Ledger != 3 {
		t.Errorf("Stats().Ledger = %d, want 3", a.Stats().Ledger)
	}
	if !m1.Equal(m2) {
		t.Error("resumed merge differs")
	}
}

func TestAggregateLedgerLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Retention = RetainDelete

	if _, err := newAggregator(t, cfg, &fakeRunner{t: t}).Aggregate(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg.TotalSamples = 3_000_000
	r := &fakeRunner{t: t}
	merged, err := newAggregator(t, cfg, r).Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	// chunk 2 grew from 500k to 1M
	if len(r.runs) != 1 || r.runs[0] != 2 {
		t.Errorf("runs = %v, want [2]", r.runs)
	}
	if merged.TotalMass() != 3_000_000 {
		t.Errorf("TotalMass() = %d", merged.TotalMass())
	}
}

func TestAggregateIncomplete(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{t: t, skip: map[int]bool{1: true}}
	_, err := newAggregator(t, testConfig(dir), r).Aggregate(context.Background())

	if !errors.Is(err, ErrIncompleteAggregation) {
		t.Fatalf("Aggregate() error = %v, want ErrIncompleteAggregation", err)
	}
	var ie *IncompleteError
	if !errors.As(err, &ie) || len(ie.Missing) != 1 || ie.Missing[0] != 1 {
		t.Errorf("IncompleteError = %+v", ie)
	}
	if _, err := os.Stat(MergedPath(dir, "d9_p0.001")); !errors.Is(err, os.ErrNotExist) {
		t.Error("merged output written for incomplete aggregation")
	}
}

func TestAggregateRunnerError(t *testing.T) {
	boom := errors.New("simulator exited 1")
	r := &fakeRunner{t: t, err: boom}
	_, err := newAggregator(t, testConfig(t.TempDir()), r).Aggregate(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Aggregate() error = %v, want %v", err, boom)
	}
}

func TestAggregateVerifyMass(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.VerifyMass = true
	writeArtifact(t, ArtifactPath(dir, cfg.Name, 0), 999_999)

	_, err := newAggregator(t, cfg, &fakeRunner{t: t}).Aggregate(context.Background())
	if !errors.Is(err, ErrMassMismatch) {
		t.Errorf("Aggregate() error = %v, want ErrMassMismatch", err)
	}
}

func TestAggregateIncompatibleChunks(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Label = ""

	other, err := histogram.New(1e-9, 1, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Record(1e-6, 1_000_000); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ArtifactPath(dir, cfg.Name, 0), []byte(other.ToLine()+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := RunnerFunc(func(_ context.Context, c Chunk) (string, error) {
		return c.Path, os.WriteFile(c.Path, []byte(chunkHistogram(t, c.Length).ToLine()+"\n"), 0o644)
	})
	_, err = newAggregator(t, cfg, r).Aggregate(context.Background())
	if !errors.Is(err, histogram.ErrIncompatible) {
		t.Errorf("Aggregate() error = %v, want ErrIncompatible", err)
	}
}

func TestAggregateCompressRetention(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Retention = RetainCompress

	m1, err := newAggregator(t, cfg, &fakeRunner{t: t}).Aggregate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		p := ArtifactPath(dir, cfg.Name, i)
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("raw artifact %d still present", i)
		}
		h, err := LoadArtifact(p+".xz", cfg.Label)
		if err != nil {
			t.Fatalf("LoadArtifact(xz) error = %v", err)
		}
		if i == 2 && h.TotalMass() != 500_000 {
			t.Errorf("compressed chunk 2 mass = %d", h.TotalMass())
		}
	}

	// without the ledger, compressed artifacts still count as present
	if err := os.Remove(LedgerPath(dir, cfg.Name)); err != nil {
		t.Fatal(err)
	}
	r := &fakeRunner{t: t}
	m2, err := newAggregator(t, cfg, r).Aggregate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.runs) != 0 {
		t.Errorf("runs = %v, want none", r.runs)
	}
	if !m1.Equal(m2) {
		t.Error("merge from compressed artifacts differs")
	}
}

func TestAggregateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newAggregator(t, testConfig(t.TempDir()), &fakeRunner{t: t}).Aggregate(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Aggregate() error = %v, want context.Canceled", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no dir", func(c *Config) { c.Dir = "" }, true},
		{"path in name", func(c *Config) { c.Name = "a/b" }, true},
		{"zero chunk size", func(c *Config) { c.MaxChunkSize = 0 }, true},
		{"bad retention", func(c *Config) { c.Retention = "shred" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("/tmp/x")
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Artifacts
// =============================================================================

func TestLoadArtifactLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x_0.profile")
	writeArtifact(t, path, 100)

	h, err := LoadArtifact(path, "latency_benchmarker")
	if err != nil {
		t.Fatal(err)
	}
	if h.TotalMass() != 100 {
		t.Errorf("labelled TotalMass() = %d, want 100", h.TotalMass())
	}

	h, err = LoadArtifact(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if h.TotalMass() != 0 {
		t.Errorf("first line TotalMass() = %d, want 0 (cpu wall line)", h.TotalMass())
	}

	if _, err := LoadArtifact(path, "missing_benchmarker"); !errors.Is(err, histogram.ErrParse) {
		t.Errorf("LoadArtifact(missing label) error = %v, want ErrParse", err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "old")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		ArtifactPath(dir, "d9", 10),
		ArtifactPath(dir, "d9", 2),
		ArtifactPath(sub, "d9", 0) + ".xz",
		ArtifactPath(dir, "d11", 0),
		filepath.Join(dir, "d9.hist"),
	} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := Discover(dir, "d9")
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	wantIdx := []int{0, 2, 10}
	if len(got) != len(wantIdx) {
		t.Fatalf("Discover() = %+v, want indices %v", got, wantIdx)
	}
	for i, a := range got {
		if a.Index != wantIdx[i] {
			t.Errorf("artifact %d index = %d, want %d", i, a.Index, wantIdx[i])
		}
	}
	if !got[0].Compressed {
		t.Error("xz artifact not marked compressed")
	}
}

func TestLedgerTornLine(t *testing.T) {
	dir := t.TempDir()
	l := &ledger{path: filepath.Join(dir, "x.chunks")}
	h := chunkHistogram(t, 10)
	if err := l.append([]ledgerEntry{{Index: 0, Length: 10, Histogram: h}}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("1 10 <lower>1.000e-09<upp")
	f.Close()

	entries, err := l.load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if len(entries) != 1 || !entries[0].Histogram.Equal(h) {
		t.Errorf("load() = %+v", entries)
	}

	// a malformed line in the middle is an error
	f, _ = os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString("\n2 10 <lower>1.000e-09<upper>1.000e+00<N>2000[underflow]0[overflow]0\n")
	f.Close()
	if _, err := l.load(); !errors.Is(err, histogram.ErrParse) {
		t.Errorf("load() error = %v, want ErrParse", err)
	}
}
