package histogram

import (
	"errors"
	"strings"
	"testing"
)

func TestToLine_Format(t *testing.T) {
	h := NewDefault()
	h.Record(1e-6, 1)
	h.Record(5e-7, 3)
	h.Record(1e-12, 2)

	want := "<lower>1.000e-09<upper>1.000e+00<N>2000[599]3[666]1[underflow]2[overflow]0"
	if got := h.ToLine(); got != want {
		t.Errorf("ToLine() = %q, want %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		h := randomHistogram(t, seed, 1000)
		parsed, err := FromLine(h.ToLine())
		if err != nil {
			t.Fatalf("FromLine() error = %v", err)
		}
		if !parsed.Equal(h) {
			t.Errorf("seed %d: round trip mismatch", seed)
		}
		if parsed.ToLine() != h.ToLine() {
			t.Errorf("seed %d: line not stable", seed)
		}
	}
}

func TestRoundTrip_BoundPrecision(t *testing.T) {
	h, _ := New(1.23456e-8, 0.987654, 100)
	h.Record(1e-5, 4)

	parsed, err := FromLine(h.ToLine())
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Shape().Lower != 1.235e-8 || parsed.Shape().Upper != 0.9877 {
		t.Errorf("parsed bounds = %g/%g", parsed.Shape().Lower, parsed.Shape().Upper)
	}
	if !parsed.Shape().Compatible(h.Shape()) {
		t.Error("parsed shape should stay compatible with original")
	}
	if _, err := parsed.Merge(h); err != nil {
		t.Errorf("Merge(parsed, original) error = %v", err)
	}
}

func TestFromLine_Variants(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantMass  uint64
		wantCount map[int]uint64
	}{
		{
			name:      "short exponent",
			line:      "<lower>1.000e-9<upper>1.000e0<N>2000[666]1[695]23[underflow]0[overflow]0",
			wantMass:  24,
			wantCount: map[int]uint64{666: 1, 695: 23},
		},
		{
			name:      "tool prefix and trailing newline",
			line:      "latency_benchmarker<lower>1.000e-09<upper>1.000e+00<N>2000[3]7[underflow]1[overflow]2\n",
			wantMass:  10,
			wantCount: map[int]uint64{3: 7},
		},
		{
			name:     "no buckets",
			line:     "<lower>1.000e-09<upper>1.000e+00<N>10[underflow]0[overflow]0",
			wantMass: 0,
		},
		{
			name:      "large counts",
			line:      "<lower>1.000e-09<upper>1.000e+00<N>10[9]18446744073709551615[underflow]0[overflow]0",
			wantMass:  18446744073709551615,
			wantCount: map[int]uint64{9: 18446744073709551615},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := FromLine(tt.line)
			if err != nil {
				t.Fatalf("FromLine() error = %v", err)
			}
			if h.TotalMass() != tt.wantMass {
				t.Errorf("TotalMass() = %d, want %d", h.TotalMass(), tt.wantMass)
			}
			for idx, c := range tt.wantCount {
				if h.Count(idx) != c {
					t.Errorf("Count(%d) = %d, want %d", idx, h.Count(idx), c)
				}
			}
		})
	}
}

func TestFromLine_Errors(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantShape bool
	}{
		{"empty", "", false},
		{"garbage", "hello world", false},
		{"missing overflow", "<lower>1.000e-09<upper>1.000e+00<N>10[underflow]0", false},
		{"index out of range", "<lower>1.000e-09<upper>1.000e+00<N>10[10]1[underflow]0[overflow]0", false},
		{"descending index", "<lower>1.000e-09<upper>1.000e+00<N>10[5]1[4]1[underflow]0[overflow]0", false},
		{"duplicate index", "<lower>1.000e-09<upper>1.000e+00<N>10[5]1[5]1[underflow]0[overflow]0", false},
		{"bad bound", "<lower>abc<upper>1.000e+00<N>10[underflow]0[overflow]0", false},
		{"inverted bounds", "<lower>1.000e+00<upper>1.000e-09<N>10[underflow]0[overflow]0", true},
		{"zero buckets", "<lower>1.000e-09<upper>1.000e+00<N>0[underflow]0[overflow]0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromLine(tt.line)
			if !errors.Is(err, ErrParse) {
				t.Fatalf("FromLine(%q) error = %v, want ErrParse", tt.line, err)
			}
			if tt.wantShape && !errors.Is(err, ErrInvalidShape) {
				t.Errorf("FromLine(%q) error = %v, want ErrInvalidShape too", tt.line, err)
			}
		})
	}
}

func TestTextMarshaling(t *testing.T) {
	h := randomHistogram(t, 77, 200)
	text, err := h.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var decoded Histogram
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if !decoded.Equal(h) {
		t.Error("UnmarshalText(MarshalText(h)) != h")
	}
	if !ContainsLine(string(text)) || ContainsLine("nothing here") {
		t.Error("ContainsLine() misclassified input")
	}
	if !strings.HasPrefix(h.String(), "<lower>") {
		t.Errorf("String() = %q", h.String())
	}
}
