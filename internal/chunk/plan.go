// Package chunk splits a large sampling run into bounded chunks, runs each
// chunk through an external collaborator, and merges the per-chunk latency
// histograms. A run can be killed and restarted at any point: chunks whose
// artifacts or ledger entries already exist are not run again.
package chunk

import (
	"fmt"
)

// Chunk is one planned unit of work.
type Chunk struct {
	Index  int
	Length int64

	// Path is where the collaborator is expected to write the artifact.
	Path string
}

// Plan splits total samples into ceil(total/max) chunks of at most max
// samples each. All chunks but the last are full.
func Plan(total, max int64) ([]int64, error) {
	if total < 0 {
		return nil, fmt.Errorf("total samples must not be negative (got %d)", total)
	}
	if max <= 0 {
		return nil, fmt.Errorf("max chunk size must be positive (got %d)", max)
	}
	n := (total + max - 1) / max
	lengths := make([]int64, 0, n)
	for remaining := total; remaining > 0; remaining -= max {
		lengths = append(lengths, min(remaining, max))
	}
	return lengths, nil
}
