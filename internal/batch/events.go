package batch

import (
	"github.com/randomizedcoder/go-decoder-bench/internal/search"
)

// EventKind classifies an Event.
type EventKind int

const (
	EventStage EventKind = iota
	EventState
	EventProbe
	EventOutcome
	EventBest
	EventBudget
	EventChunk
	EventAnalyzed
	EventFinished
)

// String returns a human-readable name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventStage:
		return "stage"
	case EventState:
		return "state"
	case EventProbe:
		return "probe"
	case EventOutcome:
		return "outcome"
	case EventBest:
		return "best"
	case EventBudget:
		return "budget"
	case EventChunk:
		return "chunk"
	case EventAnalyzed:
		return "analyzed"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is a progress notification for one target. Only the fields of
// its Kind are set.
type Event struct {
	Target string
	Kind   EventKind

	Stage Stage        // EventStage
	State search.State // EventState

	Iteration  int               // EventProbe, EventOutcome
	Value      int               // candidate (probe, outcome) or best value
	Suggestion search.Suggestion // EventOutcome

	Samples int64 // EventBudget, EventAnalyzed

	Chunk   int    // EventChunk: chunk index
	Chunks  int    // EventChunk: planned chunks
	Outcome string // EventChunk

	Latency float64 // EventAnalyzed: average latency
	Cutoff  float64 // EventAnalyzed: 0 when unavailable

	Err error // EventOutcome, EventFinished
}
