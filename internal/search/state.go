package search

// State is the lifecycle state of a search.
type State int

const (
	// StateInit is the state while the search log is being replayed.
	StateInit State = iota

	// StateProbing indicates candidates are being evaluated.
	StateProbing

	// StateConverged indicates a best value was found.
	StateConverged

	// StateFailed indicates the iteration budget ran out.
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateProbing:
		return "probing"
	case StateConverged:
		return "converged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the search has finished.
func (s State) IsTerminal() bool {
	return s == StateConverged || s == StateFailed
}
