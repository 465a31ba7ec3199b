package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-decoder-bench/internal/batch"
	"github.com/randomizedcoder/go-decoder-bench/internal/search"
	"github.com/randomizedcoder/go-decoder-bench/internal/stats"
)

// maxRecent bounds the activity list of the detailed view.
const maxRecent = 200

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// EventMsg carries one batch progress event.
type EventMsg struct {
	Event batch.Event
}

// DoneMsg signals the batch finished.
type DoneMsg struct {
	Report *batch.Report
	Err    error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// TargetRow is the dashboard state of one target.
type TargetRow struct {
	Name      string
	Stage     batch.Stage
	State     search.State
	Iteration int
	Candidate int
	Best      int
	Failures  int
	Samples   int64
	Chunk     int // chunks processed
	Chunks    int // chunks planned
	Average   float64
	Cutoff    float64
	Err       error
	Finished  bool
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	runID       string
	metricsAddr string

	// Current state
	rows         []TargetRow
	index        map[string]int
	recent       []string
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool
	done         bool
	doneErr      error

	// Display options
	width  int
	height int

	// Quit flag
	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	RunID       string
	MetricsAddr string
	Targets     []string // target names in declaration order
}

// New creates a new TUI model.
func New(cfg Config) Model {
	m := Model{
		runID:       cfg.RunID,
		metricsAddr: cfg.MetricsAddr,
		rows:        make([]TargetRow, len(cfg.Targets)),
		index:       make(map[string]int, len(cfg.Targets)),
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
	for i, name := range cfg.Targets {
		m.rows[i] = TargetRow{Name: name}
		m.index[name] = i
	}
	return m
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program,
	// so we don't need tea.EnterAltScreen here.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			// Force refresh
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case EventMsg:
		m = m.apply(msg.Event)
		m.lastUpdate = time.Now()
		return m, nil

	case DoneMsg:
		m.done, m.doneErr = true, msg.Err
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// apply folds one event into the target rows. Rows are copied so earlier
// models stay unchanged.
func (m Model) apply(ev batch.Event) Model {
	i, ok := m.index[ev.Target]
	if !ok {
		return m
	}
	rows := make([]TargetRow, len(m.rows))
	copy(rows, m.rows)
	r := &rows[i]

	switch ev.Kind {
	case batch.EventStage:
		r.Stage = ev.Stage
	case batch.EventState:
		r.State = ev.State
	case batch.EventProbe:
		r.Iteration, r.Candidate = ev.Iteration, ev.Value
	case batch.EventOutcome:
		if ev.Err != nil {
			r.Failures++
		}
	case batch.EventBest:
		r.Best = ev.Value
	case batch.EventBudget:
		r.Samples = ev.Samples
	case batch.EventChunk:
		r.Chunk, r.Chunks = ev.Chunk+1, ev.Chunks
	case batch.EventAnalyzed:
		r.Average, r.Cutoff = ev.Latency, ev.Cutoff
		if r.Samples == 0 {
			r.Samples = ev.Samples
		}
	case batch.EventFinished:
		r.Finished, r.Err = true, ev.Err
		if ev.Err == nil {
			r.Stage = batch.StageDone
		}
	}
	m.rows = rows

	if line := describe(ev); line != "" {
		recent := append(append([]string(nil), m.recent...), line)
		if len(recent) > maxRecent {
			recent = recent[len(recent)-maxRecent:]
		}
		m.recent = recent
	}
	return m
}

// describe renders an event for the activity list. Chunk and state
// events are too frequent to list.
func describe(ev batch.Event) string {
	switch ev.Kind {
	case batch.EventStage:
		return fmt.Sprintf("%s: %s started", ev.Target, ev.Stage)
	case batch.EventOutcome:
		switch {
		case ev.Err != nil:
			return fmt.Sprintf("%s: iteration %d at %d failed: %v", ev.Target, ev.Iteration, ev.Value, ev.Err)
		case !ev.Suggestion.Present:
			return fmt.Sprintf("%s: iteration %d at %d optimal", ev.Target, ev.Iteration, ev.Value)
		default:
			return fmt.Sprintf("%s: iteration %d at %d suggested %g", ev.Target, ev.Iteration, ev.Value, ev.Suggestion.Value)
		}
	case batch.EventBest:
		return fmt.Sprintf("%s: best %d", ev.Target, ev.Value)
	case batch.EventBudget:
		return fmt.Sprintf("%s: %s samples", ev.Target, stats.FormatNumber(ev.Samples))
	case batch.EventAnalyzed:
		return fmt.Sprintf("%s: average %s cutoff %s", ev.Target, stats.FormatLatency(ev.Latency), stats.FormatLatency(ev.Cutoff))
	case batch.EventFinished:
		if ev.Err != nil {
			return fmt.Sprintf("%s: failed: %v", ev.Target, ev.Err)
		}
		return fmt.Sprintf("%s: finished", ev.Target)
	}
	return ""
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the batch started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Rows returns the target rows in declaration order.
func (m Model) Rows() []TargetRow {
	return m.rows
}

// Finished returns the number of finished targets and how many failed.
func (m Model) Finished() (finished, failed int) {
	for _, r := range m.rows {
		if r.Finished {
			finished++
			if r.Err != nil {
				failed++
			}
		}
	}
	return finished, failed
}

// Progress returns the batch progress (0.0 to 1.0).
func (m Model) Progress() float64 {
	if len(m.rows) == 0 {
		return 0
	}
	finished, _ := m.Finished()
	return float64(finished) / float64(len(m.rows))
}

// Done reports whether the batch finished.
func (m Model) Done() bool {
	return m.done
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendEvent forwards a batch event to the TUI. Safe to use as
// batch.Options.OnEvent.
func SendEvent(p *tea.Program, ev batch.Event) {
	if p != nil {
		p.Send(EventMsg{Event: ev})
	}
}

// SendDone tells the TUI the batch finished.
func SendDone(p *tea.Program, rep *batch.Report, err error) {
	if p != nil {
		p.Send(DoneMsg{Report: rep, Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
