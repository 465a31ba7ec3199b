package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-decoder-bench/internal/batch"
	"github.com/randomizedcoder/go-decoder-bench/internal/search"
)

func newTestModel() Model {
	return New(Config{
		RunID:       "0f8fad5b-d9cb-469f-a165-70867728950e",
		MetricsAddr: "localhost:17091",
		Targets:     []string{"d3", "d5"},
	})
}

func send(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func event(target string, kind batch.EventKind, fill func(*batch.Event)) EventMsg {
	ev := batch.Event{Target: target, Kind: kind}
	if fill != nil {
		fill(&ev)
	}
	return EventMsg{Event: ev}
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	m := newTestModel()

	if len(m.Rows()) != 2 || m.Rows()[0].Name != "d3" || m.Rows()[1].Name != "d5" {
		t.Errorf("rows = %+v", m.Rows())
	}
	if m.metricsAddr != "localhost:17091" {
		t.Errorf("metricsAddr = %s", m.metricsAddr)
	}
	if m.width != 80 || m.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", m.width, m.height)
	}
	if m.Progress() != 0 || m.Done() {
		t.Error("new model should have no progress")
	}
}

func TestModel_Init(t *testing.T) {
	if cmd := newTestModel().Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		name     string
		msg      tea.KeyMsg
		wantQuit bool
	}{
		{"q", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}, true},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, true},
		{"esc", tea.KeyMsg{Type: tea.KeyEsc}, true},
		{"d", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}, false},
		{"r", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")}, false},
		{"x", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, cmd := newTestModel().Update(tt.msg)
			m := next.(Model)

			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_ToggleDetailedView(t *testing.T) {
	d := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}

	m := send(newTestModel(), d)
	if !m.detailedView {
		t.Fatal("detailedView should be true after 'd'")
	}
	if !strings.Contains(m.View(), "Recent Activity") {
		t.Error("detailed view should list recent activity")
	}

	m = send(m, d)
	if m.detailedView {
		t.Error("detailedView should be false after second 'd'")
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	m := send(newTestModel(), tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	next, cmd := newTestModel().Update(QuitMsg{})
	if !next.(Model).quitting || cmd == nil {
		t.Error("QuitMsg should quit")
	}
	if next.(Model).View() != "" {
		t.Error("quitting model should render nothing")
	}
}

// =============================================================================
// Tests: Update - Batch Events
// =============================================================================

func TestModel_Update_Events(t *testing.T) {
	m := send(newTestModel(),
		event("d3", batch.EventStage, func(e *batch.Event) { e.Stage = batch.StageSearch }),
		event("d3", batch.EventState, func(e *batch.Event) { e.State = search.StateProbing }),
		event("d3", batch.EventProbe, func(e *batch.Event) { e.Iteration, e.Value = 0, 300 }),
		event("d3", batch.EventOutcome, func(e *batch.Event) { e.Value, e.Err = 300, errors.New("route failed") }),
		event("d3", batch.EventProbe, func(e *batch.Event) { e.Iteration, e.Value = 1, 210 }),
		event("d3", batch.EventOutcome, func(e *batch.Event) { e.Iteration, e.Value = 1, 210 }),
		event("d3", batch.EventState, func(e *batch.Event) { e.State = search.StateConverged }),
		event("d3", batch.EventBest, func(e *batch.Event) { e.Value = 210 }),
		event("d3", batch.EventBudget, func(e *batch.Event) { e.Samples = 1_000_000 }),
		event("d3", batch.EventChunk, func(e *batch.Event) { e.Chunk, e.Chunks = 1, 3 }),
		event("d3", batch.EventAnalyzed, func(e *batch.Event) { e.Latency, e.Cutoff = 6.5e-7, 2e-6 }),
		event("unknown", batch.EventBest, func(e *batch.Event) { e.Value = 1 }),
	)

	r := m.Rows()[0]
	if r.Stage != batch.StageSearch || r.State != search.StateConverged {
		t.Errorf("stage/state = %s/%s", r.Stage, r.State)
	}
	if r.Iteration != 1 || r.Candidate != 210 || r.Best != 210 || r.Failures != 1 {
		t.Errorf("search fields = %+v", r)
	}
	if r.Samples != 1_000_000 || r.Chunk != 2 || r.Chunks != 3 {
		t.Errorf("chunk fields = %+v", r)
	}
	if r.Average != 6.5e-7 || r.Cutoff != 2e-6 {
		t.Errorf("latency fields = %+v", r)
	}
	if m.Rows()[1] != (TargetRow{Name: "d5"}) {
		t.Errorf("untouched row changed: %+v", m.Rows()[1])
	}

	joined := strings.Join(m.recent, "\n")
	for _, want := range []string{"d3: search started", "at 300 failed: route failed", "at 210 optimal", "d3: best 210", "1.0M samples"} {
		if !strings.Contains(joined, want) {
			t.Errorf("activity missing %q:\n%s", want, joined)
		}
	}
}

func TestModel_Update_EventsDoNotMutateEarlierModel(t *testing.T) {
	before := newTestModel()
	after := send(before, event("d3", batch.EventBest, func(e *batch.Event) { e.Value = 180 }))

	if before.Rows()[0].Best != 0 {
		t.Error("earlier model mutated")
	}
	if after.Rows()[0].Best != 180 {
		t.Error("event not applied")
	}
}

func TestModel_Finished(t *testing.T) {
	m := send(newTestModel(),
		event("d3", batch.EventFinished, nil),
		event("d5", batch.EventStage, func(e *batch.Event) { e.Stage = batch.StageBudget }),
		event("d5", batch.EventFinished, func(e *batch.Event) { e.Err = errors.New("estimate failed") }),
	)

	finished, failed := m.Finished()
	if finished != 2 || failed != 1 {
		t.Errorf("Finished() = %d, %d; want 2, 1", finished, failed)
	}
	if m.Progress() != 1 {
		t.Errorf("Progress() = %v, want 1", m.Progress())
	}
	if m.Rows()[0].Stage != batch.StageDone {
		t.Errorf("succeeded stage = %s, want done", m.Rows()[0].Stage)
	}
	if m.Rows()[1].Stage != batch.StageBudget {
		t.Errorf("failed stage = %s, want budget", m.Rows()[1].Stage)
	}

	m = send(m, DoneMsg{})
	if !m.Done() {
		t.Error("DoneMsg not applied")
	}
	if !strings.Contains(m.View(), "1 of 2 targets failed") {
		t.Errorf("view missing failure status:\n%s", m.View())
	}
}

func TestModel_RecentIsBounded(t *testing.T) {
	m := newTestModel()
	for i := 0; i < maxRecent+50; i++ {
		m = send(m, event("d3", batch.EventBest, func(e *batch.Event) { e.Value = i }))
	}
	if len(m.recent) != maxRecent {
		t.Errorf("recent = %d lines, want %d", len(m.recent), maxRecent)
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View(t *testing.T) {
	m := send(newTestModel(),
		tea.WindowSizeMsg{Width: 120, Height: 40},
		event("d3", batch.EventStage, func(e *batch.Event) { e.Stage = batch.StageLatency }),
		event("d3", batch.EventBest, func(e *batch.Event) { e.Value = 180 }),
		event("d3", batch.EventChunk, func(e *batch.Event) { e.Chunk, e.Chunks = 0, 3 }),
	)

	view := m.View()
	for _, want := range []string{
		"go-decoder-bench",
		"Run: 0f8fad5b",
		"Targets: 0/2",
		"Batch Progress",
		"Calibrating... 0/2 finished",
		"d3",
		"latency",
		"180",
		"1/3",
		"queued",
		"http://localhost:17091/metrics",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestSendHelpers_NilProgram(t *testing.T) {
	// Must not panic without a running program.
	SendEvent(nil, batch.Event{})
	SendDone(nil, nil, nil)
	SendQuit(nil)
}
