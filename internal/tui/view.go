package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-decoder-bench/internal/search"
	"github.com/randomizedcoder/go-decoder-bench/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
		m.renderTargetTable(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the recent activity.
func (m Model) renderDetailedView() string {
	sections := []string{
		m.renderHeader(),
		m.renderActivity(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	finished, _ := m.Finished()
	header := fmt.Sprintf(
		" go-decoder-bench │ Run: %s │ Targets: %d/%d │ Elapsed: %s ",
		shortID(m.runID),
		finished,
		len(m.rows),
		stats.FormatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(m.Progress(), barWidth)

	finished, failed := m.Finished()
	var status string
	switch {
	case m.done && failed > 0:
		status = statusError.Render(fmt.Sprintf("✗ Batch finished, %d of %d targets failed", failed, len(m.rows)))
	case m.done && m.doneErr != nil:
		status = statusWarning.Render(fmt.Sprintf("✗ Batch stopped: %v", m.doneErr))
	case m.done:
		status = statusOK.Render("✓ All targets calibrated")
	default:
		status = statusInfo.Render(fmt.Sprintf("Calibrating... %d/%d finished", finished, len(m.rows)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Batch Progress"),
		progressBar,
		status,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Target Table
// =============================================================================

const rowFormat = "%-14s %-9s %-13s %9s %7s %9s %11s %11s"

func (m Model) renderTargetTable() string {
	lines := []string{
		sectionHeaderStyle.Render("Targets"),
		tableHeaderStyle.Render(fmt.Sprintf(rowFormat,
			"Target", "Stage", "Search", "Candidate", "Best", "Chunks", "Average", "Cutoff")),
	}

	for i, r := range m.rows {
		style := tableRowEvenStyle
		if i%2 == 1 {
			style = tableRowOddStyle
		}
		lines = append(lines, renderRow(r, style))
	}
	if len(m.rows) == 0 {
		lines = append(lines, dimStyle.Render("(no targets)"))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderRow(r TargetRow, style lipgloss.Style) string {
	stage := string(r.Stage)
	if stage == "" {
		stage = "queued"
	}

	candidate, best := "-", "-"
	if r.Candidate > 0 {
		candidate = fmt.Sprintf("%d", r.Candidate)
	}
	if r.Best > 0 {
		best = fmt.Sprintf("%d", r.Best)
	}

	chunks := "-"
	if r.Chunks > 0 {
		chunks = fmt.Sprintf("%d/%d", r.Chunk, r.Chunks)
	}

	avg, cutoff := "-", "-"
	if r.Average > 0 {
		avg = stats.FormatLatency(r.Average)
	}
	if r.Cutoff > 0 {
		cutoff = stats.FormatLatency(r.Cutoff)
	}

	// Pad the plain text first so styling does not break the columns.
	name := fmt.Sprintf("%-14s", truncate(r.Name, 14))
	stageCol := GetStageStyle(r.Stage, r.Err != nil).Render(fmt.Sprintf("%-9s", stage))
	state := stateLabel(r)
	rest := style.Render(fmt.Sprintf("%9s %7s %9s %11s %11s", candidate, best, chunks, avg, cutoff))

	return lipgloss.JoinHorizontal(lipgloss.Left, style.Render(name), " ", stageCol, " ", state, " ", rest)
}

// stateLabel is padded to the Search column of rowFormat.
func stateLabel(r TargetRow) string {
	if r.State == search.StateInit && r.Candidate == 0 {
		return dimStyle.Render(fmt.Sprintf("%-13s", "-"))
	}
	label := GetStateLabel(r.State)
	pad := 13 - lipgloss.Width(label)
	if pad < 0 {
		pad = 0
	}
	return label + strings.Repeat(" ", pad)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// =============================================================================
// Activity (Detailed View)
// =============================================================================

func (m Model) renderActivity() string {
	// Header, progress and footer take roughly ten lines.
	visible := m.height - 10
	if visible < 5 {
		visible = 5
	}
	recent := m.recent
	if len(recent) > visible {
		recent = recent[len(recent)-visible:]
	}

	finished, failed := m.Finished()
	lines := []string{
		RenderKeyValue("Run ID", m.runID),
		RenderKeyValue("Finished", fmt.Sprintf("%d/%d (%d failed)", finished, len(m.rows), failed)),
		"",
		sectionHeaderStyle.Render("Recent Activity"),
	}
	for _, l := range recent {
		lines = append(lines, mutedStyle.Render(l))
	}
	if len(recent) == 0 {
		lines = append(lines, dimStyle.Render("(nothing yet)"))
	}

	var failures []string
	for _, r := range m.rows {
		if r.Err != nil {
			failures = append(failures, fmt.Sprintf("%s (%s): %v", r.Name, r.Stage, r.Err))
		}
	}
	if len(failures) > 0 {
		lines = append(lines, "", sectionHeaderStyle.Render("Failures"))
		for _, f := range failures {
			lines = append(lines, statusError.Render(f))
		}
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	// Keyboard shortcuts
	shortcuts := []string{
		"q: quit",
		"d: toggle activity",
		"r: refresh",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	// Pad to fill width
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
