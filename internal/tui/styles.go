// Package tui provides a live terminal dashboard for calibration batches.
//
// It is built on Bubble Tea and styled with Lipgloss. Each target row shows
// the pipeline stage, the search state with its candidate and best
// frequency (or clock divider), chunk progress of the latency run and, once
// analysed, the average and cutoff latency.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-decoder-bench/internal/batch"
	"github.com/randomizedcoder/go-decoder-bench/internal/search"
)

// Dark theme palette.
var (
	colorAccent = lipgloss.Color("#7C3AED")
	colorTitle  = lipgloss.Color("#06B6D4")
	colorGood   = lipgloss.Color("#10B981")
	colorWarn   = lipgloss.Color("#F59E0B")
	colorBad    = lipgloss.Color("#EF4444")
	colorActive = lipgloss.Color("#3B82F6")
	colorFg     = lipgloss.Color("#E5E7EB")
	colorMuted  = lipgloss.Color("#9CA3AF")
	colorDim    = lipgloss.Color("#6B7280")
	colorRule   = lipgloss.Color("#374151")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

var (
	mutedStyle = fg(colorMuted)
	dimStyle   = fg(colorDim)

	statusOK      = fg(colorGood).Bold(true)
	statusWarning = fg(colorWarn).Bold(true)
	statusError   = fg(colorBad).Bold(true)
	statusInfo    = fg(colorActive).Bold(true)
)

// Panels.
var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRule).
			Padding(0, 1)

	headerStyle = fg(colorFg).
			Background(colorAccent).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = fg(colorTitle).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorRule)

	footerStyle = fg(colorMuted).MarginTop(1)
)

// Target table and key/value rows.
var (
	tableHeaderStyle  = fg(colorTitle).Bold(true)
	tableRowEvenStyle = fg(colorFg)
	tableRowOddStyle  = fg(colorMuted)

	labelStyle = fg(colorMuted).Width(20)
	valueStyle = fg(colorFg).Bold(true)

	barFilledStyle = fg(colorAccent)
	barEmptyStyle  = fg(colorRule)
)

// GetStageStyle returns the style of a target row: red once failed, green
// when done, dim while queued.
func GetStageStyle(stage batch.Stage, failed bool) lipgloss.Style {
	switch {
	case failed:
		return statusError
	case stage == batch.StageDone:
		return statusOK
	case stage == "":
		return dimStyle
	default:
		return statusInfo
	}
}

// GetStateLabel returns a styled search state.
func GetStateLabel(s search.State) string {
	switch s {
	case search.StateConverged:
		return statusOK.Render("● converged")
	case search.StateFailed:
		return statusError.Render("● failed")
	case search.StateProbing:
		return statusWarning.Render("● probing")
	default:
		return dimStyle.Render("○ " + s.String())
	}
}

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders chunk progress in [0, 1] as a bar of at least
// ten cells followed by the percentage.
func RenderProgressBar(progress float64, width int) string {
	width = max(width, 10)
	filled := min(max(int(progress*float64(width)), 0), width)

	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		valueStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))
}
