package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// Render formats a summary for the terminal.
func Render(s *Summary, percentiles []float64) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("INPUT LATENCY SUMMARY"))
	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render(fmt.Sprintf(
		"  %d timelines, %d connection entries, %d incomplete",
		s.Timelines, s.Connections, s.Incomplete)))
	sb.WriteString("\n")

	if len(s.Actions) == 0 {
		sb.WriteString(mutedStyle.Render("  no samples"))
		sb.WriteString("\n")
		return sb.String()
	}

	header := fmt.Sprintf("  %-14s %-14s %8s", "action", "stage", "count")
	for _, p := range percentiles {
		header += fmt.Sprintf(" %9s", fmt.Sprintf("p%g", p))
	}
	header += fmt.Sprintf(" %9s", "max")

	for _, action := range s.Actions {
		sb.WriteString("\n")
		sb.WriteString(accentStyle.Render("▸ " + strings.ToUpper(action.Action)))
		sb.WriteString("\n")
		sb.WriteString(mutedStyle.Render(header))
		sb.WriteString("\n")

		for _, stage := range action.Stages {
			row := fmt.Sprintf("  %-14s %-14s %8d", "", stage.Stage, stage.Count)
			for _, p := range percentiles {
				row += fmt.Sprintf(" %9s", formatLatency(stage.Percentiles[p]))
			}
			row += fmt.Sprintf(" %9s", formatLatency(stage.Max))
			sb.WriteString(row)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(successStyle.Render("✓ done"))
	sb.WriteString("\n")
	return sb.String()
}

// formatLatency renders nanoseconds with a human unit.
func formatLatency(ns int64) string {
	d := time.Duration(ns)
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", ns)
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(ns)/1e3)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(ns)/1e6)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
