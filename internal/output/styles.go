package output

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/shaharwiener/mcp-sql-server/internal/finding"
	"github.com/shaharwiener/mcp-sql-server/internal/review"
)

// Colors
var (
	ColorSafe    = lipgloss.Color("#04B575") // green
	ColorWarning = lipgloss.Color("#FFB800") // yellow
	ColorDanger  = lipgloss.Color("#FF4040") // red
	ColorInfo    = lipgloss.Color("#00BFFF") // cyan
	ColorMuted   = lipgloss.Color("#666666") // gray
	ColorLabel   = lipgloss.Color("#AAAAAA") // light gray for labels
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorInfo)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorLabel).
			Width(16)

	SafeText = lipgloss.NewStyle().
			Foreground(ColorSafe).
			Bold(true)

	WarningText = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	DangerText = lipgloss.NewStyle().
			Foreground(ColorDanger).
			Bold(true)

	MutedText = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

// statusStyle picks the text style for a review status.
func statusStyle(status review.Status) lipgloss.Style {
	switch status {
	case review.Rejected:
		return DangerText
	case review.Warning:
		return WarningText
	default:
		return SafeText
	}
}

// severityStyle picks the text style for a finding severity.
func severityStyle(sev finding.Severity) lipgloss.Style {
	switch sev {
	case finding.Critical, finding.High:
		return DangerText
	case finding.Medium:
		return WarningText
	default:
		return MutedText
	}
}
