package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors.
	colorPrimary   = lipgloss.Color("#0EA5E9") // Sky blue
	colorSuccess   = lipgloss.Color("#10B981") // Green
	colorWarning   = lipgloss.Color("#F59E0B") // Amber
	colorDanger    = lipgloss.Color("#EF4444") // Red
	colorInfo      = lipgloss.Color("#3B82F6") // Blue
	colorMuted     = lipgloss.Color("#6B7280") // Gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
	colorHighlight = lipgloss.Color("#7DD3FC") // Light blue

	// Styles.
	phaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorHighlight)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	alertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorDanger)

	okStyle = lipgloss.NewStyle().
		Foreground(colorSuccess)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	logINFStyle = lipgloss.NewStyle().
			Foreground(colorInfo)

	logWRNStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	logERRStyle = lipgloss.NewStyle().
			Foreground(colorDanger)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

func logLevelStyle(level string) lipgloss.Style {
	switch level {
	case "warn", "warning":
		return logWRNStyle
	case "error", "fatal":
		return logERRStyle
	default:
		return logINFStyle
	}
}
