package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Status icons
	iconOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Render("✓")
	iconError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	iconInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Render("•")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	activeTabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true).
			Underline(true)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	focusedLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("86"))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	errorBannerStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("196")).
				Padding(0, 1)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true)
)

// statusKind selects the icon and color of a status line.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusError
)

func statusIcon(kind statusKind) string {
	switch kind {
	case statusOK:
		return iconOK
	case statusError:
		return iconError
	default:
		return iconInfo
	}
}
