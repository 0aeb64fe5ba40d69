package tui

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor   = lipgloss.Color("#00FFFF")
	secondaryColor = lipgloss.Color("#FF6B9D")
	accentColor    = lipgloss.Color("#00FF88")
	dangerColor    = lipgloss.Color("#FF4444")
	subColor       = lipgloss.Color("241")

	logoStyle = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)

	headerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")).Italic(true)

	targetStyle = lipgloss.NewStyle().Foreground(secondaryColor).Bold(true)
	metaStyle   = lipgloss.NewStyle().Foreground(subColor)
	dividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	questionHeader = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AAFF")).Bold(true).MarginTop(1)
	finalValue     = lipgloss.NewStyle().Foreground(secondaryColor).Bold(true)

	successText = lipgloss.NewStyle().Foreground(accentColor)
	warnText    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))
	errText     = lipgloss.NewStyle().Foreground(dangerColor)
	infoText    = lipgloss.NewStyle().Foreground(primaryColor)
)

const asciiLogo = `⚡ STABLEREQ`

// MakeNeonTheme builds the form theme used by every interactive prompt.
func MakeNeonTheme() *huh.Theme {
	t := huh.ThemeCharm()
	t.Focused.Title = t.Focused.Title.Foreground(primaryColor).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(subColor)
	t.Focused.Base = t.Focused.Base.BorderForeground(secondaryColor)
	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(secondaryColor)
	t.Focused.TextInput.Placeholder = t.Focused.TextInput.Placeholder.Foreground(lipgloss.Color("240"))
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(accentColor).SetString("› ")
	t.Focused.Option = t.Focused.Option.Foreground(lipgloss.Color("250"))
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(primaryColor).Bold(true)
	return t
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// GetSpinnerFrame returns the spinner glyph for tick n.
func GetSpinnerFrame(n int) string {
	return spinnerFrames[n%len(spinnerFrames)]
}
