package tui

import (
	"github.com/charmbracelet/lipgloss"
)

const (
	colorAccent   = lipgloss.Color("62")
	colorMuted    = lipgloss.Color("240")
	colorRunning  = lipgloss.Color("yellow")
	colorFinished = lipgloss.Color("green")
	colorErrored  = lipgloss.Color("red")
)

// Pane borders
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorAccent)

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorMuted)
)

// Invocation status styles, shared by the task list, run history and
// progress bar.
var (
	StyleStatusRunning  = lipgloss.NewStyle().Foreground(colorRunning).Bold(true)
	StyleStatusComplete = lipgloss.NewStyle().Foreground(colorFinished).Bold(true)
	StyleStatusFailed   = lipgloss.NewStyle().Foreground(colorErrored).Bold(true)
	StyleStatusPending  = lipgloss.NewStyle().Foreground(colorMuted)
)

// statusGlyphs maps an invocation status to its icon. Unknown statuses are
// shown as pending.
var statusGlyphs = map[string]struct {
	icon  string
	style lipgloss.Style
}{
	statusRunning:  {"●", StyleStatusRunning},
	statusFinished: {"✓", StyleStatusComplete},
	statusErrored:  {"✗", StyleStatusFailed},
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	if g, ok := statusGlyphs[status]; ok {
		return g.style.Render(g.icon)
	}
	return StyleStatusPending.Render("○")
}

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Background(colorAccent).
			Foreground(lipgloss.Color("0"))
)

// Settings overlay
var (
	StyleSettingsTitle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)

	StyleSettingsFrame = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorAccent).
				Padding(1, 2)

	StyleSaved     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	StyleSaveError = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)
