package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme holds every style of the panel for one background.
type Theme struct {
	Name string

	Header    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Media     lipgloss.Style
	Status    lipgloss.Style
	Entry     lipgloss.Style
	Card      lipgloss.Style
	Selected  lipgloss.Style
	Hint      lipgloss.Style
	Error     lipgloss.Style
}

func newTheme(name string, accent, text, muted, bubble lipgloss.Color) Theme {
	return Theme{
		Name:   name,
		Header: lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1),
		User: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Foreground(text).
			Padding(0, 1),
		Assistant: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Foreground(text).
			Background(bubble).
			Padding(0, 1),
		Media: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(muted).
			Foreground(text).
			Padding(0, 1),
		Status:   lipgloss.NewStyle().Italic(true).Foreground(muted),
		Entry:    lipgloss.NewStyle().Bold(true).Foreground(text).MarginBottom(1),
		Card:     lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(muted).Padding(0, 2),
		Selected: lipgloss.NewStyle().Border(lipgloss.ThickBorder()).BorderForeground(accent).Padding(0, 2),
		Hint:     lipgloss.NewStyle().Foreground(muted),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
	}
}

func DarkTheme() Theme {
	return newTheme("dark", lipgloss.Color("129"), lipgloss.Color("252"), lipgloss.Color("244"), lipgloss.Color("236"))
}

func LightTheme() Theme {
	return newTheme("light", lipgloss.Color("91"), lipgloss.Color("235"), lipgloss.Color("245"), lipgloss.Color("254"))
}

// ThemeDetector reports whether the terminal has a dark background. It is
// polled so the panel follows a terminal that switches its colors.
type ThemeDetector func() bool

// ThemeFor resolves a class mode to a theme. auto asks detect.
func ThemeFor(classMode string, detect ThemeDetector) Theme {
	switch classMode {
	case "dark":
		return DarkTheme()
	case "light":
		return LightTheme()
	}
	if detect == nil {
		detect = lipgloss.HasDarkBackground
	}
	if detect() {
		return DarkTheme()
	}
	return LightTheme()
}
