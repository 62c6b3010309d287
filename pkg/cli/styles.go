// Package cli holds the terminal styles shared by the livefn commands.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	Feint  = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#777777"}
	Orange = lipgloss.Color("#f2a55f")
	Green  = lipgloss.Color("#6cd38d")
	Red    = lipgloss.Color("#e5484d")
	Purple = lipgloss.Color("#9e8cfc")

	TextStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#222222", Dark: "#f2f2f2"})
	BoldStyle  = TextStyle.Copy().Bold(true)
	FeintStyle = TextStyle.Copy().Foreground(Feint)
	TitleStyle = BoldStyle.Copy().Foreground(Purple)
)

// RenderError renders msg as a boxed error.
func RenderError(msg string) string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Red).
		Padding(0, 1).
		Render(BoldStyle.Copy().Foreground(Red).Render("Error: ") + TextStyle.Render(msg))
}

func RenderWarning(msg string) string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Orange).
		Padding(0, 1).
		Render(TextStyle.Copy().Foreground(Orange).Render(msg))
}

// RenderBanner renders the application name and version above a tagline.
func RenderBanner(name, version, tagline string) string {
	return TitleStyle.Render(name) + " " + FeintStyle.Render("v"+version) + "\n\n" + TextStyle.Render(tagline)
}
