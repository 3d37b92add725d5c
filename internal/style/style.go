package style

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPink     = lipgloss.Color("205")
	colorDarkGray = lipgloss.Color("240")
	colorCyan     = lipgloss.Color("212")
	colorGreen    = lipgloss.Color("42")
	colorRed      = lipgloss.Color("196")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	LabelStyle   = lipgloss.NewStyle().Foreground(colorDarkGray).Width(14)
	ValueStyle   = lipgloss.NewStyle().Foreground(colorCyan)
	SuccessStyle = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	ErrorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	HelpStyle    = lipgloss.NewStyle().Faint(true)
	BoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorDarkGray).Padding(0, 1)
)

// Field renders a "label value" line.
func Field(label string, value any) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), ValueStyle.Render(fmt.Sprint(value)))
}
