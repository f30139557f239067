package export

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorWhite  = lipgloss.Color("#F8F8F2")
	colorGray   = lipgloss.Color("#6272A4")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan).MarginTop(1)
	labelStyle   = lipgloss.NewStyle().Foreground(colorGray)
	valueStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	warnStyle    = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle    = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	dumpStyle    = lipgloss.NewStyle().Foreground(colorGray).PaddingLeft(2)
)
