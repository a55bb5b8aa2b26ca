package console

import "github.com/charmbracelet/lipgloss"

var (
	faintStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"})
	recStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
	capturedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	playingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672"))
)
