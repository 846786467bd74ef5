package ui

import "github.com/charmbracelet/lipgloss"

var (
	StatusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	ErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Italic(true)
	WarningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	SystemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	CommandStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	TransferStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	TimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Faint(true)
	PromptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	HelpBoxStyle   = lipgloss.NewStyle().Padding(1, 2).Border(lipgloss.RoundedBorder())
)
