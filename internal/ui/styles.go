package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
)

// Huddle palette. Mint is ours, indigo marks live state.
var (
	Primary    = lipgloss.Color("#34d399")
	Secondary  = lipgloss.Color("#818cf8")
	Success    = lipgloss.Color("#10B981")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	Muted      = lipgloss.Color("#6B7280")
	Foreground = lipgloss.Color("#F9FAFB")
	panel      = lipgloss.Color("#1F2937")
)

var base = lipgloss.NewStyle()

var (
	TitleStyle   = base.Bold(true).Foreground(Primary)
	SuccessStyle = base.Bold(true).Foreground(Success)
	ErrorStyle   = base.Bold(true).Foreground(Error)
	WarningStyle = base.Foreground(Warning)
	MutedStyle   = base.Foreground(Muted)
	BoldStyle    = base.Bold(true)
	SpinnerStyle = base.Foreground(Primary)

	// BadgeStyle marks a live state such as screen sharing.
	BadgeStyle = base.Bold(true).Padding(0, 1).Foreground(Foreground).Background(Secondary)

	HeaderStyle = base.Bold(true).Padding(0, 2).MarginBottom(1).Foreground(Primary).Background(panel)
	FooterStyle = base.MarginTop(1).Foreground(Muted)

	SuccessBoxStyle = base.Border(lipgloss.DoubleBorder()).BorderForeground(Success).Padding(1, 2)
)

// Participant table cells.
var (
	TableHeaderStyle = base.Bold(true).Align(lipgloss.Center).Foreground(Primary)
	TableRowStyle    = base.Padding(0, 1).Foreground(lipgloss.Color("255"))
	TableRowAltStyle = base.Padding(0, 1).Foreground(lipgloss.Color("245"))
)

var presenceStyles = map[room.Presence]lipgloss.Style{
	room.PresenceActive:   base.Foreground(Success),
	room.PresenceInactive: WarningStyle,
}

func renderPresence(p room.Presence) string {
	if s, ok := presenceStyles[p]; ok {
		return s.Render(string(p))
	}
	return MutedStyle.Render(string(p))
}

// renderDevice shows whether a local capture device is publishing.
func renderDevice(icon string, on bool) string {
	if on {
		return icon + " on"
	}
	return MutedStyle.Render(icon + " off")
}

const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconRoom    = "🚪"
	IconPeer    = "👤"
	IconHost    = "⭐"
	IconScreen  = "🖥️"
	IconMic     = "🎙️"
	IconCamera  = "📷"
	IconData    = "💬"
	IconCopy    = "📋"
	IconWeb     = "🌐"
	IconTime    = "⏱️"
)

func printLine(icon, msg string) {
	fmt.Printf("%s %s\n", icon, msg)
}

func PrintError(msg string) {
	printLine(ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	printLine(WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func PrintInfo(msg string) {
	printLine(IconInfo, msg)
}
