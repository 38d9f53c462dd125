package ui

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SessionSummary is printed after leaving a room.
type SessionSummary struct {
	RoomID       string
	RoomName     string
	Participant  string
	Role         string
	Duration     time.Duration
	PeersSeen    int
	Peak         int
	Messages     int
	ScreenShares int
}

func SessionSummaryView(s SessionSummary) string {
	t := table.NewWriter()
	t.SetTitle("Session Summary")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", fmt.Sprintf("%s (%s)", s.RoomName, s.RoomID)},
		{"You", fmt.Sprintf("%s, %s", s.Participant, s.Role)},
		{"Duration", formatElapsed(s.Duration)},
		{"Participants met", s.PeersSeen},
		{"Largest call", s.Peak},
		{"Messages received", s.Messages},
		{"Screen shares", s.ScreenShares},
	})

	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Color.Header = text.Colors{text.Bold, text.FgHiGreen}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	return t.Render()
}

func RenderSessionSummary(s SessionSummary) {
	fmt.Println(SessionSummaryView(s))
}
