package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
)

// ParticipantTable renders the people in a room, local participant first.
type ParticipantTable struct {
	self   room.Participant
	others []room.Participant
	now    func() time.Time
}

func NewParticipantTable(self room.Participant, others []room.Participant) *ParticipantTable {
	return &ParticipantTable{self: self, others: others, now: time.Now}
}

func (t *ParticipantTable) rows() [][]string {
	rows := make([][]string, 0, len(t.others)+1)
	rows = append(rows, t.row(t.self, " (you)"))
	for _, p := range t.others {
		rows = append(rows, t.row(p, ""))
	}
	return rows
}

func (t *ParticipantTable) row(p room.Participant, suffix string) []string {
	name := truncate(p.Name(), 28) + suffix
	if p.Role == room.RoleHost {
		name = IconHost + " " + name
	}

	since := "-"
	if !p.JoinedAt.IsZero() {
		since = formatElapsed(t.now().Sub(p.JoinedAt))
	}
	return []string{name, string(p.Role), renderPresence(p.Status), since}
}

// View renders the table as a string
func (t *ParticipantTable) View() string {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Participant", "Role", "Status", "In room").
		Rows(t.rows()...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

type RoomInfo struct {
	Room     *room.Room
	RoomLink string
}

func (r RoomInfo) View() string {
	capacity := "unlimited"
	if r.Room.Capacity > 0 {
		capacity = fmt.Sprintf("%d", r.Room.Capacity)
	}

	content := fmt.Sprintf("%s %s\n\n%s Room ID:    %s\n%s Name:       %s\n%s Capacity:   %s\n%s Room Link:  %s",
		IconSuccess, TitleStyle.Render("Room Created!"),
		IconCopy, BoldStyle.Foreground(Primary).Render(r.Room.ID),
		IconRoom, r.Room.Name,
		IconPeer, capacity,
		IconWeb, MutedStyle.Render(r.RoomLink),
	)
	return SuccessBoxStyle.Render(content)
}

func RenderRoomInfo(r *room.Room, link string) {
	fmt.Println(RoomInfo{Room: r, RoomLink: link}.View())
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
