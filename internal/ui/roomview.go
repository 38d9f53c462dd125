package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
)

const (
	maxActivity  = 6
	shareTimeout = 10 * time.Second
)

// RoomController is what the room view drives.
type RoomController interface {
	Self() room.Participant
	Participants() []room.Participant
	StartScreenShare(ctx context.Context) (*media.Stream, error)
	StopScreenShare(ctx context.Context) error
}

// RoomView is the live terminal view of a joined room. Events reach it
// through Handlers; Run blocks until the user leaves.
type RoomView struct {
	model  *roomModel
	events chan room.Event
}

type tickMsg time.Time

type shareResult struct {
	sharing bool
	err     error
}

type roomModel struct {
	room     *room.Room
	ctrl     RoomController
	local    media.Constraints
	events   chan room.Event
	spinner  spinner.Model
	started  time.Time
	now      func() time.Time
	sharing  bool
	busy     bool
	activity []string
	summary  SessionSummary
	seen     map[string]bool
	quitting bool
}

// NewRoomView builds the view for r. local is what this side publishes.
func NewRoomView(r *room.Room, ctrl RoomController, local media.Constraints) *RoomView {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	events := make(chan room.Event, 64)
	self := ctrl.Self()
	return &RoomView{
		events: events,
		model: &roomModel{
			room:    r,
			ctrl:    ctrl,
			local:   local,
			events:  events,
			spinner: s,
			started: time.Now(),
			now:     time.Now,
			seen:    make(map[string]bool),
			summary: SessionSummary{
				RoomID:      r.ID,
				RoomName:    r.Name,
				Participant: self.Name(),
				Role:        string(self.Role),
				Peak:        1,
			},
		},
	}
}

// Handlers returns the controller subscription that feeds the view. Events
// are dropped when the view falls behind; the participant table is read
// from the controller on every render anyway.
func (v *RoomView) Handlers() room.Handlers {
	push := func(ev room.Event) {
		select {
		case v.events <- ev:
		default:
		}
	}
	return room.Handlers{
		ParticipantJoined:  func(e room.ParticipantJoinedEvent) { push(e) },
		ParticipantUpdated: func(e room.ParticipantUpdatedEvent) { push(e) },
		ParticipantLeft:    func(e room.ParticipantLeftEvent) { push(e) },
		Data:               func(e room.DataEvent) { push(e) },
		RemoteStream:       func(e room.RemoteStreamEvent) { push(e) },
		ScreenShareStarted: func(e room.ScreenShareStartedEvent) { push(e) },
		ScreenShareStopped: func(e room.ScreenShareStoppedEvent) { push(e) },
	}
}

// Run shows the view inline until q or ctrl+c.
func (v *RoomView) Run() error {
	if _, err := tea.NewProgram(v.model).Run(); err != nil {
		return fmt.Errorf("room view: %w", err)
	}
	return nil
}

// Summary describes the session so far.
func (v *RoomView) Summary() SessionSummary {
	s := v.model.summary
	s.Duration = v.model.now().Sub(v.model.started)
	return s
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *roomModel) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if m.busy {
				return m, nil
			}
			m.busy = true
			return m, m.toggleShare()
		}

	case shareResult:
		m.busy = false
		if msg.err != nil {
			m.log(ErrorStyle.Render(IconError) + " screen share: " + msg.err.Error())
			return m, nil
		}
		m.sharing = msg.sharing

	case tickMsg:
		if !m.quitting {
			return m, tick()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case room.Event:
		m.apply(msg)
		return m, m.listen()
	}

	return m, nil
}

func (m *roomModel) toggleShare() tea.Cmd {
	sharing := m.sharing
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), shareTimeout)
		defer cancel()
		if sharing {
			return shareResult{sharing: false, err: ctrl.StopScreenShare(ctx)}
		}
		_, err := ctrl.StartScreenShare(ctx)
		return shareResult{sharing: err == nil, err: err}
	}
}

func (m *roomModel) apply(ev room.Event) {
	switch e := ev.(type) {
	case room.ParticipantJoinedEvent:
		if !m.seen[e.Participant.ID] {
			m.seen[e.Participant.ID] = true
			m.summary.PeersSeen++
		}
		if n := len(m.ctrl.Participants()) + 1; n > m.summary.Peak {
			m.summary.Peak = n
		}
		m.log(IconPeer + " " + e.Participant.Name() + " joined")
	case room.ParticipantUpdatedEvent:
		if e.Participant.Status == room.PresenceInactive {
			m.log(WarningStyle.Render(IconWarning) + " " + e.Participant.Name() + " connection interrupted")
		}
	case room.ParticipantLeftEvent:
		m.log(MutedStyle.Render(e.Participant.Name() + " left"))
	case room.DataEvent:
		m.summary.Messages++
		m.log(IconData + " " + truncate(e.From, 12) + ": " + truncate(string(e.Payload), 60))
	case room.RemoteStreamEvent:
		if e.Replaced && e.Source == media.SourceScreen {
			m.log(IconScreen + " " + truncate(e.From, 12) + " is sharing their screen")
		}
	case room.ScreenShareStartedEvent:
		m.sharing = true
		m.summary.ScreenShares++
	case room.ScreenShareStoppedEvent:
		m.sharing = false
	}
}

func (m *roomModel) log(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > maxActivity {
		m.activity = m.activity[len(m.activity)-maxActivity:]
	}
}

func (m *roomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	header := fmt.Sprintf("%s %s", IconRoom, m.room.Name)
	b.WriteString(HeaderStyle.Render(header))
	b.WriteString("\n")

	status := fmt.Sprintf("%s %s %s  %s  %s",
		m.spinner.View(), IconTime, formatElapsed(m.now().Sub(m.started)),
		renderDevice(IconMic, m.local.Audio), renderDevice(IconCamera, m.local.WantsVideo()))
	if m.sharing {
		status += "  " + BadgeStyle.Render(IconScreen+" sharing")
	}
	b.WriteString(status + "\n\n")

	others := m.ctrl.Participants()
	b.WriteString(NewParticipantTable(m.ctrl.Self(), others).View())
	b.WriteString("\n")

	if len(others) == 0 {
		b.WriteString(MutedStyle.Render("Waiting for others to join...") + "\n")
	}
	for _, line := range m.activity {
		b.WriteString("  " + line + "\n")
	}

	share := "s share screen"
	if m.sharing {
		share = "s stop sharing"
	}
	b.WriteString(FooterStyle.Render(share + " • q leave"))
	return b.String()
}
