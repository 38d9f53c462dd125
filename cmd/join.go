package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/config"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/ui"
)

const (
	joinTimeout  = 30 * time.Second
	leaveTimeout = 10 * time.Second
)

var (
	flagName     string
	flagRole     string
	flagAudio    bool
	flagVideo    bool
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|link>",
	Aliases: []string{"j"},
	Short:   "Join a room",
	Long: `Join a room and stay in it until you press q. Press s to start or stop
sharing your screen.

Examples:
  huddle join 1f0c3e2a-6b1d-4c55-9d8e-7a0e4b1b2c3d --name Ada
  huddle join http://localhost:8080/api/rooms/1f0c3e2a-6b1d-4c55-9d8e-7a0e4b1b2c3d --video
  huddle join 1f0c3e2a-6b1d-4c55-9d8e-7a0e4b1b2c3d --relay --turn turn:turn.example --turn-user u --turn-pass p`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinRoom(cmd.Context(), roomID)
	},
}

func joinRoom(ctx context.Context, roomID string) error {
	role, err := room.ParseRole(flagRole)
	if err != nil {
		return err
	}

	cfg, err := LoadConfig(config.Options{
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return err
	}

	c, err := NewController(cfg, room.Identity{DisplayName: flagName, Role: role})
	if err != nil {
		return err
	}

	sp := ui.NewConnectionSpinner("Joining room...")
	sp.Start()

	local := media.Constraints{Audio: flagAudio, Video: flagVideo}
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	err = c.JoinRoom(joinCtx, roomID, room.JoinOptions{Media: local})
	cancel()
	if err != nil {
		sp.Error("Could not join the room")
		return err
	}

	r := c.Room()
	sp.Success(fmt.Sprintf("Joined %s", r.Name))

	view := ui.NewRoomView(r, c, local)
	unsubscribe := c.Subscribe(view.Handlers())
	viewErr := view.Run()
	unsubscribe()

	stop := ui.RunWaitingSpinner("Leaving room...")
	leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	leaveErr := c.LeaveRoom(leaveCtx)
	cancel()
	stop()

	fmt.Println()
	ui.RenderSessionSummary(view.Summary())

	// The links are closed either way; only the goodbye may have been lost.
	if leaveErr != nil {
		ui.PrintWarning(fmt.Sprintf("Left the room, but the others may not have been told: %v", leaveErr))
	}
	return viewErr
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name")
	joinCmd.Flags().StringVar(&flagRole, "role", string(room.RoleParticipant), "Role: host, participant or observer")
	joinCmd.Flags().BoolVar(&flagAudio, "audio", true, "Publish audio")
	joinCmd.Flags().BoolVar(&flagVideo, "video", false, "Publish video")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}
