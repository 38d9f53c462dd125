package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/config"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/ui"
)

var (
	flagRoomName  string
	flagCapacity  int
	flagTransport string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room on the signaling server",
	Long: `Create a room and print its id. Share the id with the people you want to meet.

Examples:
  huddle create --name standup
  huddle create --name "design review" --capacity 6 --server https://huddle.example`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{})
		if err != nil {
			return err
		}

		c, err := NewController(cfg, room.Identity{ID: uuid.NewString()})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		stop := ui.RunWaitingSpinner("Creating room...")
		r, err := c.CreateRoom(ctx, room.CreateOptions{
			Name:      flagRoomName,
			Capacity:  flagCapacity,
			Transport: room.Transport(flagTransport),
		})
		stop()
		if err != nil {
			return err
		}

		fmt.Println()
		ui.RenderRoomInfo(r, cfg.GetRoomLink(r.ID))
		fmt.Println()
		ui.PrintInfo(fmt.Sprintf("Join with: huddle join %s", r.ID))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVarP(&flagRoomName, "name", "n", "", "Room name (required)")
	createCmd.Flags().IntVar(&flagCapacity, "capacity", 0, fmt.Sprintf("Maximum participants, 0 for no limit (max %d)", room.MaxCapacity))
	createCmd.Flags().StringVar(&flagTransport, "transport", string(room.TransportDirect), "Media transport: direct or external-engine")
	_ = createCmd.MarkFlagRequired("name")
}
