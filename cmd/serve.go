package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/config"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signalserver"
)

var (
	flagAddr  string
	flagDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server and room API",
	Long: `Run the signaling server that introduces participants to each other, together
with the HTTP API used to create and look up rooms. Rooms live in memory.

Examples:
  huddle serve
  huddle serve --addr :9000 --debug`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{ListenAddr: flagAddr})
		if err != nil {
			return err
		}

		logger := slog.Default()
		store := room.NewMemoryStore()
		hub := signalserver.NewHub(store, logger)
		go hub.Run(cmd.Context())

		srv := signalserver.New(hub, store, logger, flagDebug)
		return srv.ListenAndServe(cmd.Context(), cfg.ListenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "Listen address (default :8080)")
	serveCmd.Flags().BoolVar(&flagDebug, "debug", false, "Log every HTTP request")
}
