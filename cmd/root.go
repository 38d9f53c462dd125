package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/ui"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/version"
)

var (
	flagConfig string
	flagServer string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Multi-party audio, video and screen sharing rooms over WebRTC",
	Long: `Huddle runs small realtime rooms where every participant connects directly to
every other one. A lightweight signaling server introduces peers; media and data
then flow peer to peer.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Signaling server URL (default http://localhost:8080)")
}
