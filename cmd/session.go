package cmd

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/config"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
)

// LoadConfig layers the root flags under opts and loads the configuration.
func LoadConfig(opts config.Options) (*config.Config, error) {
	opts.ConfigFile = flagConfig
	opts.Server = flagServer

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// NewController builds a room controller talking to the server in cfg.
// Every join gets a fresh peer session.
func NewController(cfg *config.Config, identity room.Identity) (*room.Controller, error) {
	sessions := room.NewSessionFactory(room.SessionConfig{
		SignalURL: cfg.WebSocketURL,
		WebRTC:    cfg.WebRTC(),
		Media:     media.NewSyntheticSource(),
		Logger:    slog.Default(),
	})

	return room.NewController(room.ControllerConfig{
		Store:    room.NewHTTPStore(cfg.Server, nil),
		Sessions: sessions,
		Identity: identity,
		Logger:   slog.Default(),
	})
}

// parseRoomInput accepts a bare room id or a room link printed by create.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse room link: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "rooms" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("could not extract room ID from URL: %s", input)
}
