package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultServer     = "http://localhost:8080"
	DefaultListenAddr = ":8080"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
)

var ErrNoSTUN = errors.New("at least one STUN server is required")

// Config holds application configuration
type Config struct {
	// Server is the base HTTP URL of the signaling server
	Server string

	// WebSocketURL is derived from Server
	WebSocketURL string

	// ListenAddr is used by `huddle serve`
	ListenAddr string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ExtraICE    []webrtc.ICEServer
	ForceRelay  bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string
	Server     string
	ListenAddr string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

var envBindings = map[string]string{
	"server":           "SERVER",
	"listen_addr":      "LISTEN_ADDR",
	"stun_server":      "STUN_SERVER",
	"turn_server":      "TURN_SERVER",
	"turn_username":    "TURN_USERNAME",
	"turn_password":    "TURN_PASSWORD",
	"ice_servers_json": "ICE_SERVERS_JSON",
	"force_relay":      "FORCE_RELAY",
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (a .env file in the working directory is honoured)
// 3. Config file (YAML, only when Options.ConfigFile is set)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("server", DefaultServer)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("force_relay", false)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	override(v, "server", opts.Server)
	override(v, "listen_addr", opts.ListenAddr)
	override(v, "stun_server", opts.STUNServer)
	override(v, "turn_server", opts.TURNServer)
	override(v, "turn_username", opts.TURNUser)
	override(v, "turn_password", opts.TURNPass)
	if opts.ForceRelay {
		v.Set("force_relay", true)
	}

	server := strings.TrimRight(v.GetString("server"), "/")
	wsURL, err := webSocketURL(server)
	if err != nil {
		return nil, err
	}

	extra, err := ParseICEServersJSON(v.GetString("ice_servers_json"))
	if err != nil {
		return nil, fmt.Errorf("ICE_SERVERS_JSON: %w", err)
	}

	cfg := &Config{
		Server:       server,
		WebSocketURL: wsURL,
		ListenAddr:   v.GetString("listen_addr"),
		STUNServers:  splitList(v.GetString("stun_server")),
		TURNServer:   v.GetString("turn_server"),
		TURNUser:     v.GetString("turn_username"),
		TURNPass:     v.GetString("turn_password"),
		ExtraICE:     extra,
		ForceRelay:   v.GetBool("force_relay"),
	}
	if len(cfg.STUNServers) == 0 {
		return nil, ErrNoSTUN
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

func override(v *viper.Viper, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func webSocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme", server)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// GetRoomLink returns the API URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("%s/api/rooms/%s", c.Server, roomID)
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}
