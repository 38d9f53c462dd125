package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pion/webrtc/v4"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WebSocketURL != "ws://localhost:8080/ws" {
		t.Fatalf("WebSocketURL=%q", cfg.WebSocketURL)
	}
	if len(cfg.STUNServers) != 1 || cfg.STUNServers[0] != DefaultSTUN {
		t.Fatalf("STUNServers=%v", cfg.STUNServers)
	}
	if got := cfg.TransportPolicy(); got != webrtc.ICETransportPolicyAll {
		t.Fatalf("policy=%v without TURN", got)
	}
}

func TestLoad_FlagsBeatEnvBeatFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "huddle.yaml")
	yaml := "server: https://file.example\nstun_server: stun:file.example:3478\nturn_server: turn:file.example\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STUN_SERVER", "stun:env.example:3478, stun:env2.example:3478")

	cfg, err := Load(Options{ConfigFile: path, Server: "https://flag.example/base"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WebSocketURL != "wss://flag.example/base/ws" {
		t.Fatalf("WebSocketURL=%q", cfg.WebSocketURL)
	}
	if len(cfg.STUNServers) != 2 || cfg.STUNServers[0] != "stun:env.example:3478" {
		t.Fatalf("STUNServers=%v, want env value", cfg.STUNServers)
	}
	if cfg.TURNServer != "turn:file.example" {
		t.Fatalf("TURNServer=%q, want file value", cfg.TURNServer)
	}
}

func TestLoad_RejectsRelayWithoutTURN(t *testing.T) {
	clearEnv(t)

	if _, err := Load(Options{ForceRelay: true}); err == nil {
		t.Fatalf("expected error forcing relay without TURN")
	}
}

func TestICEServers_IncludesTURNAndExtras(t *testing.T) {
	clearEnv(t)
	t.Setenv("ICE_SERVERS_JSON", `[{"urls":"stun:extra.example:3478"},{"urls":["turns:relay.example:5349"],"username":"u","credential":"p"}]`)

	cfg, err := Load(Options{TURNServer: "turn:relay.example", TURNUser: "me", TURNPass: "secret", ForceRelay: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	servers := cfg.ICEServers()
	if len(servers) != 4 {
		t.Fatalf("got %d ICE servers, want 4: %+v", len(servers), servers)
	}
	if servers[1].Username != "me" || servers[1].Credential != "secret" {
		t.Fatalf("TURN credentials not applied: %+v", servers[1])
	}
	if servers[3].URLs[0] != "turns:relay.example:5349" {
		t.Fatalf("extra server=%+v", servers[3])
	}
	if cfg.TransportPolicy() != webrtc.ICETransportPolicyRelay {
		t.Fatalf("expected relay policy")
	}
}

func TestParseICEServersJSON_Invalid(t *testing.T) {
	for _, raw := range []string{`{`, `[{"urls":[]}]`, `[{"urls":"http://x"}]`} {
		if _, err := ParseICEServersJSON(raw); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}
