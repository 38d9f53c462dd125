package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/pion/webrtc/v4"
)

type iceServerJSON struct {
	URLs       stringOrSlice `json:"urls"`
	Username   string        `json:"username,omitempty"`
	Credential string        `json:"credential,omitempty"`
}

type stringOrSlice []string

func (s *stringOrSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses a browser-style iceServers array. Empty input
// yields no servers.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var entries []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("invalid ICE server list: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		if len(e.URLs) == 0 {
			return nil, fmt.Errorf("entry %d: urls is required", i)
		}
		for _, u := range e.URLs {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") &&
				!strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				return nil, fmt.Errorf("entry %d: unsupported url %q", i, u)
			}
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       e.URLs,
			Username:   e.Username,
			Credential: e.Credential,
		})
	}
	return servers, nil
}

// ICEServers assembles STUN, TURN and any extra servers into pion's form.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: c.STUNServers}}

	if turn := c.GetTURNServers(); turn != nil {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}

	return append(servers, c.ExtraICE...)
}

// TransportPolicy forces relay when asked to, or when TURN is available and
// the host looks like it sits behind a VPN or carrier-grade NAT.
func (c *Config) TransportPolicy() webrtc.ICETransportPolicy {
	if c.GetTURNServers() == nil {
		return webrtc.ICETransportPolicyAll
	}
	if c.ForceRelay || behindRestrictedNetwork() {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

// WebRTC returns the peer connection configuration for this config.
func (c *Config) WebRTC() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:         c.ICEServers(),
		ICETransportPolicy: c.TransportPolicy(),
	}
}

var errNoInterfaces = errors.New("no interfaces")

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

func behindRestrictedNetwork() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	restricted, err := restrictedInterfaces(ifaces)
	return err == nil && restricted
}

// restrictedInterfaces reports whether any up, non-loopback interface is a
// tunnel or carries an address in 100.64.0.0/10 (CGNAT, WARP, Tailscale).
func restrictedInterfaces(ifaces []net.Interface) (bool, error) {
	if len(ifaces) == 0 {
		return false, errNoInterfaces
	}
	_, cgnat, _ := net.ParseCIDR("100.64.0.0/10")

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, prefix := range tunnelNames {
			if strings.Contains(name, prefix) {
				return true, nil
			}
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if cgnat.Contains(ip) {
				return true, nil
			}
		}
	}
	return false, nil
}
