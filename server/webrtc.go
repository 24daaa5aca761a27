package main

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

type iceServerJSON struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceConfigResponse struct {
	ICEServers []iceServerJSON `json:"iceServers"`
}

// iceServers builds the configured STUN and TURN servers. TURN URLs are
// dropped when transports names a transport they do not use.
func iceServers(cfg ICEConfig, transports string) []webrtc.ICEServer {
	var stunURLs, turnURLs []string
	for _, u := range cfg.URLs {
		switch {
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			if transports == "" || turnTransport(u) == transports {
				turnURLs = append(turnURLs, u)
			}
		default:
			stunURLs = append(stunURLs, u)
		}
	}

	var servers []webrtc.ICEServer
	if len(stunURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stunURLs})
	}
	if len(turnURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:           turnURLs,
			Username:       cfg.Username,
			Credential:     cfg.Credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

// turnTransport returns the transport of a TURN URL; udp when unspecified
func turnTransport(u string) string {
	if i := strings.Index(u, "?transport="); i >= 0 {
		return u[i+len("?transport="):]
	}
	return "udp"
}

func toICEConfigResponse(servers []webrtc.ICEServer) iceConfigResponse {
	resp := iceConfigResponse{ICEServers: make([]iceServerJSON, 0, len(servers))}
	for _, s := range servers {
		entry := iceServerJSON{URLs: s.URLs, Username: s.Username}
		if credential, ok := s.Credential.(string); ok {
			entry.Credential = credential
		}
		resp.ICEServers = append(resp.ICEServers, entry)
	}
	return resp
}
