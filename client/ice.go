package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pion/webrtc/v4"
)

type iceServerDTO struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceServersResponse struct {
	ICEServers []iceServerDTO `json:"iceServers"`
}

// RequestICEServers fetches TURN/STUN servers from an ICE server provider.
// transports, when set, is passed as the "transports" query parameter.
func RequestICEServers(ctx context.Context, httpClient *http.Client, requestURL, transports string) ([]webrtc.ICEServer, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if transports != "" {
		u, err := url.Parse(requestURL)
		if err != nil {
			return nil, fmt.Errorf("parse ice server url: %w", err)
		}
		q := u.Query()
		q.Set("transports", transports)
		u.RawQuery = q.Encode()
		requestURL = u.String()
	}

	body, err := doRequest(ctx, httpClient, http.MethodPost, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ice server request: %w", err)
	}

	var resp iceServersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ice server response: %w", ErrMalformedResponse)
	}

	servers := make([]webrtc.ICEServer, 0, len(resp.ICEServers))
	for _, s := range resp.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers, nil
}
