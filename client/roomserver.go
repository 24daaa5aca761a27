package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Room server results
const (
	ResultSuccess = "SUCCESS"
	ResultFull    = "FULL"
)

var (
	// ErrRoomFull is returned when the room already has two participants
	ErrRoomFull = errors.New("room is full")
	// ErrJoinRejected is returned for any other non-success join result
	ErrJoinRejected = errors.New("join rejected")
	// ErrMissingRoomID is returned when joining without a room id
	ErrMissingRoomID = errors.New("missing room id")
	// ErrMalformedResponse is returned when the room server reply is not JSON
	ErrMalformedResponse = errors.New("error parsing response JSON")
)

// JoinParams is the "params" object of a successful join
type JoinParams struct {
	ClientID    string   `json:"client_id"`
	RoomID      string   `json:"room_id"`
	RoomLink    string   `json:"room_link"`
	IsInitiator string   `json:"is_initiator"`
	Messages    []string `json:"messages"`
	WSSURL      string   `json:"wss_url"`
	WSSPostURL  string   `json:"wss_post_url"`
}

type joinResponse struct {
	Result string      `json:"result"`
	Params *JoinParams `json:"params"`
}

type resultResponse struct {
	Result string `json:"result"`
}

// RoomServerClient talks to the room server's join/leave/message endpoints
type RoomServerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRoomServerClient creates a client for the room server at baseURL
func NewRoomServerClient(baseURL string, httpClient *http.Client) *RoomServerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RoomServerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// RoomURL returns the shareable link of a room
func (c *RoomServerClient) RoomURL(roomID, query string) string {
	return c.baseURL + "/r/" + roomID + query
}

// Join registers this client in the room. query is appended verbatim.
func (c *RoomServerClient) Join(ctx context.Context, roomID, query string) (*JoinParams, error) {
	if roomID == "" {
		return nil, ErrMissingRoomID
	}

	body, err := c.post(ctx, c.baseURL+"/join/"+roomID+query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to join the room: %w", err)
	}

	var resp joinResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ErrMalformedResponse
	}
	switch resp.Result {
	case ResultSuccess:
	case ResultFull:
		return nil, fmt.Errorf("registration error: %s: %w", resp.Result, ErrRoomFull)
	default:
		return nil, fmt.Errorf("registration error: %s: %w", resp.Result, ErrJoinRejected)
	}
	if resp.Params == nil {
		return nil, ErrMalformedResponse
	}
	return resp.Params, nil
}

// Leave removes the client from the room
func (c *RoomServerClient) Leave(ctx context.Context, roomID, clientID string) error {
	_, err := c.post(ctx, c.baseURL+"/leave/"+roomID+"/"+clientID, nil)
	return err
}

// PostMessage hands a signaling message to the room server, which either
// stores it until the other client joins or forwards it to the collider.
func (c *RoomServerClient) PostMessage(ctx context.Context, roomID, clientID, query, msg string) error {
	body, err := c.post(ctx, c.baseURL+"/message/"+roomID+"/"+clientID+query, []byte(msg))
	if err != nil {
		return err
	}

	var resp resultResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ErrMalformedResponse
	}
	if resp.Result != ResultSuccess {
		return fmt.Errorf("message rejected: %s", resp.Result)
	}
	return nil
}

func (c *RoomServerClient) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	return doRequest(ctx, c.httpClient, http.MethodPost, url, payload)
}

func doRequest(ctx context.Context, httpClient *http.Client, method, url string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return data, nil
}
