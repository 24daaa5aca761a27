package main

// Room server results
const (
	resultSuccess       = "SUCCESS"
	resultFull          = "FULL"
	resultUnknownRoom   = "UNKNOWN_ROOM"
	resultUnknownClient = "UNKNOWN_CLIENT"
)

// joinParams is the "params" object of a successful join
type joinParams struct {
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
	Params *joinParams `json:"params,omitempty"`
}

type resultResponse struct {
	Result string `json:"result"`
}

type roomInfo struct {
	RoomID    string `json:"room_id"`
	Occupancy int    `json:"occupancy"`
	Full      bool   `json:"full"`
}

// colliderCommand is what clients send over the collider WebSocket
type colliderCommand struct {
	Cmd      string `json:"cmd"`
	RoomID   string `json:"roomid,omitempty"`
	ClientID string `json:"clientid,omitempty"`
	Msg      string `json:"msg,omitempty"`
}

// colliderMessage is what the collider sends to clients
type colliderMessage struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
}
