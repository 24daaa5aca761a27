package client

import (
	"net/url"

	"github.com/pion/webrtc/v4"
)

// DefaultVideoCodec is preferred for receiving video when none is configured
const DefaultVideoCodec = "VP9"

// Params holds the call parameters. The Call mutates room and client
// identifiers, the initiator flag and the pending messages while joining,
// signaling and leaving.
type Params struct {
	RoomServer     string
	RoomID         string
	PreviousRoomID string
	ClientID       string
	RoomLink       string
	IsInitiator    bool

	// Collider endpoints; filled from the join response when empty
	WSSURL     string
	WSSPostURL string

	ICEServerRequestURL  string
	ICEServerTransports  string
	PeerConnectionConfig webrtc.Configuration
	// ICETransports is "all" or "relay"
	ICETransports string
	OfferOptions  *webrtc.OfferOptions

	// Messages are signaling messages stored by the room server before
	// this client joined
	Messages []string

	AudioSendBitrate        string
	AudioSendCodec          string
	AudioRecvBitrate        string
	AudioRecvCodec          string
	OpusMaxPbr              string
	OpusFec                 string
	OpusDtx                 string
	OpusStereo              string
	VideoSendBitrate        string
	VideoSendInitialBitrate string
	VideoSendCodec          string
	VideoRecvBitrate        string
	VideoRecvCodec          string
	VideoFec                string

	// Query is appended to room server requests
	Query url.Values

	BypassJoinConfirmation bool
	ErrorMessages          []string
	WarningMessages        []string
}

// ParamsFromQuery builds Params from AppRTC style query settings
func ParamsFromQuery(roomServer string, q url.Values) *Params {
	p := &Params{
		RoomServer:              roomServer,
		Query:                   q,
		AudioSendBitrate:        q.Get("asbr"),
		AudioSendCodec:          q.Get("asc"),
		AudioRecvBitrate:        q.Get("arbr"),
		AudioRecvCodec:          q.Get("arc"),
		OpusMaxPbr:              q.Get("opusmaxpbr"),
		OpusFec:                 q.Get("opusfec"),
		OpusDtx:                 q.Get("opusdtx"),
		OpusStereo:              q.Get("stereo"),
		VideoSendBitrate:        q.Get("vsbr"),
		VideoSendInitialBitrate: q.Get("vsibr"),
		VideoSendCodec:          q.Get("vsc"),
		VideoRecvBitrate:        q.Get("vrbr"),
		VideoRecvCodec:          q.Get("vrc"),
		VideoFec:                q.Get("videofec"),
		ICETransports:           q.Get("it"),
		ICEServerTransports:     q.Get("tt"),
	}
	if p.VideoRecvCodec == "" {
		p.VideoRecvCodec = DefaultVideoCodec
	}
	return p
}

// encodedQuery returns the query string including the leading '?'
func (p *Params) encodedQuery() string {
	if len(p.Query) == 0 {
		return ""
	}
	return "?" + p.Query.Encode()
}
