package client

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Signaling message types
const (
	MessageOffer     = "offer"
	MessageAnswer    = "answer"
	MessageCandidate = "candidate"
	MessageBye       = "bye"
)

// SignalingMessage is relayed between the two peers through the room server
// and the collider
type SignalingMessage struct {
	Type      string  `json:"type"`
	SDP       string  `json:"sdp,omitempty"`
	Label     *uint16 `json:"label,omitempty"` // sdpMLineIndex
	ID        string  `json:"id,omitempty"`    // sdpMid
	Candidate string  `json:"candidate,omitempty"`
}

// ParseSignalingMessage decodes a relayed message
func ParseSignalingMessage(raw string) (SignalingMessage, error) {
	var msg SignalingMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return msg, fmt.Errorf("parse signaling message: %w", err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("parse signaling message: missing type")
	}
	return msg, nil
}

// ToJSON encodes the message
func (m SignalingMessage) ToJSON() string {
	b, _ := json.Marshal(m)
	return string(b)
}

func sessionMessage(desc webrtc.SessionDescription) SignalingMessage {
	return SignalingMessage{Type: desc.Type.String(), SDP: desc.SDP}
}

func candidateMessage(c webrtc.ICECandidateInit) SignalingMessage {
	msg := SignalingMessage{Type: MessageCandidate, Candidate: c.Candidate, Label: c.SDPMLineIndex}
	if c.SDPMid != nil {
		msg.ID = *c.SDPMid
	}
	return msg
}

func (m SignalingMessage) candidateInit() webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMLineIndex: m.Label}
	if m.ID != "" {
		id := m.ID
		init.SDPMid = &id
	}
	return init
}
