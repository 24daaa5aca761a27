package client

import (
	"net/url"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateMessageKeepsZeroLabel(t *testing.T) {
	mid := "0"
	index := uint16(0)
	msg := candidateMessage(webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	})
	assert.JSONEq(t,
		`{"type":"candidate","label":0,"id":"0","candidate":"candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host"}`,
		msg.ToJSON())

	parsed, err := ParseSignalingMessage(msg.ToJSON())
	require.NoError(t, err)
	init := parsed.candidateInit()
	require.NotNil(t, init.SDPMLineIndex)
	assert.Equal(t, uint16(0), *init.SDPMLineIndex)
	assert.Equal(t, "0", *init.SDPMid)
}

func TestParseSignalingMessageErrors(t *testing.T) {
	_, err := ParseSignalingMessage("not json")
	assert.Error(t, err)

	_, err = ParseSignalingMessage(`{"sdp":"v=0"}`)
	assert.Error(t, err)

	msg, err := ParseSignalingMessage(`{"type":"bye"}`)
	require.NoError(t, err)
	assert.Equal(t, MessageBye, msg.Type)
}

func TestParamsFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("asc", "ISAC/16000")
	q.Set("stereo", "true")
	q.Set("vsibr", "300")
	q.Set("videofec", "false")
	q.Set("it", "relay")
	q.Set("tt", "udp")

	p := ParamsFromQuery("https://appr.tc", q)
	assert.Equal(t, "https://appr.tc", p.RoomServer)
	assert.Equal(t, "ISAC/16000", p.AudioSendCodec)
	assert.Equal(t, "true", p.OpusStereo)
	assert.Equal(t, "300", p.VideoSendInitialBitrate)
	assert.Equal(t, "false", p.VideoFec)
	assert.Equal(t, "relay", p.ICETransports)
	assert.Equal(t, "udp", p.ICEServerTransports)
	assert.Equal(t, DefaultVideoCodec, p.VideoRecvCodec)
	assert.Equal(t, "?"+q.Encode(), p.encodedQuery())

	q.Set("vrc", "H264")
	assert.Equal(t, "H264", ParamsFromQuery("", q).VideoRecvCodec)
	assert.Equal(t, "", ParamsFromQuery("", url.Values{}).encodedQuery())
}
