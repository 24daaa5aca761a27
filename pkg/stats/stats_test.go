package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRate(t *testing.T) {
	newReport := Report{"timestamp": 2000.0, "x": 20.0}
	oldReport := Report{"timestamp": 1000.0, "x": 10.0}

	rate, ok := Rate(newReport, oldReport, "x")
	require.True(t, ok)
	assert.Equal(t, 10.0, rate)

	_, ok = Rate(Report{"timestamp": 2000.0}, oldReport, "x")
	assert.False(t, ok, "missing stat in new report")

	_, ok = Rate(newReport, Report{"timestamp": 1000.0}, "x")
	assert.False(t, ok, "missing stat in old report")

	_, ok = Rate(newReport, nil, "x")
	assert.False(t, ok, "no previous report")

	_, ok = Rate(newReport, Report{"timestamp": 2000.0, "x": 10.0}, "x")
	assert.False(t, ok, "no elapsed time")
}

func TestBitrate(t *testing.T) {
	newReport := Report{"timestamp": 3000.0, "bytesReceived": 5000.0}
	oldReport := Report{"timestamp": 1000.0, "bytesReceived": 1000.0}

	rate, ok := Rate(newReport, oldReport, "bytesReceived")
	require.True(t, ok)
	bitrate, ok := Bitrate(newReport, oldReport, "bytesReceived")
	require.True(t, ok)
	assert.Equal(t, rate*8, bitrate)
	assert.Equal(t, 16000.0, bitrate)

	_, ok = Bitrate(newReport, Report{}, "bytesReceived")
	assert.False(t, ok)
}

func TestE2EDelay(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = time.Now })

	nowNTP := float64(fixed.UnixMilli() + ntpEpochOffsetMs)
	captureStart := nowNTP - 250

	delay, ok := E2EDelay(captureStart, 0)
	require.True(t, ok)
	assert.Equal(t, 250.0, delay)
	assert.GreaterOrEqual(t, delay, 0.0)

	delay, ok = E2EDelay(captureStart, 0.1)
	require.True(t, ok)
	assert.InDelta(t, 150.0, delay, 1e-6)

	_, ok = E2EDelay(0, 1)
	assert.False(t, ok)
}

func TestEnumerateAudioMatch(t *testing.T) {
	reports := []Report{
		{
			"type":            "inbound-rtp",
			"id":              "RTCInboundRTPAudioStream_1",
			"trackId":         "audio-track-1",
			"bytesReceived":   1200.0,
			"codecId":         "RTCCodec_111",
			"fractionLost":    0.5,
			"jitter":          0.01,
			"packetsLost":     3.0,
			"packetsReceived": 40.0,
			"timestamp":       1234.5,
			"transportId":     "RTCTransport_0",
		},
		{
			"type":        "codec",
			"id":          "RTCCodec_111",
			"clockRate":   48000.0,
			"mimeType":    "audio/opus",
			"payloadType": 111.0,
		},
		{
			"type":            "track",
			"id":              "RTCMediaStreamTrack_1",
			"trackIdentifier": "audio-track-1",
			"audioLevel":      0.25,
		},
	}

	s := Enumerate(reports, TrackIDs{Audio: "audio-track-1", Video: "video-track-1"})

	audio := s.Audio.Remote
	assert.Equal(t, uint64(1200), audio.BytesReceived)
	assert.Equal(t, "RTCCodec_111", audio.CodecID)
	assert.Equal(t, 0.5, audio.FractionLost)
	assert.Equal(t, 0.01, audio.Jitter)
	assert.Equal(t, int64(3), audio.PacketsLost)
	assert.Equal(t, uint64(40), audio.PacketsReceived)
	assert.Equal(t, 1234.5, audio.Timestamp)
	assert.Equal(t, "audio-track-1", audio.TrackID)
	assert.Equal(t, "RTCTransport_0", audio.TransportID)
	assert.Equal(t, uint64(48000), audio.ClockRate)
	assert.Equal(t, "audio/opus", audio.MimeType)
	assert.Equal(t, uint64(111), audio.PayloadType)
	assert.Equal(t, 0.25, audio.AudioLevel)

	assert.Equal(t, VideoRemote{}, s.Video.Remote)
	assert.Equal(t, Connection{}, s.Connection)
}

func TestEnumerateNoMatchLeavesDefaults(t *testing.T) {
	reports := []Report{
		{"type": "inbound-rtp", "trackId": "someone-else", "bytesReceived": 99.0},
		{"type": "codec", "id": "RTCCodec_96", "mimeType": "video/VP8"},
		{"type": "candidate-pair", "bytesSent": 10.0},
	}

	s := Enumerate(reports, TrackIDs{Audio: "audio-track-1", Video: "video-track-1"})
	assert.Equal(t, Summary{}, s)

	assert.Equal(t, Summary{}, Enumerate(nil, TrackIDs{}))
}

func TestEnumerateVideoAndConnection(t *testing.T) {
	reports := []Report{
		{"type": "local-candidate", "id": "cand-local", "ip": "10.0.0.1", "port": 5000.0, "priority": 100.0, "protocol": "udp", "candidateType": "host"},
		{"type": "remote-candidate", "id": "cand-remote", "address": "10.0.0.2", "port": 6000.0, "protocol": "udp", "candidateType": "srflx"},
		{"type": "codec", "id": "RTCCodec_98", "clockRate": 90000.0, "mimeType": "video/VP9", "payloadType": 98.0},
		{"type": "track", "trackIdentifier": "video-track-1", "frameWidth": 640.0, "frameHeight": 480.0, "framesDecoded": 30.0},
		{
			"type":            "inbound-rtp",
			"trackIdentifier": "video-track-1",
			"codecId":         "RTCCodec_98",
			"packetsLost":     2.0,
			"nackCount":       4.0,
			"pliCount":        1.0,
		},
		{
			"type":                     "candidate-pair",
			"availableOutgoingBitrate": 300000.0,
			"localCandidateId":         "cand-local",
			"remoteCandidateId":        "cand-remote",
			"currentRoundTripTime":     0.05,
			"bytesSent":                1000.0,
		},
	}

	s := Enumerate(reports, TrackIDs{Video: "video-track-1"})

	video := s.Video.Remote
	assert.Equal(t, int64(2), video.PacketsLost)
	assert.Equal(t, uint64(4), video.NackCount)
	assert.Equal(t, uint64(1), video.PliCount)
	assert.Equal(t, uint64(640), video.FrameWidth)
	assert.Equal(t, uint64(480), video.FrameHeight)
	assert.Equal(t, uint64(30), video.FramesDecoded)
	assert.Equal(t, "video/VP9", video.MimeType)
	assert.Equal(t, uint64(90000), video.ClockRate)

	conn := s.Connection
	assert.Equal(t, 300000.0, conn.AvailableOutgoingBitrate)
	assert.Equal(t, uint64(1000), conn.BytesSent)
	assert.Equal(t, "10.0.0.1", conn.LocalIP)
	assert.Equal(t, uint64(5000), conn.LocalPort)
	assert.Equal(t, "host", conn.LocalCandidateType)
	assert.Equal(t, "10.0.0.2", conn.RemoteIP)
	assert.Equal(t, "srflx", conn.RemoteCandidateType)
	assert.Equal(t, AudioRemote{}, s.Audio.Remote)
}

func TestExtractInt(t *testing.T) {
	reports := []Report{
		{"type": "ssrc", "bytesSent": "1024"},
		{"type": "ssrc", "packetsLost": -1.0},
	}

	v, ok := ExtractInt(reports, "ssrc", "bytesSent")
	require.True(t, ok)
	assert.Equal(t, int64(1024), v)

	_, ok = ExtractInt(reports, "ssrc", "packetsLost")
	assert.False(t, ok)

	_, ok = ExtractInt(reports, "codec", "bytesSent")
	assert.False(t, ok)

	r, ok := FindReport(reports, "ssrc", "bytesSent", "1024")
	require.True(t, ok)
	assert.Equal(t, "1024", r.String("bytesSent"))
}
