package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testSDP = strings.Join([]string{
	"v=0",
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1",
	"s=-",
	"t=0 0",
	"a=group:BUNDLE 0 1",
	"m=audio 9 UDP/TLS/RTP/SAVPF 111 103 0",
	"c=IN IP4 0.0.0.0",
	"a=mid:0",
	"a=sendrecv",
	"a=rtpmap:111 opus/48000/2",
	"a=fmtp:111 minptime=10;useinbandfec=1",
	"a=rtpmap:103 ISAC/16000",
	"a=rtpmap:0 PCMU/8000",
	"m=video 9 UDP/TLS/RTP/SAVPF 96 98 116 117",
	"c=IN IP4 0.0.0.0",
	"a=mid:1",
	"a=recvonly",
	"a=rtpmap:96 VP8/90000",
	"a=rtcp-fb:96 nack",
	"a=rtpmap:98 VP9/90000",
	"a=rtpmap:116 red/90000",
	"a=rtpmap:117 ulpfec/90000",
	"a=rtcp-fb:117 nack",
}, "\r\n") + "\r\n"

func videoSection(sdpText string) string {
	_, video, _ := strings.Cut(sdpText, "m=video")
	return video
}

func TestPreferCodec(t *testing.T) {
	out := PreferCodec(testSDP, KindVideo, "VP9")
	assert.Contains(t, out, "m=video 9 UDP/TLS/RTP/SAVPF 98 96 116 117")
	assert.Contains(t, out, "m=audio 9 UDP/TLS/RTP/SAVPF 111 103 0")

	out = PreferCodec(testSDP, KindAudio, "ISAC/16000")
	assert.Contains(t, out, "m=audio 9 UDP/TLS/RTP/SAVPF 103 111 0")

	assert.Equal(t, testSDP, PreferCodec(testSDP, KindVideo, "H264"))
	assert.Equal(t, testSDP, PreferCodec(testSDP, KindVideo, ""))
}

func TestSetCodecBitrate(t *testing.T) {
	out := SetCodecBitrate(testSDP, KindVideo, 500)
	assert.Contains(t, videoSection(out), "b=AS:500")
	audio, _, _ := strings.Cut(out, "m=video")
	assert.NotContains(t, audio, "b=AS")

	// Replaces rather than duplicates
	out = SetCodecBitrate(out, KindVideo, 300)
	assert.Equal(t, 1, strings.Count(out, "b=AS:"))
	assert.Contains(t, out, "b=AS:300")

	assert.Equal(t, testSDP, SetCodecBitrate(testSDP, KindVideo, 0))
}

func TestSetOpusOptions(t *testing.T) {
	out := SetOpusOptions(testSDP, &Params{OpusStereo: "true", OpusFec: "false", OpusMaxPbr: "16000"})
	assert.Contains(t, out, "a=fmtp:111 minptime=10;useinbandfec=0;stereo=1;maxplaybackrate=16000")

	assert.Equal(t, testSDP, SetOpusOptions(testSDP, &Params{}))
}

func TestSetVideoInitialBitrate(t *testing.T) {
	out := SetVideoInitialBitrate(testSDP, &Params{VideoSendInitialBitrate: "800", VideoSendBitrate: "500"})
	assert.Contains(t, out, "a=fmtp:96 x-google-min-bitrate=500;x-google-max-bitrate=500")

	out = SetVideoInitialBitrate(testSDP, &Params{VideoSendInitialBitrate: "300", VideoSendCodec: "VP9"})
	assert.Contains(t, out, "a=fmtp:98 x-google-min-bitrate=300")

	assert.Equal(t, testSDP, SetVideoInitialBitrate(testSDP, &Params{VideoSendInitialBitrate: "abc"}))
}

func TestRemoveVideoFEC(t *testing.T) {
	out := RemoveVideoFEC(testSDP)
	assert.Contains(t, out, "m=video 9 UDP/TLS/RTP/SAVPF 96 98\r\n")
	assert.NotContains(t, out, "red/90000")
	assert.NotContains(t, out, "ulpfec")
	assert.NotContains(t, out, "rtcp-fb:117")
	assert.Contains(t, out, "a=rtcp-fb:96 nack")
}

func TestHasRemoteVideo(t *testing.T) {
	assert.False(t, HasRemoteVideo(testSDP))
	assert.True(t, HasRemoteVideo(strings.Replace(testSDP, "a=recvonly", "a=sendrecv", 1)))
	assert.False(t, HasRemoteVideo(strings.Replace(testSDP, "a=recvonly", "a=inactive", 1)))
	assert.False(t, HasRemoteVideo("not an sdp"))
}

func TestMungeLeavesGarbageUnchanged(t *testing.T) {
	assert.Equal(t, "garbage", PreferCodec("garbage", KindVideo, "VP9"))
}

func TestCandidateType(t *testing.T) {
	assert.Equal(t, "relay", CandidateType("candidate:1 1 udp 2 10.0.0.1 3478 typ relay raddr 1.2.3.4 rport 5"))
	assert.Equal(t, "host", CandidateType("candidate:1 1 udp 2 10.0.0.1 3478 typ host"))
	assert.Equal(t, "", CandidateType("candidate:1"))
}
