package client

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog/log"
)

// Media kinds as they appear on the m= line
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// munge parses sdpText, applies fn and re-serialises the result. The input is
// returned unchanged when it cannot be parsed or fn made no change.
func munge(sdpText string, fn func(desc *sdp.SessionDescription) bool) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(sdpText)); err != nil {
		log.Warn().Err(err).Msg("Failed to parse SDP, leaving it unchanged")
		return sdpText
	}
	if !fn(&desc) {
		return sdpText
	}
	out, err := desc.Marshal()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to serialise SDP, leaving it unchanged")
		return sdpText
	}
	return string(out)
}

func mediaOfKind(desc *sdp.SessionDescription, kind string) []*sdp.MediaDescription {
	var out []*sdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == kind {
			out = append(out, m)
		}
	}
	return out
}

// rtpmap splits "111 opus/48000/2" into the payload type and "opus/48000/2"
func rtpmap(value string) (string, string, bool) {
	pt, codec, ok := strings.Cut(value, " ")
	if !ok {
		return "", "", false
	}
	return pt, codec, true
}

// payloadTypes returns the payload types whose rtpmap encoding matches codec.
// codec is either a bare name ("VP9") or includes the clock rate
// ("opus/48000").
func payloadTypes(m *sdp.MediaDescription, codec string) []string {
	var pts []string
	for _, a := range m.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		pt, enc, ok := rtpmap(a.Value)
		if !ok {
			continue
		}
		if strings.EqualFold(enc, codec) || strings.HasPrefix(strings.ToLower(enc), strings.ToLower(codec)+"/") {
			pts = append(pts, pt)
		}
	}
	return pts
}

// PreferCodec moves codec to the front of the format list of every m-line
// of the given kind
func PreferCodec(sdpText, kind, codec string) string {
	if codec == "" {
		return sdpText
	}
	return munge(sdpText, func(desc *sdp.SessionDescription) bool {
		changed := false
		for _, m := range mediaOfKind(desc, kind) {
			pts := payloadTypes(m, codec)
			if len(pts) == 0 {
				log.Debug().Str("kind", kind).Str("codec", codec).Msg("Codec not present in SDP")
				continue
			}
			preferred := make(map[string]bool, len(pts))
			for _, pt := range pts {
				preferred[pt] = true
			}
			formats := append([]string(nil), pts...)
			for _, f := range m.MediaName.Formats {
				if !preferred[f] {
					formats = append(formats, f)
				}
			}
			m.MediaName.Formats = formats
			changed = true
		}
		return changed
	})
}

// SetCodecBitrate sets the b=AS bandwidth of every m-line of the given kind
func SetCodecBitrate(sdpText, kind string, kbps int) string {
	if kbps <= 0 {
		return sdpText
	}
	return munge(sdpText, func(desc *sdp.SessionDescription) bool {
		changed := false
		for _, m := range mediaOfKind(desc, kind) {
			bw := make([]sdp.Bandwidth, 0, len(m.Bandwidth)+1)
			for _, b := range m.Bandwidth {
				if b.Type != "AS" {
					bw = append(bw, b)
				}
			}
			m.Bandwidth = append(bw, sdp.Bandwidth{Type: "AS", Bandwidth: uint64(kbps)})
			changed = true
		}
		return changed
	})
}

// setFmtpParams merges params into the fmtp line of payload type pt, adding
// the line if the codec has none
func setFmtpParams(m *sdp.MediaDescription, pt string, params [][2]string) {
	idx := -1
	var existing string
	for i, a := range m.Attributes {
		if a.Key != "fmtp" {
			continue
		}
		if p, rest, ok := strings.Cut(a.Value, " "); ok && p == pt {
			idx, existing = i, rest
			break
		}
	}

	var keys []string
	values := map[string]string{}
	for _, kv := range strings.Split(existing, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		if _, seen := values[k]; !seen {
			keys = append(keys, k)
		}
		values[k] = v
	}
	for _, p := range params {
		if _, seen := values[p[0]]; !seen {
			keys = append(keys, p[0])
		}
		values[p[0]] = p[1]
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+values[k])
	}
	attr := sdp.Attribute{Key: "fmtp", Value: pt + " " + strings.Join(parts, ";")}
	if idx >= 0 {
		m.Attributes[idx] = attr
		return
	}
	m.Attributes = append(m.Attributes, attr)
}

func boolParam(name, value string) (string, string, bool) {
	switch value {
	case "true":
		return name, "1", true
	case "false":
		return name, "0", true
	}
	return "", "", false
}

// SetOpusOptions applies the Opus stereo, FEC, DTX and max playback rate
// preferences to the Opus fmtp line
func SetOpusOptions(sdpText string, params *Params) string {
	var opts [][2]string
	if k, v, ok := boolParam("stereo", params.OpusStereo); ok {
		opts = append(opts, [2]string{k, v})
	}
	if k, v, ok := boolParam("useinbandfec", params.OpusFec); ok {
		opts = append(opts, [2]string{k, v})
	}
	if k, v, ok := boolParam("usedtx", params.OpusDtx); ok {
		opts = append(opts, [2]string{k, v})
	}
	if params.OpusMaxPbr != "" {
		opts = append(opts, [2]string{"maxplaybackrate", params.OpusMaxPbr})
	}
	if len(opts) == 0 {
		return sdpText
	}

	return munge(sdpText, func(desc *sdp.SessionDescription) bool {
		changed := false
		for _, m := range mediaOfKind(desc, KindAudio) {
			for _, pt := range payloadTypes(m, "opus") {
				setFmtpParams(m, pt, opts)
				changed = true
			}
		}
		return changed
	})
}

// SetVideoInitialBitrate sets the start bitrate of the video send codec. It
// is clamped to the video send bitrate when both are set.
func SetVideoInitialBitrate(sdpText string, params *Params) string {
	initial, err := strconv.Atoi(params.VideoSendInitialBitrate)
	if err != nil || initial <= 0 {
		return sdpText
	}

	opts := [][2]string{{"x-google-min-bitrate", ""}}
	if maxBitrate, err := strconv.Atoi(params.VideoSendBitrate); err == nil && maxBitrate > 0 {
		if initial > maxBitrate {
			log.Debug().Int("initial", initial).Int("max", maxBitrate).Msg("Clamping video initial bitrate to the send bitrate")
			initial = maxBitrate
		}
		opts = append(opts, [2]string{"x-google-max-bitrate", strconv.Itoa(maxBitrate)})
	}
	opts[0][1] = strconv.Itoa(initial)

	codec := params.VideoSendCodec
	if codec == "" {
		codec = "VP8"
	}
	return munge(sdpText, func(desc *sdp.SessionDescription) bool {
		changed := false
		for _, m := range mediaOfKind(desc, KindVideo) {
			for _, pt := range payloadTypes(m, codec) {
				setFmtpParams(m, pt, opts)
				changed = true
			}
		}
		return changed
	})
}

// RemoveVideoFEC strips the red and ulpfec payloads from the video m-lines
func RemoveVideoFEC(sdpText string) string {
	return munge(sdpText, func(desc *sdp.SessionDescription) bool {
		changed := false
		for _, m := range mediaOfKind(desc, KindVideo) {
			drop := map[string]bool{}
			for _, codec := range []string{"red", "ulpfec"} {
				for _, pt := range payloadTypes(m, codec) {
					drop[pt] = true
				}
			}
			if len(drop) == 0 {
				continue
			}

			formats := m.MediaName.Formats[:0]
			for _, f := range m.MediaName.Formats {
				if !drop[f] {
					formats = append(formats, f)
				}
			}
			m.MediaName.Formats = formats

			attrs := m.Attributes[:0]
			for _, a := range m.Attributes {
				switch a.Key {
				case "rtpmap", "fmtp", "rtcp-fb":
					if pt, _, _ := strings.Cut(a.Value, " "); drop[pt] {
						continue
					}
				}
				attrs = append(attrs, a)
			}
			m.Attributes = attrs
			changed = true
		}
		return changed
	})
}

// HasRemoteVideo reports whether the remote description will send video,
// i.e. it carries a video m-line that is neither recvonly nor inactive
func HasRemoteVideo(sdpText string) bool {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(sdpText)); err != nil {
		return false
	}
	for _, m := range mediaOfKind(&desc, KindVideo) {
		if m.MediaName.Port.Value == 0 {
			continue
		}
		if _, ok := m.Attribute("recvonly"); ok {
			continue
		}
		if _, ok := m.Attribute("inactive"); ok {
			continue
		}
		return true
	}
	return false
}

func parseKbps(value string) int {
	if value == "" {
		return 0
	}
	kbps, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Err(err).Str("value", value).Msg("Ignoring invalid bitrate")
		return 0
	}
	return kbps
}
