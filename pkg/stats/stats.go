package stats

import (
	"strings"
	"time"
)

// ntpEpochOffsetMs is the number of milliseconds between 1900 and 1970.
const ntpEpochOffsetMs = 2208988800000

// now is replaced in tests
var now = time.Now

// TrackIDs are the remote track identifiers the summary is built for
type TrackIDs struct {
	Audio string
	Video string
}

// AudioRemote holds the received audio metrics
type AudioRemote struct {
	AudioLevel      float64
	BytesReceived   uint64
	ClockRate       uint64
	CodecID         string
	FractionLost    float64
	Jitter          float64
	MimeType        string
	PacketsLost     int64
	PacketsReceived uint64
	PayloadType     uint64
	Timestamp       float64
	TrackID         string
	TransportID     string
}

// VideoRemote holds the received video metrics
type VideoRemote struct {
	BytesReceived   uint64
	ClockRate       uint64
	CodecID         string
	FirCount        uint64
	FractionLost    float64
	FrameHeight     uint64
	FramesDecoded   uint64
	FramesDropped   uint64
	FramesReceived  uint64
	FrameWidth      uint64
	MimeType        string
	NackCount       uint64
	PacketsLost     int64
	PacketsReceived uint64
	PayloadType     uint64
	PliCount        uint64
	QpSum           uint64
	Timestamp       float64
	TrackID         string
	TransportID     string
}

// Connection holds the selected candidate pair metrics
type Connection struct {
	AvailableOutgoingBitrate float64
	BytesReceived            uint64
	BytesSent                uint64
	ConsentRequestsSent      uint64
	CurrentRoundTripTime     float64
	LocalCandidateID         string
	LocalCandidateType       string
	LocalIP                  string
	LocalPort                uint64
	LocalPriority            uint64
	LocalProtocol            string
	LocalRelayProtocol       string
	RemoteCandidateID        string
	RemoteCandidateType      string
	RemoteIP                 string
	RemotePort               uint64
	RemotePriority           uint64
	RemoteProtocol           string
	RequestsReceived         uint64
	RequestsSent             uint64
	ResponsesReceived        uint64
	ResponsesSent            uint64
	Timestamp                float64
	TotalRoundTripTime       float64
}

// Summary is the fixed-shape snapshot built by Enumerate
type Summary struct {
	Audio struct {
		Remote AudioRemote
	}
	Video struct {
		Remote VideoRemote
	}
	Connection Connection
}

// matches reports whether the reported id refers to want. An empty want
// never matches.
func matches(reported, want string) bool {
	return want != "" && strings.Contains(reported, want)
}

func inboundTrackID(r Report) (string, bool) {
	if r.Has("trackId") {
		return r.String("trackId"), true
	}
	if r.Has("trackIdentifier") {
		return r.String("trackIdentifier"), true
	}
	return "", false
}

// Enumerate builds a Summary from reports. The first pass resolves the
// inbound RTP metrics and the codec and candidate ids, the second pass
// resolves the codec, track and candidate reports keyed by those ids.
func Enumerate(reports []Report, ids TrackIDs) Summary {
	var s Summary
	audio := &s.Audio.Remote
	video := &s.Video.Remote
	conn := &s.Connection

	for _, r := range reports {
		switch r.Type() {
		case "inbound-rtp":
			trackID, ok := inboundTrackID(r)
			if !ok {
				continue
			}
			if matches(trackID, ids.Audio) {
				audio.BytesReceived = r.uintStat("bytesReceived")
				audio.CodecID = r.String("codecId")
				audio.FractionLost = r.floatStat("fractionLost")
				audio.Jitter = r.floatStat("jitter")
				audio.PacketsLost = r.intStat("packetsLost")
				audio.PacketsReceived = r.uintStat("packetsReceived")
				audio.Timestamp = r.Timestamp()
				audio.TrackID = trackID
				audio.TransportID = r.String("transportId")
			}
			if matches(trackID, ids.Video) {
				video.BytesReceived = r.uintStat("bytesReceived")
				video.CodecID = r.String("codecId")
				video.FirCount = r.uintStat("firCount")
				video.FractionLost = r.floatStat("fractionLost")
				video.NackCount = r.uintStat("nackCount")
				video.PacketsLost = r.intStat("packetsLost")
				video.PacketsReceived = r.uintStat("packetsReceived")
				video.PliCount = r.uintStat("pliCount")
				video.QpSum = r.uintStat("qpSum")
				video.Timestamp = r.Timestamp()
				video.TrackID = trackID
				video.TransportID = r.String("transportId")
			}
		case "candidate-pair":
			if !r.Has("availableOutgoingBitrate") {
				continue
			}
			conn.AvailableOutgoingBitrate = r.floatStat("availableOutgoingBitrate")
			conn.BytesReceived = r.uintStat("bytesReceived")
			conn.BytesSent = r.uintStat("bytesSent")
			conn.ConsentRequestsSent = r.uintStat("consentRequestsSent")
			conn.CurrentRoundTripTime = r.floatStat("currentRoundTripTime")
			conn.LocalCandidateID = r.String("localCandidateId")
			conn.RemoteCandidateID = r.String("remoteCandidateId")
			conn.RequestsReceived = r.uintStat("requestsReceived")
			conn.RequestsSent = r.uintStat("requestsSent")
			conn.ResponsesReceived = r.uintStat("responsesReceived")
			conn.ResponsesSent = r.uintStat("responsesSent")
			conn.Timestamp = r.Timestamp()
			conn.TotalRoundTripTime = r.floatStat("totalRoundTripTime")
		}
	}

	for _, r := range reports {
		switch r.Type() {
		case "track":
			if !r.Has("trackIdentifier") {
				continue
			}
			trackID := r.String("trackIdentifier")
			if matches(trackID, ids.Video) {
				video.FrameHeight = r.uintStat("frameHeight")
				video.FramesDecoded = r.uintStat("framesDecoded")
				video.FramesDropped = r.uintStat("framesDropped")
				video.FramesReceived = r.uintStat("framesReceived")
				video.FrameWidth = r.uintStat("frameWidth")
			}
			if matches(trackID, ids.Audio) {
				audio.AudioLevel = r.floatStat("audioLevel")
			}
		case "codec":
			if !r.Has("id") {
				continue
			}
			if matches(r.ID(), audio.CodecID) {
				audio.ClockRate = r.uintStat("clockRate")
				audio.MimeType = r.String("mimeType")
				audio.PayloadType = r.uintStat("payloadType")
			}
			if matches(r.ID(), video.CodecID) {
				video.ClockRate = r.uintStat("clockRate")
				video.MimeType = r.String("mimeType")
				video.PayloadType = r.uintStat("payloadType")
			}
		case "local-candidate":
			if r.Has("id") && matches(r.ID(), conn.LocalCandidateID) {
				conn.LocalIP = candidateAddress(r)
				conn.LocalPort = r.uintStat("port")
				conn.LocalPriority = r.uintStat("priority")
				conn.LocalProtocol = r.String("protocol")
				conn.LocalCandidateType = r.String("candidateType")
				conn.LocalRelayProtocol = r.String("relayProtocol")
			}
		case "remote-candidate":
			if r.Has("id") && matches(r.ID(), conn.RemoteCandidateID) {
				conn.RemoteIP = candidateAddress(r)
				conn.RemotePort = r.uintStat("port")
				conn.RemotePriority = r.uintStat("priority")
				conn.RemoteProtocol = r.String("protocol")
				conn.RemoteCandidateType = r.String("candidateType")
			}
		}
	}
	return s
}

// candidateAddress prefers "ip" and falls back to "address", which newer
// engines report instead.
func candidateAddress(r Report) string {
	if r.Has("ip") {
		return r.String("ip")
	}
	return r.String("address")
}

// Rate computes the per-second rate of stat name between two readings whose
// timestamps are in milliseconds. It reports false when either reading lacks
// the stat or no time has passed.
func Rate(newReport, oldReport Report, name string) (float64, bool) {
	if newReport == nil || oldReport == nil {
		return 0, false
	}
	newVal, ok := newReport.Float(name)
	if !ok {
		return 0, false
	}
	oldVal, ok := oldReport.Float(name)
	if !ok {
		return 0, false
	}
	elapsed := newReport.Timestamp() - oldReport.Timestamp()
	if elapsed == 0 {
		return 0, false
	}
	return (newVal - oldVal) / elapsed * 1000, true
}

// Bitrate converts the byte rate of stat name into bits per second
func Bitrate(newReport, oldReport Report, name string) (float64, bool) {
	rate, ok := Rate(newReport, oldReport, name)
	if !ok {
		return 0, false
	}
	return rate * 8, true
}

// E2EDelay computes the end to end delay in milliseconds from the capture
// start time (NTP milliseconds) and the seconds rendered since then.
func E2EDelay(captureStartNTP, renderSeconds float64) (float64, bool) {
	if captureStartNTP == 0 {
		return 0, false
	}
	nowNTP := float64(now().UnixMilli() + ntpEpochOffsetMs)
	return nowNTP - captureStartNTP - renderSeconds*1000, true
}
