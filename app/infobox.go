package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"example.com/apprtc/client"
	"example.com/apprtc/pkg/stats"
)

// InfoBox collects diagnostics about the call and renders them into the
// info region
type InfoBox struct {
	view View

	errors         []string
	warnings       []string
	candidateTypes map[string][]string
	startTime      time.Time
	connectTime    time.Time
	trackIDs       stats.TrackIDs
	visible        bool

	prevAudio stats.Report
	prevVideo stats.Report
	text      string
}

// NewInfoBox creates an info box drawing into view
func NewInfoBox(view View) *InfoBox {
	return &InfoBox{
		view:           view,
		candidateTypes: map[string][]string{},
	}
}

// PushErrorMessage records an error and shows the box
func (b *InfoBox) PushErrorMessage(msg string) {
	b.errors = append(b.errors, msg)
	b.show()
}

// PushWarningMessage records a warning and shows the box
func (b *InfoBox) PushWarningMessage(msg string) {
	b.warnings = append(b.warnings, msg)
	b.show()
}

// Errors returns the recorded errors
func (b *InfoBox) Errors() []string {
	return slices.Clone(b.errors)
}

// Warnings returns the recorded warnings
func (b *InfoBox) Warnings() []string {
	return slices.Clone(b.warnings)
}

// RecordICECandidateType remembers the type of a "Local" or "Remote"
// candidate
func (b *InfoBox) RecordICECandidateType(location, candidate string) {
	typ := client.CandidateType(candidate)
	if typ == "" || slices.Contains(b.candidateTypes[location], typ) {
		return
	}
	b.candidateTypes[location] = append(b.candidateTypes[location], typ)
}

// CandidateTypes returns the candidate types seen at location
func (b *InfoBox) CandidateTypes(location string) []string {
	return slices.Clone(b.candidateTypes[location])
}

// SetSetupTimes records when signaling started and when media arrived
func (b *InfoBox) SetSetupTimes(start, connect time.Time) {
	b.startTime = start
	b.connectTime = connect
}

// SetRemoteTrackIDs takes the first audio and video track of stream as the
// tracks to report stats for
func (b *InfoBox) SetRemoteTrackIDs(stream client.RemoteStream) {
	if len(stream.AudioTrackIDs) > 0 {
		b.trackIDs.Audio = stream.AudioTrackIDs[0]
	}
	if len(stream.VideoTrackIDs) > 0 {
		b.trackIDs.Video = stream.VideoTrackIDs[0]
	}
}

// TrackIDs returns the tracks stats are reported for
func (b *InfoBox) TrackIDs() stats.TrackIDs {
	return b.trackIDs
}

// Visible reports whether the box is shown
func (b *InfoBox) Visible() bool {
	return b.visible
}

// Toggle shows or hides the box and returns the new visibility
func (b *InfoBox) Toggle() bool {
	if b.visible {
		b.visible = false
		b.view.Hide(RegionInfo)
	} else {
		b.show()
	}
	return b.visible
}

func (b *InfoBox) show() {
	b.visible = true
	b.view.Show(RegionInfo)
}

// Text returns the last rendered text
func (b *InfoBox) Text() string {
	return b.text
}

// Update renders the box. states is nil without a peer connection.
func (b *InfoBox) Update(states *client.PeerStates, reports []stats.Report) {
	var sb strings.Builder

	if len(b.errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range b.errors {
			fmt.Fprintf(&sb, "  %s\n", e)
		}
	}
	if len(b.warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range b.warnings {
			fmt.Fprintf(&sb, "  %s\n", w)
		}
	}

	if states != nil {
		sb.WriteString("States:\n")
		fmt.Fprintf(&sb, "  Signaling: %s\n", states.SignalingState)
		fmt.Fprintf(&sb, "  Gathering: %s\n", states.ICEGatheringState)
		fmt.Fprintf(&sb, "  ICE: %s\n", states.ICEConnectionState)
		fmt.Fprintf(&sb, "  Connection: %s\n", states.ConnectionState)
	}

	if len(b.candidateTypes) > 0 {
		sb.WriteString("Candidates:\n")
		for _, location := range []string{"Local", "Remote"} {
			if types := b.candidateTypes[location]; len(types) > 0 {
				fmt.Fprintf(&sb, "  %s: %s\n", location, strings.Join(types, ", "))
			}
		}
	}

	if !b.startTime.IsZero() && !b.connectTime.IsZero() {
		fmt.Fprintf(&sb, "Setup time: %dms\n", b.connectTime.Sub(b.startTime).Milliseconds())
	}

	if len(reports) > 0 {
		b.writeStats(&sb, reports)
	}

	b.text = sb.String()
	b.view.SetText(RegionInfo, b.text)
}

func (b *InfoBox) writeStats(sb *strings.Builder, reports []stats.Report) {
	summary := stats.Enumerate(reports, b.trackIDs)

	audio := summary.Audio.Remote
	if audio.TrackID != "" {
		fmt.Fprintf(sb, "Audio recv: %s", audio.MimeType)
		if cur, ok := stats.FindReport(reports, "inbound-rtp", "kind", "audio"); ok {
			if kbps, ok := stats.Bitrate(cur, b.prevAudio, "bytesReceived"); ok {
				fmt.Fprintf(sb, " %.0f kbps", kbps/1000)
			}
			b.prevAudio = cur
		}
		fmt.Fprintf(sb, ", lost %d, jitter %.3f\n", audio.PacketsLost, audio.Jitter)
	}

	video := summary.Video.Remote
	if video.TrackID != "" {
		fmt.Fprintf(sb, "Video recv: %s %dx%d", video.MimeType, video.FrameWidth, video.FrameHeight)
		if cur, ok := stats.FindReport(reports, "inbound-rtp", "kind", "video"); ok {
			if kbps, ok := stats.Bitrate(cur, b.prevVideo, "bytesReceived"); ok {
				fmt.Fprintf(sb, " %.0f kbps", kbps/1000)
			}
			b.prevVideo = cur
		}
		fmt.Fprintf(sb, ", decoded %d, lost %d, plis %d\n", video.FramesDecoded, video.PacketsLost, video.PliCount)
	}

	conn := summary.Connection
	if conn.LocalCandidateID != "" || conn.RemoteCandidateID != "" {
		fmt.Fprintf(sb, "Connection: %s:%d (%s) <-> %s:%d (%s), rtt %.0fms\n",
			conn.LocalIP, conn.LocalPort, conn.LocalCandidateType,
			conn.RemoteIP, conn.RemotePort, conn.RemoteCandidateType,
			conn.CurrentRoundTripTime*1000)
	}
}
