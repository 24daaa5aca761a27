package client

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	statsinterceptor "github.com/pion/interceptor/pkg/stats"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"example.com/apprtc/pkg/audio"
	"example.com/apprtc/pkg/stats"
)

// DataChannelLabel is the label of the unreliable control channel
const DataChannelLabel = "control"

// RemoteStream describes the media received from the remote peer
type RemoteStream struct {
	ID            string
	AudioTrackIDs []string
	VideoTrackIDs []string
}

// PeerStates is a snapshot of the peer connection states
type PeerStates struct {
	SignalingState     string
	ICEGatheringState  string
	ICEConnectionState string
	ConnectionState    string
}

// PeerClient wraps one peer connection and runs the offer/answer exchange
// for it. Outgoing signaling messages are handed to the sender callback.
type PeerClient struct {
	pc        *webrtc.PeerConnection
	params    Params
	handlers  *Handlers
	send      func(SignalingMessage)
	startTime time.Time

	mu           sync.Mutex
	opMu         sync.Mutex // serialises signaling message processing
	dataChannel  *webrtc.DataChannel
	isInitiator  bool
	started      bool
	hasRemoteSDP bool
	messageQueue []SignalingMessage
	remoteStream RemoteStream
	videoFrame   bool
	levels       *audio.LevelMeter
	closed       bool
	remoteTracks []*webrtc.TrackRemote
	rtpStats     statsinterceptor.Getter
}

// NewPeerClient creates the peer connection and adds the local tracks
func NewPeerClient(params Params, tracks []webrtc.TrackLocal, handlers *Handlers, send func(SignalingMessage), startTime time.Time) (*PeerClient, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	statsFactory, err := statsinterceptor.NewInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create stats interceptor: %w", err)
	}
	var rtpStats statsinterceptor.Getter
	statsFactory.OnNewPeerConnection(func(_ string, g statsinterceptor.Getter) {
		rtpStats = g
	})
	registry.Add(statsFactory)

	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI interceptor: %w", err)
	}
	registry.Add(pli)

	config := params.PeerConnectionConfig
	if params.ICETransports == "relay" {
		config.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	if handlers == nil {
		handlers = &Handlers{}
	}
	c := &PeerClient{
		pc:        pc,
		params:    params,
		handlers:  handlers,
		send:      send,
		startTime: startTime,
		rtpStats:  rtpStats,
	}

	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add track: %w", err)
		}

		// Read and discard RTCP packets
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	pc.OnICECandidate(c.onICECandidate)
	pc.OnTrack(c.onTrack)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Debug().Str("label", dc.Label()).Msg("Remote data channel")
		c.setDataChannel(dc)
	})
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		if c.handlers.SignalingStateChange != nil {
			c.handlers.SignalingStateChange(state)
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateConnected || state == webrtc.ICEConnectionStateCompleted {
			log.Info().Dur("elapsed", time.Since(c.startTime)).Str("state", state.String()).Msg("ICE complete time")
		}
		if c.handlers.ICEConnectionStateChange != nil {
			c.handlers.ICEConnectionStateChange(state)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("state", state.String()).Msg("Connection state")
	})

	return c, nil
}

func (c *PeerClient) setDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dataChannel = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		log.Info().Str("label", dc.Label()).Msg("Data channel open")
	})
	dc.OnClose(func() {
		log.Info().Str("label", dc.Label()).Msg("Data channel closed")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			log.Debug().Int("bytes", len(msg.Data)).Msg("Ignoring binary data channel message")
			return
		}
		if c.handlers.DataMessage != nil {
			c.handlers.DataMessage(string(msg.Data))
		}
	})
}

// StartAsCaller creates the control channel and sends an offer. It returns
// false if the client was already started.
func (c *PeerClient) StartAsCaller(options *webrtc.OfferOptions) bool {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return false
	}
	c.isInitiator = true
	c.started = true
	c.mu.Unlock()

	ordered := false
	maxRetransmits := uint16(0)
	dc, err := c.pc.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		c.onError("Failed to create data channel: " + err.Error())
	} else {
		c.setDataChannel(dc)
	}

	c.addReceiveTransceivers()

	log.Info().Msg("Sending offer to peer")
	offer, err := c.pc.CreateOffer(options)
	if err != nil {
		c.onError("Failed to create offer: " + err.Error())
		return true
	}
	c.setLocalSDPAndNotify(offer)
	return true
}

// addReceiveTransceivers makes sure the offer asks for audio and video even
// when nothing is sent
func (c *PeerClient) addReceiveTransceivers() {
	have := map[webrtc.RTPCodecType]bool{}
	for _, t := range c.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Warn().Err(err).Str("kind", kind.String()).Msg("Failed to add receive transceiver")
		}
	}
}

// StartAsCallee processes the messages the room server stored before this
// client joined
func (c *PeerClient) StartAsCallee(initialMessages []string) bool {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return false
	}
	c.isInitiator = false
	c.started = true
	c.mu.Unlock()

	if len(initialMessages) > 0 {
		for _, msg := range initialMessages {
			c.ReceiveSignalingMessage(msg)
		}
		return true
	}
	c.drainMessageQueue()
	return true
}

// ReceiveSignalingMessage queues a relayed message. The remote description
// always goes to the front of the queue; candidates wait until it is known.
func (c *PeerClient) ReceiveSignalingMessage(raw string) {
	msg, err := ParseSignalingMessage(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping signaling message")
		return
	}

	c.mu.Lock()
	switch {
	case (c.isInitiator && msg.Type == MessageAnswer) || (!c.isInitiator && msg.Type == MessageOffer):
		c.hasRemoteSDP = true
		c.messageQueue = append([]SignalingMessage{msg}, c.messageQueue...)
	case msg.Type == MessageCandidate:
		c.messageQueue = append(c.messageQueue, msg)
	case msg.Type == MessageBye:
		c.mu.Unlock()
		log.Info().Msg("Remote hung up")
		if c.handlers.RemoteHangup != nil {
			c.handlers.RemoteHangup()
		}
		return
	}
	c.mu.Unlock()

	c.drainMessageQueue()
}

func (c *PeerClient) drainMessageQueue() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if !c.started || !c.hasRemoteSDP || c.closed {
		c.mu.Unlock()
		return
	}
	queue := c.messageQueue
	c.messageQueue = nil
	c.mu.Unlock()

	for _, msg := range queue {
		c.processSignalingMessage(msg)
	}
}

func (c *PeerClient) processSignalingMessage(msg SignalingMessage) {
	c.mu.Lock()
	initiator := c.isInitiator
	c.mu.Unlock()

	switch {
	case msg.Type == MessageOffer && !initiator:
		if c.pc.SignalingState() != webrtc.SignalingStateStable {
			log.Error().Str("state", c.pc.SignalingState().String()).Msg("Remote offer received in unexpected state")
			return
		}
		if !c.setRemoteSDP(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}) {
			return
		}
		c.doAnswer()
	case msg.Type == MessageAnswer && initiator:
		if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
			log.Error().Str("state", c.pc.SignalingState().String()).Msg("Remote answer received in unexpected state")
			return
		}
		c.setRemoteSDP(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP})
	case msg.Type == MessageCandidate:
		if !c.acceptCandidate(msg.Candidate) {
			log.Debug().Str("candidate", msg.Candidate).Msg("Filtered remote candidate")
			return
		}
		if err := c.pc.AddICECandidate(msg.candidateInit()); err != nil {
			c.onError("Failed to add ICE Candidate: " + err.Error())
			return
		}
		c.recordICECandidate("Remote", msg.Candidate)
	default:
		log.Warn().Str("type", msg.Type).Msg("Unexpected signaling message")
	}
}

func (c *PeerClient) doAnswer() {
	log.Info().Msg("Sending answer to peer")
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.onError("Failed to create answer: " + err.Error())
		return
	}
	c.setLocalSDPAndNotify(answer)
}

func (c *PeerClient) setLocalSDPAndNotify(desc webrtc.SessionDescription) {
	p := &c.params
	desc.SDP = PreferCodec(desc.SDP, KindAudio, p.AudioRecvCodec)
	desc.SDP = PreferCodec(desc.SDP, KindVideo, p.VideoRecvCodec)
	desc.SDP = SetCodecBitrate(desc.SDP, KindAudio, parseKbps(p.AudioRecvBitrate))
	desc.SDP = SetCodecBitrate(desc.SDP, KindVideo, parseKbps(p.VideoRecvBitrate))
	if p.VideoFec == "false" {
		desc.SDP = RemoveVideoFEC(desc.SDP)
	}

	if err := c.pc.SetLocalDescription(desc); err != nil {
		c.onError("Failed to set session description: " + err.Error())
		return
	}
	log.Debug().Str("type", desc.Type.String()).Msg("Set session description success")

	if c.send != nil {
		c.send(sessionMessage(desc))
	}
}

func (c *PeerClient) setRemoteSDP(desc webrtc.SessionDescription) bool {
	p := &c.params
	desc.SDP = SetOpusOptions(desc.SDP, p)
	desc.SDP = PreferCodec(desc.SDP, KindAudio, p.AudioSendCodec)
	desc.SDP = PreferCodec(desc.SDP, KindVideo, p.VideoSendCodec)
	desc.SDP = SetCodecBitrate(desc.SDP, KindAudio, parseKbps(p.AudioSendBitrate))
	desc.SDP = SetVideoInitialBitrate(desc.SDP, p)
	desc.SDP = SetCodecBitrate(desc.SDP, KindVideo, parseKbps(p.VideoSendBitrate))
	if p.VideoFec == "false" {
		desc.SDP = RemoveVideoFEC(desc.SDP)
	}

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		c.onError("Failed to set session description: " + err.Error())
		return false
	}
	log.Debug().Str("type", desc.Type.String()).Msg("Set remote session description success")

	if c.handlers.RemoteSDPSet != nil {
		c.handlers.RemoteSDPSet(HasRemoteVideo(desc.SDP))
	}
	return true
}

// acceptCandidate drops TCP candidates, and anything but relay candidates
// when only relays may be used
func (c *PeerClient) acceptCandidate(candidate string) bool {
	if strings.Contains(candidate, "tcp") {
		return false
	}
	if c.params.ICETransports == "relay" && CandidateType(candidate) != "relay" {
		return false
	}
	return true
}

// CandidateType returns the "typ" of an ICE candidate line
func CandidateType(candidate string) string {
	fields := strings.Fields(candidate)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "typ" {
			return fields[i+1]
		}
	}
	return ""
}

func (c *PeerClient) onICECandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		log.Debug().Msg("End of candidates")
		return
	}
	init := candidate.ToJSON()
	if !c.acceptCandidate(init.Candidate) {
		return
	}
	if c.send != nil {
		c.send(candidateMessage(init))
	}
	c.recordICECandidate("Local", init.Candidate)
}

func (c *PeerClient) recordICECandidate(location, candidate string) {
	if c.handlers.NewICECandidate != nil {
		c.handlers.NewICECandidate(location, candidate)
	}
}

func (c *PeerClient) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	log.Info().Str("kind", track.Kind().String()).Str("track_id", track.ID()).Str("codec", track.Codec().MimeType).Msg("Remote track added")

	c.mu.Lock()
	c.remoteStream.ID = track.StreamID()
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		c.remoteStream.AudioTrackIDs = append(c.remoteStream.AudioTrackIDs, track.ID())
	case webrtc.RTPCodecTypeVideo:
		c.remoteStream.VideoTrackIDs = append(c.remoteStream.VideoTrackIDs, track.ID())
	}
	c.remoteTracks = append(c.remoteTracks, track)
	stream := c.copyRemoteStream()
	c.mu.Unlock()

	if c.handlers.RemoteStreamAdded != nil {
		c.handlers.RemoteStreamAdded(stream)
	}

	switch track.Kind() {
	case webrtc.RTPCodecTypeVideo:
		if err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}); err != nil {
			log.Warn().Err(err).Msg("Failed to send PLI")
		}
		go c.readVideo(track)
	case webrtc.RTPCodecTypeAudio:
		go c.readAudio(track)
	}
}

func (c *PeerClient) copyRemoteStream() RemoteStream {
	return RemoteStream{
		ID:            c.remoteStream.ID,
		AudioTrackIDs: append([]string(nil), c.remoteStream.AudioTrackIDs...),
		VideoTrackIDs: append([]string(nil), c.remoteStream.VideoTrackIDs...),
	}
}

// readVideo reports the first complete remote frame once
func (c *PeerClient) readVideo(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if !pkt.Marker {
			continue
		}

		c.mu.Lock()
		first := !c.videoFrame
		c.videoFrame = true
		c.mu.Unlock()

		if first {
			log.Info().Dur("elapsed", time.Since(c.startTime)).Msg("First remote video frame")
			if c.handlers.RemoteVideoFrame != nil {
				c.handlers.RemoteVideoFrame()
			}
		}
	}
}

func (c *PeerClient) readAudio(track *webrtc.TrackRemote) {
	var meter *audio.LevelMeter
	if strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
		m, err := audio.NewLevelMeter()
		if err != nil {
			log.Warn().Err(err).Msg("Remote audio level unavailable")
		} else {
			meter = m
			c.mu.Lock()
			c.levels = m
			c.mu.Unlock()
		}
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if meter != nil && len(pkt.Payload) > 0 {
			if err := meter.Write(pkt.Payload); err != nil {
				log.Debug().Err(err).Msg("Opus decode failed")
			}
		}
	}
}

// AudioLevel returns the RMS level of the remote audio in [0, 1]
func (c *PeerClient) AudioLevel() float64 {
	c.mu.Lock()
	meter := c.levels
	c.mu.Unlock()
	if meter == nil {
		return 0
	}
	return meter.Level()
}

// RemoteStream returns the tracks received so far
func (c *PeerClient) RemoteStream() RemoteStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyRemoteStream()
}

// States returns the current peer connection states
func (c *PeerClient) States() PeerStates {
	return PeerStates{
		SignalingState:     c.pc.SignalingState().String(),
		ICEGatheringState:  c.pc.ICEGatheringState().String(),
		ICEConnectionState: c.pc.ICEConnectionState().String(),
		ConnectionState:    c.pc.ConnectionState().String(),
	}
}

// Stats returns the peer connection statistics as generic reports, with
// one inbound-rtp report per remote track
func (c *PeerClient) Stats() ([]stats.Report, error) {
	reports, err := stats.FromPion(c.pc.GetStats())
	if err != nil {
		return nil, err
	}
	return append(reports, c.inboundReports(reports)...), nil
}

func (c *PeerClient) inboundReports(reports []stats.Report) []stats.Report {
	c.mu.Lock()
	tracks := append([]*webrtc.TrackRemote(nil), c.remoteTracks...)
	c.mu.Unlock()
	if c.rtpStats == nil {
		return nil
	}

	timestamp := float64(time.Now().UnixMilli())
	var inbound []stats.Report
	for _, track := range tracks {
		s := c.rtpStats.Get(uint32(track.SSRC()))
		if s == nil {
			continue
		}
		in := s.InboundRTPStreamStats
		inbound = append(inbound, stats.Report{
			"type":            "inbound-rtp",
			"id":              fmt.Sprintf("InboundRTP-%d", track.SSRC()),
			"timestamp":       timestamp,
			"ssrc":            float64(track.SSRC()),
			"kind":            track.Kind().String(),
			"trackIdentifier": track.ID(),
			"codecId":         codecStatsID(reports, track.Codec()),
			"bytesReceived":   float64(in.BytesReceived),
			"packetsReceived": float64(in.PacketsReceived),
			"packetsLost":     float64(in.PacketsLost),
			"jitter":          in.Jitter,
			"firCount":        float64(in.FIRCount),
			"pliCount":        float64(in.PLICount),
			"nackCount":       float64(in.NACKCount),
		})
	}
	return inbound
}

// codecStatsID returns the id of the codec report describing codec
func codecStatsID(reports []stats.Report, codec webrtc.RTPCodecParameters) string {
	for _, r := range reports {
		if r.Type() != "codec" || !strings.EqualFold(r.String("mimeType"), codec.MimeType) {
			continue
		}
		if pt, ok := r.Float("payloadType"); ok && uint8(pt) == uint8(codec.PayloadType) {
			return r.ID()
		}
	}
	return ""
}

// SendData sends text over the control channel. It returns false when the
// channel is not open.
func (c *PeerClient) SendData(msg string) bool {
	c.mu.Lock()
	dc := c.dataChannel
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	if err := dc.SendText(msg); err != nil {
		log.Warn().Err(err).Msg("Data channel send failed")
		return false
	}
	return true
}

// Close closes the peer connection
func (c *PeerClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		return err
	}
	return nil
}

func (c *PeerClient) onError(msg string) {
	log.Error().Msg(msg)
	if c.handlers.Error != nil {
		c.handlers.Error(msg)
	}
}
