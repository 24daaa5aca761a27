package client

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"example.com/apprtc/pkg/stats"
)

// TURNFailureMessage is reported when no ICE servers could be fetched
const TURNFailureMessage = "No TURN server; unlikely that media will traverse networks."

const hangupTimeout = 10 * time.Second

// ErrNoPeerConnection is returned when the call has no peer connection yet
var ErrNoPeerConnection = errors.New("no peer connection")

// Handlers are the call lifecycle callbacks. Any of them may be nil. They
// are invoked from the call's goroutines and must not block.
type Handlers struct {
	CallerStarted            func(roomID, roomLink string)
	Error                    func(msg string)
	ICEConnectionStateChange func(state webrtc.ICEConnectionState)
	NewICECandidate          func(location, candidate string)
	RemoteHangup             func()
	RemoteSDPSet             func(hasRemoteVideo bool)
	RemoteStreamAdded        func(stream RemoteStream)
	RemoteVideoFrame         func()
	SignalingStateChange     func(state webrtc.SignalingState)
	TURNStatusMessage        func(msg string)
	DataMessage              func(msg string)
	RoomFull                 func(roomID string)
}

// Option configures a Call
type Option func(*Call)

// WithMedia sets how local media is acquired. The default is a tone.
func WithMedia(factory MediaFactory) Option {
	return func(c *Call) {
		c.mediaFactory = factory
	}
}

// WithHTTPClient sets the client used for room server, collider and ICE
// server requests
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Call) {
		c.httpClient = httpClient
	}
}

// WithHandlers sets the lifecycle callbacks
func WithHandlers(handlers *Handlers) Option {
	return func(c *Call) {
		c.handlers = handlers
	}
}

// Call owns the signaling channel and at most one peer client, and drives
// joining, signaling, hangup and restart.
type Call struct {
	httpClient   *http.Client
	roomServer   *RoomServerClient
	channel      *SignalingChannel
	mediaFactory MediaFactory
	handlers     *Handlers

	sendMu sync.Mutex // keeps outgoing signaling messages ordered

	mu        sync.Mutex
	params    *Params
	pcClient  *PeerClient
	media     MediaSource
	startTime time.Time
	iceDone   chan struct{}
	mediaDone chan struct{}
}

// NewCall creates a call and starts fetching ICE servers and media
func NewCall(params *Params, opts ...Option) *Call {
	c := &Call{
		params:       params,
		mediaFactory: NewToneSource,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.handlers == nil {
		c.handlers = &Handlers{}
	}

	c.roomServer = NewRoomServerClient(params.RoomServer, c.httpClient)
	c.channel = NewSignalingChannel(params.WSSURL, params.WSSPostURL, c.httpClient)
	c.channel.OnMessage(c.onRecvSignalingChannelMessage)

	c.requestMediaAndICEServers(context.Background())
	return c
}

func (c *Call) requestMediaAndICEServers(ctx context.Context) {
	iceDone := make(chan struct{})
	mediaDone := make(chan struct{})

	c.mu.Lock()
	c.iceDone = iceDone
	c.mediaDone = mediaDone
	c.mu.Unlock()

	go func() {
		defer close(iceDone)
		c.maybeGetICEServers(ctx)
	}()
	go func() {
		defer close(mediaDone)
		c.getMedia(ctx)
	}()
}

func (c *Call) maybeGetICEServers(ctx context.Context) {
	c.mu.Lock()
	requestURL := c.params.ICEServerRequestURL
	transports := c.params.ICEServerTransports
	should := requestURL != "" && len(c.params.PeerConnectionConfig.ICEServers) == 0
	c.mu.Unlock()

	if !should {
		return
	}

	servers, err := RequestICEServers(ctx, c.httpClient, requestURL, transports)
	if err != nil {
		log.Warn().Err(err).Msg("ICE server request failed")
		if c.handlers.TURNStatusMessage != nil {
			c.handlers.TURNStatusMessage(TURNFailureMessage)
		}
		return
	}

	c.mu.Lock()
	c.params.PeerConnectionConfig.ICEServers = append(c.params.PeerConnectionConfig.ICEServers, servers...)
	c.mu.Unlock()
	log.Info().Int("count", len(servers)).Msg("Got ICE servers")
}

func (c *Call) getMedia(ctx context.Context) {
	if c.mediaFactory == nil {
		return
	}
	media, err := c.mediaFactory(ctx)
	if err != nil {
		c.onError("Error getting user media: " + err.Error())
		return
	}
	media.Start(context.WithoutCancel(ctx))

	c.mu.Lock()
	old := c.media
	c.media = media
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	log.Info().Int("tracks", len(media.Tracks())).Msg("Got local media")
}

// IsInitiator reports whether this client sends the offer
func (c *Call) IsInitiator() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.IsInitiator
}

// RoomID returns the current room, empty when not in a room
func (c *Call) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.RoomID
}

// ClientID returns the id the room server assigned
func (c *Call) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.ClientID
}

// PreviousRoomID returns the room left by the last hangup
func (c *Call) PreviousRoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.PreviousRoomID
}

// StartTime returns when signaling started, zero when no call is running
func (c *Call) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime
}

// Start joins roomID and starts signaling once the channel is registered and
// ICE servers and media are available. Failures are reported through the
// Error handler and returned.
func (c *Call) Start(ctx context.Context, roomID string) error {
	return c.connectToRoom(ctx, roomID)
}

// Restart fetches ICE servers and media again and rejoins the previous room
func (c *Call) Restart(ctx context.Context) error {
	c.requestMediaAndICEServers(ctx)
	return c.Start(ctx, c.PreviousRoomID())
}

func (c *Call) connectToRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	c.params.RoomID = roomID
	c.mu.Unlock()

	// The channel is opened alongside the join when the collider URL is
	// known, and with the URL from the join response otherwise.
	openEarly := c.channel.URL() != ""

	var g errgroup.Group
	if openEarly {
		g.Go(func() error {
			if err := c.channel.Open(ctx); err != nil {
				c.onError("WebSocket open error: " + err.Error())
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := c.joinRoom(ctx); err != nil {
			c.onError("Room server join error: " + err.Error())
			return err
		}
		return nil
	})

	err := g.Wait()
	if err == nil && !openEarly {
		if err = c.channel.Open(ctx); err != nil {
			c.onError("WebSocket open error: " + err.Error())
		}
	}
	if err == nil {
		c.mu.Lock()
		roomID, clientID := c.params.RoomID, c.params.ClientID
		c.mu.Unlock()
		err = c.channel.Register(roomID, clientID)
	}
	if err != nil {
		c.onError("WebSocket register error: " + err.Error())
		return err
	}

	c.mu.Lock()
	iceDone, mediaDone := c.iceDone, c.mediaDone
	c.mu.Unlock()
	for _, done := range []chan struct{}{iceDone, mediaDone} {
		select {
		case <-done:
		case <-ctx.Done():
			c.onError("Failed to start signaling: " + ctx.Err().Error())
			return ctx.Err()
		}
	}

	return c.startSignaling()
}

func (c *Call) joinRoom(ctx context.Context) error {
	c.mu.Lock()
	roomID := c.params.RoomID
	query := c.params.encodedQuery()
	c.mu.Unlock()

	joined, err := c.roomServer.Join(ctx, roomID, query)
	if err != nil {
		if errors.Is(err, ErrRoomFull) && c.handlers.RoomFull != nil {
			c.handlers.RoomFull(roomID)
		}
		return err
	}
	log.Info().Str("room_id", joined.RoomID).Str("client_id", joined.ClientID).Msg("Joined the room")

	c.mu.Lock()
	c.params.ClientID = joined.ClientID
	c.params.RoomID = joined.RoomID
	c.params.RoomLink = joined.RoomLink
	c.params.IsInitiator = joined.IsInitiator == "true"
	c.params.Messages = joined.Messages
	if c.params.WSSURL == "" {
		c.params.WSSURL = joined.WSSURL
	}
	if c.params.WSSPostURL == "" {
		c.params.WSSPostURL = joined.WSSPostURL
	}
	c.mu.Unlock()

	c.channel.SetURLs(joined.WSSURL, joined.WSSPostURL)
	return nil
}

func (c *Call) startSignaling() error {
	log.Info().Msg("Starting signaling")

	c.mu.Lock()
	initiator := c.params.IsInitiator
	roomID, roomLink := c.params.RoomID, c.params.RoomLink
	c.mu.Unlock()

	if initiator && c.handlers.CallerStarted != nil {
		c.handlers.CallerStarted(roomID, roomLink)
	}

	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	pcClient, err := c.maybeCreatePeerClient()
	if err != nil {
		c.onError("Create PeerConnection exception: " + err.Error())
		return err
	}

	c.mu.Lock()
	offerOptions := c.params.OfferOptions
	messages := c.params.Messages
	c.mu.Unlock()

	if initiator {
		pcClient.StartAsCaller(offerOptions)
	} else {
		pcClient.StartAsCallee(messages)
	}
	return nil
}

func (c *Call) maybeCreatePeerClient() (*PeerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pcClient != nil {
		return c.pcClient, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Error().Err(err).Msg("ECDSA certificate generation failed.")
		return nil, err
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		log.Error().Err(err).Msg("ECDSA certificate generation failed.")
		return nil, err
	}
	log.Debug().Msg("ECDSA certificate generated successfully.")
	c.params.PeerConnectionConfig.Certificates = []webrtc.Certificate{*cert}

	var tracks []webrtc.TrackLocal
	if c.media != nil {
		tracks = c.media.Tracks()
	}

	pcClient, err := NewPeerClient(*c.params, tracks, c.handlers, c.sendSignalingMessage, c.startTime)
	if err != nil {
		return nil, err
	}
	c.pcClient = pcClient
	log.Debug().Msg("Created PeerClient")
	return pcClient, nil
}

// onRecvSignalingChannelMessage runs on the channel's read goroutine. The
// peer client takes its ICE servers and tracks when it is created, so
// relayed messages wait for both requests to settle, in order.
func (c *Call) onRecvSignalingChannelMessage(msg string) {
	c.mu.Lock()
	iceDone, mediaDone := c.iceDone, c.mediaDone
	c.mu.Unlock()
	<-iceDone
	<-mediaDone

	pcClient, err := c.maybeCreatePeerClient()
	if err != nil {
		c.onError("Create PeerConnection exception: " + err.Error())
		return
	}
	pcClient.ReceiveSignalingMessage(msg)
}

// sendSignalingMessage posts through the room server when initiating, so
// the room server can store messages until the other client joins.
// Otherwise messages go over the channel.
func (c *Call) sendSignalingMessage(msg SignalingMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	initiator := c.params.IsInitiator
	roomID, clientID := c.params.RoomID, c.params.ClientID
	query := c.params.encodedQuery()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()

	body := msg.ToJSON()
	if initiator {
		log.Debug().Str("msg", body).Msg("C->GAE")
		if err := c.roomServer.PostMessage(ctx, roomID, clientID, query, body); err != nil {
			log.Error().Err(err).Str("type", msg.Type).Msg("Failed to post signaling message")
		}
		return
	}
	if err := c.channel.Send(ctx, body); err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to send signaling message")
	}
}

type hangupStep struct {
	run         func(ctx context.Context) error
	errorString string
}

// Hangup leaves the room: it closes the peer connection, tells the room
// server, says bye to the other client, closes the channel and clears the
// room and client ids. Every step is attempted even when an earlier one
// failed. With async the steps run on a goroutine. The returned channel is
// closed once all steps ran.
func (c *Call) Hangup(async bool) <-chan struct{} {
	done := make(chan struct{})

	c.mu.Lock()
	c.startTime = time.Time{}
	if c.params.RoomID == "" {
		c.mu.Unlock()
		close(done)
		return done
	}
	pcClient := c.pcClient
	c.pcClient = nil
	roomID, clientID := c.params.RoomID, c.params.ClientID
	c.mu.Unlock()

	if pcClient != nil {
		if err := pcClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close peer connection")
		}
	}

	steps := []hangupStep{
		{
			run: func(ctx context.Context) error {
				return c.roomServer.Leave(ctx, roomID, clientID)
			},
			errorString: "Error sending /leave:",
		},
		{
			run: func(ctx context.Context) error {
				return c.channel.Send(ctx, SignalingMessage{Type: MessageBye}.ToJSON())
			},
			errorString: "Error sending bye:",
		},
		{
			run:         c.channel.Close,
			errorString: "Error closing signaling channel:",
		},
		{
			run: func(context.Context) error {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.params.PreviousRoomID = c.params.RoomID
				c.params.RoomID = ""
				c.params.ClientID = ""
				return nil
			},
			errorString: "Error setting params:",
		},
	}

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		defer cancel()
		for _, step := range steps {
			if err := step.run(ctx); err != nil {
				log.Error().Err(err).Msg(step.errorString)
			}
		}
	}

	if async {
		go func() {
			defer close(done)
			run()
		}()
		return done
	}

	run()
	c.mu.Lock()
	cleared := c.params.RoomID == "" && c.params.ClientID == ""
	c.mu.Unlock()
	if cleared {
		log.Info().Msg("Cleanup completed.")
	} else {
		log.Error().Msg("ERROR: sync cleanup tasks did not complete successfully.")
	}
	close(done)
	return done
}

// OnRemoteHangup makes this client the initiator and starts signaling again
// without rejoining the room
func (c *Call) OnRemoteHangup() {
	c.mu.Lock()
	c.startTime = time.Time{}
	c.params.IsInitiator = true
	pcClient := c.pcClient
	c.pcClient = nil
	c.mu.Unlock()

	if pcClient != nil {
		if err := pcClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close peer connection")
		}
	}

	if err := c.startSignaling(); err != nil {
		log.Error().Err(err).Msg("Failed to restart signaling")
	}
}

// PeerStates returns the peer connection states, false without a peer
// connection
func (c *Call) PeerStates() (PeerStates, bool) {
	c.mu.Lock()
	pcClient := c.pcClient
	c.mu.Unlock()
	if pcClient == nil {
		return PeerStates{}, false
	}
	return pcClient.States(), true
}

// Stats returns the peer connection statistics
func (c *Call) Stats() ([]stats.Report, error) {
	c.mu.Lock()
	pcClient := c.pcClient
	c.mu.Unlock()
	if pcClient == nil {
		return nil, ErrNoPeerConnection
	}
	return pcClient.Stats()
}

// RemoteAudioLevel returns the level of the received audio
func (c *Call) RemoteAudioLevel() float64 {
	c.mu.Lock()
	pcClient := c.pcClient
	c.mu.Unlock()
	if pcClient == nil {
		return 0
	}
	return pcClient.AudioLevel()
}

// SendData relays msg over the data channel when it is open
func (c *Call) SendData(msg string) bool {
	c.mu.Lock()
	pcClient := c.pcClient
	c.mu.Unlock()
	if pcClient == nil {
		return false
	}
	return pcClient.SendData(msg)
}

// Close releases the local media and the peer connection
func (c *Call) Close() error {
	c.mu.Lock()
	media := c.media
	c.media = nil
	pcClient := c.pcClient
	c.pcClient = nil
	c.mu.Unlock()

	var errs []error
	if pcClient != nil {
		errs = append(errs, pcClient.Close())
	}
	if media != nil {
		errs = append(errs, media.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close call: %w", err)
	}
	return nil
}

func (c *Call) onError(msg string) {
	log.Error().Msg(msg)
	if c.handlers.Error != nil {
		c.handlers.Error(msg)
	}
}
