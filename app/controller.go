package app

import (
	"context"
	"slices"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"example.com/apprtc/client"
	"example.com/apprtc/pkg/room"
	"example.com/apprtc/pkg/stats"
)

// Call is what the controller needs from a call
type Call interface {
	Start(ctx context.Context, roomID string) error
	Restart(ctx context.Context) error
	Hangup(async bool) <-chan struct{}
	OnRemoteHangup()
	StartTime() time.Time
	SendData(msg string) bool
	PeerStates() (client.PeerStates, bool)
	Stats() ([]stats.Report, error)
	Close() error
}

// CallFactory creates the call for the loaded parameters
type CallFactory func(params *client.Params, handlers *client.Handlers) Call

// NewClientCall returns a factory creating client.Call with opts
func NewClientCall(opts ...client.Option) CallFactory {
	return func(params *client.Params, handlers *client.Handlers) Call {
		return client.NewCall(params, append(slices.Clone(opts), client.WithHandlers(handlers))...)
	}
}

const (
	defaultIconTimeout      = 5 * time.Second
	defaultVideoResetDelay  = 800 * time.Millisecond
	defaultInfoRefreshDelay = time.Second
)

// Config tunes the controller timers. Zero values use the defaults.
type Config struct {
	IconTimeout      time.Duration
	VideoResetDelay  time.Duration
	InfoRefreshDelay time.Duration
}

// Controller connects a Call with the UI. All UI state is owned by the
// goroutine running Run; every public method and call callback is posted
// to it.
type Controller struct {
	params  *client.Params
	view    View
	newCall CallFactory
	cfg     Config

	events chan func()
	done   chan struct{}
	ctx    context.Context

	state            State
	call             Call
	info             *InfoBox
	selection        *room.Selection
	roomLink         string
	uiBound          bool
	fullscreen       bool
	unloadBound      bool
	iconTimer        *time.Timer
	resetTimer       *time.Timer
	infoTimer        *time.Timer
	waitingForVideo  bool
	remoteVideoFrame bool

	// OnStateChange is called on the loop goroutine after each transition
	OnStateChange func(from, to State)
}

// NewController creates a controller for params
func NewController(params *client.Params, view View, newCall CallFactory, cfg Config) *Controller {
	if cfg.IconTimeout == 0 {
		cfg.IconTimeout = defaultIconTimeout
	}
	if cfg.VideoResetDelay == 0 {
		cfg.VideoResetDelay = defaultVideoResetDelay
	}
	if cfg.InfoRefreshDelay == 0 {
		cfg.InfoRefreshDelay = defaultInfoRefreshDelay
	}
	log.Info().Str("server", params.RoomServer).Str("room", params.RoomID).Msg("Initializing")

	return &Controller{
		params:  params,
		view:    view,
		newCall: newCall,
		cfg:     cfg,
		events:  make(chan func(), 64),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		state:   StateIdle,
		info:    NewInfoBox(view),
	}
}

// Run processes events until ctx is done
func (c *Controller) Run(ctx context.Context) {
	c.ctx = ctx
	defer close(c.done)
	defer c.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.events:
			fn()
		}
	}
}

func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// do runs fn on the loop and waits for it
func (c *Controller) do(fn func()) {
	finished := make(chan struct{})
	c.post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
	case <-c.done:
	}
}

// State returns the current state
func (c *Controller) State() State {
	var s State
	c.do(func() { s = c.state })
	return s
}

// RoomLink returns the link shared while waiting for the other side
func (c *Controller) RoomLink() string {
	var link string
	c.do(func() { link = c.roomLink })
	return link
}

// InfoBox returns the diagnostics box. Use it from the loop or after Run
// returned.
func (c *Controller) InfoBox() *InfoBox {
	return c.info
}

// InfoText refreshes the info box from the call and returns its text
func (c *Controller) InfoText() string {
	var text string
	c.do(func() {
		c.updateInfo()
		text = c.info.Text()
	})
	return text
}

func (c *Controller) fire(event Event) bool {
	next, ok := Next(c.state, event)
	if !ok {
		log.Debug().Str("state", string(c.state)).Str("event", string(event)).Msg("Ignoring event")
		return false
	}
	from := c.state
	c.state = next
	log.Debug().Str("from", string(from)).Str("to", string(next)).Str("event", string(event)).Msg("Transition")
	if c.OnStateChange != nil {
		c.OnStateChange(from, next)
	}
	return true
}

// Load shows the confirm-join prompt when a room id is configured and the
// room selection otherwise
func (c *Controller) Load() {
	c.post(func() {
		if c.params.RoomID == "" {
			if c.fire(EventLoadNoRoom) {
				c.showRoomSelection(room.RandomID())
			}
			return
		}

		if !c.fire(EventLoadWithRoom) {
			return
		}
		c.createCall()
		c.view.Show(RegionConfirmJoin)
		if c.params.BypassJoinConfirmation {
			c.confirmJoin()
		}
	})
}

// Selection returns the room selection form while it is shown
func (c *Controller) Selection() *room.Selection {
	var s *room.Selection
	c.do(func() { s = c.selection })
	return s
}

func (c *Controller) showRoomSelection(initial string) {
	selection := room.NewSelection(initial)
	selection.OnRoomSelected = func(roomID string) {
		c.post(func() { c.onRoomSelected(selection, roomID) })
	}
	c.selection = selection
	c.view.Show(RegionRoomSelection)
}

func (c *Controller) onRoomSelected(selection *room.Selection, roomID string) {
	if selection != c.selection || !c.fire(EventRoomSelected) {
		return
	}
	c.view.Hide(RegionRoomSelection)
	c.createCall()
	c.finishCallSetup(roomID)

	selection.Detach()
	c.selection = nil
}

// ConfirmJoin is the confirm-join button
func (c *Controller) ConfirmJoin() {
	c.post(c.confirmJoin)
}

func (c *Controller) confirmJoin() {
	if !c.fire(EventJoinConfirmed) {
		return
	}
	c.view.Hide(RegionConfirmJoin)
	c.finishCallSetup(c.params.RoomID)
}

func (c *Controller) createCall() {
	if old := c.call; old != nil {
		go func() {
			if err := old.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close previous call")
			}
		}()
	}
	c.info = NewInfoBox(c.view)

	if len(c.params.ErrorMessages) > 0 {
		for _, msg := range c.params.ErrorMessages {
			c.info.PushErrorMessage(msg)
		}
		c.call = c.newCall(c.params, &client.Handlers{})
		return
	}
	for _, msg := range c.params.WarningMessages {
		c.info.PushWarningMessage(msg)
	}

	c.call = c.newCall(c.params, &client.Handlers{
		CallerStarted: func(roomID, roomLink string) {
			c.post(func() { c.displaySharingInfo(roomID, roomLink) })
		},
		Error: func(msg string) {
			c.post(func() { c.displayError(msg) })
		},
		ICEConnectionStateChange: func(webrtc.ICEConnectionState) {
			c.post(c.updateInfo)
		},
		NewICECandidate: func(location, candidate string) {
			c.post(func() { c.info.RecordICECandidateType(location, candidate) })
		},
		RemoteHangup: func() {
			c.post(c.onRemoteHangup)
		},
		RemoteSDPSet: func(hasRemoteVideo bool) {
			c.post(func() { c.onRemoteSDPSet(hasRemoteVideo) })
		},
		RemoteStreamAdded: func(stream client.RemoteStream) {
			c.post(func() { c.onRemoteStreamAdded(stream) })
		},
		RemoteVideoFrame: func() {
			c.post(c.onRemoteVideoFrame)
		},
		SignalingStateChange: func(webrtc.SignalingState) {
			c.post(c.updateInfo)
		},
		TURNStatusMessage: func(msg string) {
			c.post(func() { c.displayTURNStatus(msg) })
		},
		DataMessage: func(msg string) {
			log.Info().Str("msg", msg).Msg("Data channel message")
		},
		RoomFull: func(roomID string) {
			c.post(func() { c.onRoomFull(roomID) })
		},
	})
}

func (c *Controller) finishCallSetup(roomID string) {
	call, ctx := c.call, c.ctx
	go func() {
		if err := call.Start(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("Call start failed")
		}
	}()
	c.setupUI()
	c.unloadBound = true
}

func (c *Controller) setupUI() {
	c.uiBound = true
	c.view.Show(RegionIcons)
}

// Hangup is the hangup button
func (c *Controller) Hangup() {
	c.post(func() {
		if !c.fire(EventLocalHangup) {
			return
		}
		log.Info().Msg("Hanging up.")
		c.view.Hide(RegionIcons)
		c.displayStatus("Hanging up")
		c.transitionToDone()

		c.call.Hangup(true)
		c.uiBound = false
		c.stopTimer(&c.iconTimer)
	})
}

func (c *Controller) onRemoteHangup() {
	if !c.fire(EventRemoteHangup) {
		return
	}
	c.displayStatus("The remote side hung up.")
	c.transitionToWaiting()

	go c.call.OnRemoteHangup()
}

func (c *Controller) onRemoteSDPSet(hasRemoteVideo bool) {
	if !hasRemoteVideo {
		log.Info().Msg("No remote video stream; not waiting for media to arrive.")
		c.transitionToActive()
		return
	}
	log.Info().Msg("Waiting for remote video.")
	if c.remoteVideoFrame {
		c.transitionToActive()
		return
	}
	c.waitingForVideo = true
}

func (c *Controller) onRemoteVideoFrame() {
	c.remoteVideoFrame = true
	if c.waitingForVideo {
		log.Info().Msg("Remote video started")
		c.transitionToActive()
	}
}

func (c *Controller) onRemoteStreamAdded(stream client.RemoteStream) {
	c.view.Deactivate(RegionSharing)
	c.displayTURNStatus("")
	log.Info().Msg("Remote stream added.")
	c.view.SetRemoteStream(&stream)
	c.info.SetRemoteTrackIDs(stream)
	c.stopTimer(&c.resetTimer)
}

func (c *Controller) transitionToActive() {
	c.waitingForVideo = false
	if !c.fire(EventRemoteVideoReady) {
		return
	}

	connectTime := time.Now()
	startTime := c.call.StartTime()
	c.info.SetSetupTimes(startTime, connectTime)
	c.updateInfo()
	if !startTime.IsZero() {
		log.Info().Int64("ms", connectTime.Sub(startTime).Milliseconds()).Msg("Call setup time")
	}

	c.view.Activate(RegionRemoteVideo)
	c.view.Activate(RegionVideos)
	c.view.Show(RegionHangup)
	c.displayStatus("")
}

func (c *Controller) transitionToWaiting() {
	c.waitingForVideo = false
	c.remoteVideoFrame = false

	c.view.Hide(RegionHangup)
	c.view.Deactivate(RegionVideos)

	if c.resetTimer == nil {
		var timer *time.Timer
		timer = time.AfterFunc(c.cfg.VideoResetDelay, func() {
			c.post(func() {
				if c.resetTimer != timer {
					return
				}
				c.resetTimer = nil
				log.Info().Msg("Resetting remote video after transitioning to waiting.")
				c.view.SetRemoteStream(nil)
			})
		})
		c.resetTimer = timer
	}
	c.view.Deactivate(RegionRemoteVideo)
}

func (c *Controller) transitionToDone() {
	c.waitingForVideo = false
	c.remoteVideoFrame = false

	c.view.Deactivate(RegionRemoteVideo)
	c.view.Hide(RegionHangup)
	c.view.Activate(RegionRejoin)
	c.view.Show(RegionRejoin)
	c.displayStatus("")
	c.displayTURNStatus("")
}

// Rejoin is the rejoin button shown after hanging up
func (c *Controller) Rejoin() {
	c.post(func() {
		if !c.fire(EventRejoin) {
			return
		}
		c.view.Deactivate(RegionRejoin)
		c.view.Hide(RegionRejoin)

		call, ctx := c.call, c.ctx
		go func() {
			if err := call.Restart(ctx); err != nil {
				log.Warn().Err(err).Msg("Call restart failed")
			}
		}()
		c.setupUI()
	})
}

func (c *Controller) onRoomFull(roomID string) {
	if !c.fire(EventRoomFull) {
		return
	}
	c.uiBound = false
	c.unloadBound = false
	c.view.Hide(RegionIcons)
	c.displayStatus("")
	c.info.PushWarningMessage("Room " + roomID + " is full")
	c.showRoomSelection(roomID)
}

// Unload hangs up synchronously, as when the page is closed, and releases
// the call's media
func (c *Controller) Unload() {
	c.do(func() {
		if c.call == nil {
			return
		}
		if c.unloadBound {
			<-c.call.Hangup(false)
		}
		if err := c.call.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close call")
		}
	})
}

// KeyPress handles a typed key: f toggles fullscreen, i toggles the info
// box and any other key is sent over the data channel
func (c *Controller) KeyPress(key rune) {
	c.post(func() {
		if !c.uiBound {
			return
		}
		switch key {
		case 'f':
			c.toggleFullscreen()
		case 'i':
			if c.info.Toggle() {
				c.refreshInfo()
			} else {
				c.stopTimer(&c.infoTimer)
			}
		default:
			if c.call != nil && !c.call.SendData(string(key)) {
				log.Debug().Str("key", string(key)).Msg("Data channel not open")
			}
		}
	})
}

func (c *Controller) toggleFullscreen() {
	c.fullscreen = !c.fullscreen
	if c.fullscreen {
		log.Info().Msg("Entering fullscreen.")
	} else {
		log.Info().Msg("Exiting fullscreen.")
	}
	c.view.SetFullscreen(c.fullscreen)
}

// UserActivity is mouse movement: it shows the icons and restarts the
// hide timer
func (c *Controller) UserActivity() {
	c.post(func() {
		if !c.uiBound || c.view.IsActive(RegionIcons) {
			return
		}
		c.view.Activate(RegionIcons)
		c.setIconTimeout()
	})
}

// IconsHover is the pointer entering or leaving the icons. The icons stay
// while hovered.
func (c *Controller) IconsHover(inside bool) {
	c.post(func() {
		if !c.uiBound {
			return
		}
		if inside {
			c.stopTimer(&c.iconTimer)
			return
		}
		c.setIconTimeout()
	})
}

func (c *Controller) setIconTimeout() {
	c.stopTimer(&c.iconTimer)
	var timer *time.Timer
	timer = time.AfterFunc(c.cfg.IconTimeout, func() {
		c.post(func() {
			if c.iconTimer != timer {
				return
			}
			c.iconTimer = nil
			c.view.Deactivate(RegionIcons)
		})
	})
	c.iconTimer = timer
}

func (c *Controller) refreshInfo() {
	c.updateInfo()
	c.stopTimer(&c.infoTimer)
	var timer *time.Timer
	timer = time.AfterFunc(c.cfg.InfoRefreshDelay, func() {
		c.post(func() {
			if c.infoTimer != timer || !c.info.Visible() {
				return
			}
			c.refreshInfo()
		})
	})
	c.infoTimer = timer
}

func (c *Controller) updateInfo() {
	if c.call == nil {
		c.info.Update(nil, nil)
		return
	}
	var states *client.PeerStates
	if s, ok := c.call.PeerStates(); ok {
		states = &s
	}
	reports, err := c.call.Stats()
	if err != nil {
		reports = nil
	}
	c.info.Update(states, reports)
}

func (c *Controller) displaySharingInfo(roomID, roomLink string) {
	c.roomLink = roomLink
	log.Info().Str("room_id", roomID).Str("link", roomLink).Msg("Waiting for someone to join")
	c.view.SetText(RegionSharing, roomLink)
	c.view.Activate(RegionSharing)
}

func (c *Controller) displayStatus(status string) {
	if status == "" {
		c.view.Deactivate(RegionStatus)
	} else {
		c.view.Activate(RegionStatus)
	}
	c.view.SetText(RegionStatus, status)
}

func (c *Controller) displayTURNStatus(status string) {
	if status == "" {
		c.view.Deactivate(RegionTURNInfo)
	} else {
		c.view.Activate(RegionTURNInfo)
	}
	c.view.SetText(RegionTURNInfo, status)
}

func (c *Controller) displayError(msg string) {
	log.Error().Msg(msg)
	c.info.PushErrorMessage(msg)
}

func (c *Controller) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Controller) stopTimers() {
	c.stopTimer(&c.iconTimer)
	c.stopTimer(&c.resetTimer)
	c.stopTimer(&c.infoTimer)
}
