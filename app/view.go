package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"example.com/apprtc/client"
)

// Region is a named part of the UI the controller shows, hides and
// activates
type Region string

const (
	RegionRoomSelection Region = "room-selection"
	RegionConfirmJoin   Region = "confirm-join-div"
	RegionStatus        Region = "status-div"
	RegionSharing       Region = "sharing-div"
	RegionTURNInfo      Region = "turn-info-div"
	RegionIcons         Region = "icons"
	RegionRemoteVideo   Region = "remote-video"
	RegionVideos        Region = "videos"
	RegionHangup        Region = "hangup"
	RegionRejoin        Region = "rejoin-div"
	RegionInfo          Region = "info-div"
)

// View renders the controller's UI state
type View interface {
	Show(r Region)
	Hide(r Region)
	Activate(r Region)
	Deactivate(r Region)
	IsActive(r Region) bool
	SetText(r Region, text string)
	SetFullscreen(on bool)
	// SetRemoteStream attaches the remote media, nil detaches it
	SetRemoteStream(stream *client.RemoteStream)
}

type regionState struct {
	shown  bool
	active bool
	text   string
}

// MemoryView keeps the UI state in memory. Regions start hidden and
// inactive.
type MemoryView struct {
	mu         sync.Mutex
	regions    map[Region]*regionState
	fullscreen bool
	stream     *client.RemoteStream
}

// NewMemoryView creates an empty view
func NewMemoryView() *MemoryView {
	return &MemoryView{regions: make(map[Region]*regionState)}
}

func (v *MemoryView) region(r Region) *regionState {
	st, ok := v.regions[r]
	if !ok {
		st = &regionState{}
		v.regions[r] = st
	}
	return st
}

func (v *MemoryView) Show(r Region) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.region(r).shown = true
}

func (v *MemoryView) Hide(r Region) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.region(r).shown = false
}

func (v *MemoryView) Activate(r Region) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.region(r).active = true
}

func (v *MemoryView) Deactivate(r Region) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.region(r).active = false
}

func (v *MemoryView) IsActive(r Region) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.region(r).active
}

func (v *MemoryView) SetText(r Region, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.region(r).text = text
}

func (v *MemoryView) SetFullscreen(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fullscreen = on
}

func (v *MemoryView) SetRemoteStream(stream *client.RemoteStream) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stream = stream
}

// Visible reports whether r is shown
func (v *MemoryView) Visible(r Region) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.region(r).shown
}

// Text returns the text of r
func (v *MemoryView) Text(r Region) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.region(r).text
}

// Fullscreen reports whether fullscreen is on
func (v *MemoryView) Fullscreen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fullscreen
}

// RemoteStream returns the attached remote stream
func (v *MemoryView) RemoteStream() *client.RemoteStream {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stream
}

// LogView is a MemoryView that logs what a user would see
type LogView struct {
	*MemoryView
}

// NewLogView creates a view for headless runs
func NewLogView() *LogView {
	return &LogView{MemoryView: NewMemoryView()}
}

func (v *LogView) Show(r Region) {
	if !v.Visible(r) {
		log.Debug().Str("region", string(r)).Msg("Show")
	}
	v.MemoryView.Show(r)
}

func (v *LogView) Activate(r Region) {
	if !v.IsActive(r) {
		log.Debug().Str("region", string(r)).Msg("Activate")
	}
	v.MemoryView.Activate(r)
}

func (v *LogView) SetText(r Region, text string) {
	if text != "" && text != v.Text(r) {
		switch r {
		case RegionInfo:
			log.Info().Msg("\n" + text)
		default:
			log.Info().Str("region", string(r)).Msg(text)
		}
	}
	v.MemoryView.SetText(r, text)
}

func (v *LogView) SetFullscreen(on bool) {
	log.Info().Bool("on", on).Msg("Fullscreen")
	v.MemoryView.SetFullscreen(on)
}

func (v *LogView) SetRemoteStream(stream *client.RemoteStream) {
	if stream == nil {
		log.Info().Msg("Remote stream detached")
	} else {
		log.Info().Str("stream_id", stream.ID).
			Strs("audio", stream.AudioTrackIDs).
			Strs("video", stream.VideoTrackIDs).
			Msg("Remote stream attached")
	}
	v.MemoryView.SetRemoteStream(stream)
}
