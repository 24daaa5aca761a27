package app

// State is the view state of the app
type State string

const (
	StateIdle          State = "idle"
	StateRoomSelection State = "room-selection"
	StateConfirmJoin   State = "confirm-join"
	StateConnecting    State = "connecting"
	StateActiveCall    State = "active-call"
	StateWaiting       State = "waiting"
	StateDone          State = "done"
)

// Event drives state transitions
type Event string

const (
	EventLoadWithRoom     Event = "load-with-room"
	EventLoadNoRoom       Event = "load-no-room"
	EventRoomSelected     Event = "room-selected"
	EventJoinConfirmed    Event = "join-confirmed"
	EventRemoteVideoReady Event = "remote-video-ready"
	EventRemoteHangup     Event = "remote-hangup"
	EventLocalHangup      Event = "local-hangup"
	EventRoomFull         Event = "room-full"
	EventRejoin           Event = "rejoin"
)

var transitions = map[State]map[Event]State{
	StateIdle: {
		EventLoadWithRoom: StateConfirmJoin,
		EventLoadNoRoom:   StateRoomSelection,
	},
	StateRoomSelection: {
		EventRoomSelected: StateConnecting,
	},
	StateConfirmJoin: {
		EventJoinConfirmed: StateConnecting,
	},
	StateConnecting: {
		EventRemoteVideoReady: StateActiveCall,
		EventRemoteHangup:     StateWaiting,
		EventLocalHangup:      StateDone,
		EventRoomFull:         StateRoomSelection,
	},
	StateActiveCall: {
		EventRemoteHangup: StateWaiting,
		EventLocalHangup:  StateDone,
	},
	StateWaiting: {
		EventRemoteVideoReady: StateActiveCall,
		EventRemoteHangup:     StateWaiting,
		EventLocalHangup:      StateDone,
	},
	StateDone: {
		EventRejoin: StateConnecting,
	},
}

// Next returns the state event leads to from s, false when s does not
// accept event
func Next(s State, event Event) (State, bool) {
	next, ok := transitions[s][event]
	return next, ok
}
