package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu            sync.Mutex
	errors        []string
	turn          []string
	full          []string
	callerStarted []string
	hangups       int
}

func (r *recorder) handlers() *Handlers {
	return &Handlers{
		Error: func(msg string) {
			r.mu.Lock()
			r.errors = append(r.errors, msg)
			r.mu.Unlock()
		},
		TURNStatusMessage: func(msg string) {
			r.mu.Lock()
			r.turn = append(r.turn, msg)
			r.mu.Unlock()
		},
		RoomFull: func(roomID string) {
			r.mu.Lock()
			r.full = append(r.full, roomID)
			r.mu.Unlock()
		},
		CallerStarted: func(roomID, roomLink string) {
			r.mu.Lock()
			r.callerStarted = append(r.callerStarted, roomID)
			r.mu.Unlock()
		},
		RemoteHangup: func() {
			r.mu.Lock()
			r.hangups++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) errorList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func newTestCall(t *testing.T, m *mockAppRTC, rec *recorder) *Call {
	t.Helper()
	call := NewCall(&Params{RoomServer: m.server.URL},
		WithMedia(NoMedia),
		WithHandlers(rec.handlers()),
	)
	t.Cleanup(func() { call.Close() })
	return call
}

func TestCallJoinRoomFull(t *testing.T) {
	m := startMockAppRTC(t)
	m.joinResult = ResultFull
	rec := &recorder{}
	call := newTestCall(t, m, rec)

	err := call.Start(context.Background(), "full-room")
	require.ErrorIs(t, err, ErrRoomFull)

	errs := rec.errorList()
	require.NotEmpty(t, errs)
	assert.True(t, strings.HasPrefix(errs[0], "Room server join error: "), errs[0])
	assert.Equal(t, []string{"full-room"}, rec.full)
	assert.Empty(t, m.commands())
}

func TestCallJoinRejected(t *testing.T) {
	m := startMockAppRTC(t)
	m.joinResult = "ERROR"
	rec := &recorder{}
	call := newTestCall(t, m, rec)

	err := call.Start(context.Background(), "some-room")
	require.ErrorIs(t, err, ErrJoinRejected)
	assert.Empty(t, rec.full)
}

func TestCallMissingRoomID(t *testing.T) {
	m := startMockAppRTC(t)
	rec := &recorder{}
	call := newTestCall(t, m, rec)

	err := call.Start(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingRoomID)
}

func TestCallInitiatorPostsOffer(t *testing.T) {
	m := startMockAppRTC(t)
	rec := &recorder{}
	call := newTestCall(t, m, rec)

	require.NoError(t, call.Start(context.Background(), "room-123"))
	assert.Equal(t, "client-1", call.ClientID())
	assert.True(t, call.IsInitiator())
	assert.False(t, call.StartTime().IsZero())
	assert.Equal(t, []string{"room-123"}, rec.callerStarted)

	require.Eventually(t, func() bool {
		cmds := m.commands()
		return len(cmds) > 0 && cmds[0].Cmd == "register"
	}, 2*time.Second, 10*time.Millisecond)
	cmd := m.commands()[0]
	assert.Equal(t, "room-123", cmd.RoomID)
	assert.Equal(t, "client-1", cmd.ClientID)

	require.Eventually(t, func() bool {
		for _, body := range m.postedMessages() {
			msg, err := ParseSignalingMessage(body)
			if err == nil && msg.Type == MessageOffer && strings.HasPrefix(msg.SDP, "v=0") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	states, ok := call.PeerStates()
	require.True(t, ok)
	assert.Equal(t, "have-local-offer", states.SignalingState)
}

func TestCallHangupTwice(t *testing.T) {
	m := startMockAppRTC(t)
	rec := &recorder{}
	call := newTestCall(t, m, rec)

	require.NoError(t, call.Start(context.Background(), "room-123"))

	<-call.Hangup(false)
	assert.Empty(t, call.RoomID())
	assert.Empty(t, call.ClientID())
	assert.Equal(t, "room-123", call.PreviousRoomID())
	assert.True(t, call.StartTime().IsZero())
	assert.Equal(t, 1, m.leaveCount())

	require.Eventually(t, func() bool {
		for _, cmd := range m.commands() {
			if cmd.Cmd == "send" && cmd.Msg == `{"type":"bye"}` {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, m.colliderRequests(), "DELETE ")

	assert.NotPanics(t, func() { <-call.Hangup(false) })
	assert.Equal(t, 1, m.leaveCount())
	assert.Empty(t, call.RoomID())

	_, ok := call.PeerStates()
	assert.False(t, ok)
}

func TestCallAsyncHangupContinuesAfterFailures(t *testing.T) {
	// Room server disappears before hangup
	m := startMockAppRTC(t)
	rec := &recorder{}
	call := newTestCall(t, m, rec)

	require.NoError(t, call.Start(context.Background(), "room-123"))
	m.server.CloseClientConnections()
	m.server.Close()

	select {
	case <-call.Hangup(true):
	case <-time.After(15 * time.Second):
		t.Fatal("hangup did not finish")
	}
	assert.Empty(t, call.RoomID())
	assert.Empty(t, call.ClientID())
	assert.Equal(t, "room-123", call.PreviousRoomID())
}

func TestCallRemoteBye(t *testing.T) {
	m := startMockAppRTC(t)
	m.isInitiator = "false"
	rec := &recorder{}
	call := newTestCall(t, m, rec)

	require.NoError(t, call.Start(context.Background(), "room-123"))
	assert.False(t, call.IsInitiator())

	require.Eventually(t, func() bool { return len(m.commands()) > 0 }, 2*time.Second, 10*time.Millisecond)
	m.push(`{"type":"bye"}`)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.hangups == 1
	}, 2*time.Second, 10*time.Millisecond)

	call.OnRemoteHangup()
	assert.True(t, call.IsInitiator())
	assert.Equal(t, []string{"room-123"}, rec.callerStarted)
}

func TestCallICEServerFailureReportsTURNStatus(t *testing.T) {
	ice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ice.Close()

	rec := &recorder{}
	call := NewCall(&Params{ICEServerRequestURL: ice.URL},
		WithMedia(NoMedia),
		WithHandlers(rec.handlers()),
	)
	defer call.Close()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.turn) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, TURNFailureMessage, rec.turn[0])
}

func TestCallICEServersAppended(t *testing.T) {
	ice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"iceServers":[{"urls":["turn:turn.example.com:3478"],"username":"u","credential":"p"}]}`))
	}))
	defer ice.Close()

	params := &Params{ICEServerRequestURL: ice.URL}
	call := NewCall(params, WithMedia(NoMedia))
	defer call.Close()

	require.Eventually(t, func() bool {
		call.mu.Lock()
		defer call.mu.Unlock()
		return len(params.PeerConnectionConfig.ICEServers) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCallEarlyMessageWaitsForICEServers(t *testing.T) {
	release := make(chan struct{})
	ice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		w.Write([]byte(`{"iceServers":[{"urls":["turn:turn.example.com:3478"],"username":"u","credential":"p"}]}`))
	}))
	defer ice.Close()

	m := startMockAppRTC(t)
	m.isInitiator = "false"
	call := NewCall(&Params{RoomServer: m.server.URL, ICEServerRequestURL: ice.URL}, WithMedia(NoMedia))
	defer call.Close()

	started := make(chan error, 1)
	go func() { started <- call.Start(context.Background(), "room-123") }()

	require.Eventually(t, func() bool { return len(m.commands()) > 0 }, 2*time.Second, 10*time.Millisecond)
	m.push(`{"type":"candidate","label":0,"id":"0","candidate":"candidate:1 1 udp 2122260223 127.0.0.1 50000 typ host"}`)
	time.Sleep(100 * time.Millisecond)

	call.mu.Lock()
	assert.Nil(t, call.pcClient, "peer client created before ICE servers arrived")
	call.mu.Unlock()

	close(release)
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not start")
	}

	call.mu.Lock()
	pcClient := call.pcClient
	call.mu.Unlock()
	require.NotNil(t, pcClient)
	require.Len(t, pcClient.params.PeerConnectionConfig.ICEServers, 1)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, pcClient.params.PeerConnectionConfig.ICEServers[0].URLs)
}
