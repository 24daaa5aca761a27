package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalingChannelSendBeforeRegister(t *testing.T) {
	ch := NewSignalingChannel("", "http://localhost:1/collider", nil)
	err := ch.Send(context.Background(), `{"type":"bye"}`)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestSignalingChannelRegisterAndSend(t *testing.T) {
	m := startMockAppRTC(t)
	ch := NewSignalingChannel(m.wsURL(), m.server.URL+"/collider/", nil)

	received := make(chan string, 1)
	ch.OnMessage(func(msg string) { received <- msg })

	require.NoError(t, ch.Open(context.Background()))
	require.NoError(t, ch.Register("room-1", "client-1"))
	require.NoError(t, ch.Send(context.Background(), `{"type":"candidate"}`))

	require.Eventually(t, func() bool { return len(m.commands()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cmds := m.commands()
	assert.Equal(t, colliderCommand{Cmd: "register", RoomID: "room-1", ClientID: "client-1"}, cmds[0])
	assert.Equal(t, colliderCommand{Cmd: "send", Msg: `{"type":"candidate"}`}, cmds[1])

	m.push(`{"type":"bye"}`)
	select {
	case msg := <-received:
		assert.Equal(t, `{"type":"bye"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not relayed")
	}

	require.NoError(t, ch.Close(context.Background()))
	assert.Equal(t, []string{"DELETE "}, m.colliderRequests())

	// Closed and deregistered
	assert.ErrorIs(t, ch.Send(context.Background(), "x"), ErrNotRegistered)
}

func TestSignalingChannelHTTPFallback(t *testing.T) {
	m := startMockAppRTC(t)
	ch := NewSignalingChannel("", m.server.URL+"/collider", nil)

	// Register fails without a socket but still records the ids
	assert.Error(t, ch.Register("room-1", "client-1"))
	require.NoError(t, ch.Send(context.Background(), `{"type":"bye"}`))
	assert.Equal(t, []string{`POST {"type":"bye"}`}, m.colliderRequests())
}

func TestSignalingChannelSetURLsKeepsConfigured(t *testing.T) {
	ch := NewSignalingChannel("ws://configured/ws", "", nil)
	ch.SetURLs("ws://joined/ws", "http://joined/collider")
	assert.Equal(t, "ws://configured/ws", ch.URL())
	assert.Equal(t, "http://joined/collider/r/c", ch.postURL("r", "c"))
}
