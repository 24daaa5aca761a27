package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomServerJoin(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.Write([]byte(`{"result":"SUCCESS","params":{"client_id":"42","room_id":"room-1","room_link":"http://x/r/room-1","is_initiator":"false","messages":["{\"type\":\"offer\",\"sdp\":\"v=0\"}"],"wss_url":"ws://x/ws","wss_post_url":"http://x/collider"}}`))
	}))
	defer srv.Close()

	c := NewRoomServerClient(srv.URL+"/", nil)
	params, err := c.Join(context.Background(), "room-1", "?vsc=VP8")
	require.NoError(t, err)

	assert.Equal(t, "/join/room-1", gotPath)
	assert.Equal(t, "vsc=VP8", gotQuery)
	assert.Equal(t, "42", params.ClientID)
	assert.Equal(t, "false", params.IsInitiator)
	assert.Equal(t, []string{`{"type":"offer","sdp":"v=0"}`}, params.Messages)
	assert.Equal(t, "ws://x/ws", params.WSSURL)
	assert.Equal(t, srv.URL+"/r/room-1?a=b", c.RoomURL("room-1", "?a=b"))
}

func TestRoomServerJoinErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"full", `{"result":"FULL"}`, ErrRoomFull},
		{"rejected", `{"result":"ERROR"}`, ErrJoinRejected},
		{"malformed", `not json`, ErrMalformedResponse},
		{"no params", `{"result":"SUCCESS"}`, ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewRoomServerClient(srv.URL, nil).Join(context.Background(), "room-1", "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRoomServerJoinHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewRoomServerClient(srv.URL, nil).Join(context.Background(), "room-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to join the room")
}

func TestRoomServerPostMessage(t *testing.T) {
	var gotPath, gotBody string
	result := `{"result":"SUCCESS"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPath, gotBody = r.URL.Path, string(body)
		w.Write([]byte(result))
	}))
	defer srv.Close()

	c := NewRoomServerClient(srv.URL, nil)
	require.NoError(t, c.PostMessage(context.Background(), "room-1", "42", "", `{"type":"bye"}`))
	assert.Equal(t, "/message/room-1/42", gotPath)
	assert.Equal(t, `{"type":"bye"}`, gotBody)

	result = `{"result":"INVALID_CLIENT"}`
	assert.Error(t, c.PostMessage(context.Background(), "room-1", "42", "", `{"type":"bye"}`))
}

func TestRequestICEServers(t *testing.T) {
	var gotMethod, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotQuery = r.Method, r.URL.RawQuery
		w.Write([]byte(`{"iceServers":[{"urls":["stun:stun.example.com"]},{"urls":["turn:turn.example.com"],"username":"u","credential":"p"}]}`))
	}))
	defer srv.Close()

	servers, err := RequestICEServers(context.Background(), nil, srv.URL+"/iceconfig?key=abc", "udp")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	q, _ := url.ParseQuery(gotQuery)
	assert.Equal(t, "udp", q.Get("transports"))
	assert.Equal(t, "abc", q.Get("key"))

	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.example.com"}, servers[0].URLs)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)
}
