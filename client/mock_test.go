package client

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// mockAppRTC is a room server and collider in one test server
type mockAppRTC struct {
	server *httptest.Server

	joinResult  string
	isInitiator string
	messages    []string

	mu          sync.Mutex
	posted      []string // bodies sent to /message
	leaves      int
	wsCommands  []colliderCommand
	colliderReq []string // "METHOD body" sent to /collider
	wsConns     []*websocket.Conn
}

func startMockAppRTC(t *testing.T) *mockAppRTC {
	t.Helper()

	m := &mockAppRTC{joinResult: ResultSuccess, isInitiator: "true"}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	r := chi.NewRouter()
	r.Post("/join/{room}", func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "room")
		if m.joinResult != ResultSuccess {
			json.NewEncoder(w).Encode(map[string]any{"result": m.joinResult})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": ResultSuccess,
			"params": map[string]any{
				"client_id":    "client-1",
				"room_id":      room,
				"room_link":    m.server.URL + "/r/" + room,
				"is_initiator": m.isInitiator,
				"messages":     m.messages,
				"wss_url":      "ws" + strings.TrimPrefix(m.server.URL, "http") + "/ws",
				"wss_post_url": m.server.URL + "/collider",
			},
		})
	})
	r.Post("/message/{room}/{client}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.posted = append(m.posted, string(body))
		m.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"result": ResultSuccess})
	})
	r.Post("/leave/{room}/{client}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.leaves++
		m.mu.Unlock()
	})
	r.HandleFunc("/collider/{room}/{client}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.colliderReq = append(m.colliderReq, r.Method+" "+string(body))
		m.mu.Unlock()
	})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		m.mu.Lock()
		m.wsConns = append(m.wsConns, conn)
		m.mu.Unlock()

		for {
			var cmd colliderCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			m.mu.Lock()
			m.wsCommands = append(m.wsCommands, cmd)
			m.mu.Unlock()
		}
	})

	m.server = httptest.NewServer(r)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockAppRTC) wsURL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/ws"
}

func (m *mockAppRTC) postedMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.posted...)
}

func (m *mockAppRTC) commands() []colliderCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]colliderCommand(nil), m.wsCommands...)
}

func (m *mockAppRTC) colliderRequests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.colliderReq...)
}

func (m *mockAppRTC) leaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaves
}

// push sends a collider message to every connected client
func (m *mockAppRTC) push(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.wsConns {
		conn.WriteJSON(colliderMessage{Msg: msg})
	}
}
