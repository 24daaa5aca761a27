package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrNotRegistered is returned when sending before Register
var ErrNotRegistered = errors.New("signaling channel has not registered")

type colliderCommand struct {
	Cmd      string `json:"cmd"`
	RoomID   string `json:"roomid,omitempty"`
	ClientID string `json:"clientid,omitempty"`
	Msg      string `json:"msg,omitempty"`
}

type colliderMessage struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
}

// SignalingChannel is the WebSocket connection to the collider. Messages
// are only relayed once the channel is registered for a room and client.
type SignalingChannel struct {
	wssURL     string
	wssPostURL string
	httpClient *http.Client

	mu       sync.Mutex
	writeMu  sync.Mutex // separate mutex for WebSocket writes
	conn     *websocket.Conn
	roomID   string
	clientID string

	onMessage func(msg string)
}

// NewSignalingChannel creates a channel for the given collider endpoints
func NewSignalingChannel(wssURL, wssPostURL string, httpClient *http.Client) *SignalingChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SignalingChannel{
		wssURL:     wssURL,
		wssPostURL: strings.TrimRight(wssPostURL, "/"),
		httpClient: httpClient,
	}
}

// OnMessage sets the callback for relayed messages
func (s *SignalingChannel) OnMessage(callback func(msg string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = callback
}

// SetURLs replaces the collider endpoints when they were not known up front
func (s *SignalingChannel) SetURLs(wssURL, wssPostURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wssURL == "" {
		s.wssURL = wssURL
	}
	if s.wssPostURL == "" {
		s.wssPostURL = strings.TrimRight(wssPostURL, "/")
	}
}

// URL returns the WebSocket endpoint
func (s *SignalingChannel) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wssURL
}

// Open dials the collider and starts reading messages
func (s *SignalingChannel) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return errors.New("websocket already open")
	}
	wssURL := s.wssURL
	s.mu.Unlock()

	if wssURL == "" {
		return errors.New("no websocket url")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wssURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	log.Debug().Str("url", wssURL).Msg("Opened signaling channel")
	go s.readMessages(conn)
	return nil
}

func (s *SignalingChannel) readMessages(conn *websocket.Conn) {
	for {
		var msg colliderMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Signaling channel read ended")
			}
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			return
		}

		if msg.Error != "" {
			log.Error().Str("error", msg.Error).Msg("Signaling server error")
			continue
		}
		log.Debug().Str("msg", msg.Msg).Msg("WSS->C")

		s.mu.Lock()
		cb := s.onMessage
		s.mu.Unlock()
		if cb != nil {
			cb(msg.Msg)
		}
	}
}

// Register binds the channel to a room and client
func (s *SignalingChannel) Register(roomID, clientID string) error {
	s.mu.Lock()
	s.roomID = roomID
	s.clientID = clientID
	s.mu.Unlock()

	if err := s.write(colliderCommand{Cmd: "register", RoomID: roomID, ClientID: clientID}); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	log.Debug().Str("room_id", roomID).Str("client_id", clientID).Msg("Registered signaling channel")
	return nil
}

// Send relays msg to the other client, over the socket when it is open and
// through the collider's HTTP endpoint otherwise.
func (s *SignalingChannel) Send(ctx context.Context, msg string) error {
	s.mu.Lock()
	roomID, clientID := s.roomID, s.clientID
	open := s.conn != nil
	s.mu.Unlock()

	if roomID == "" || clientID == "" {
		return ErrNotRegistered
	}

	log.Debug().Str("msg", msg).Msg("C->WSS")
	if open {
		return s.write(colliderCommand{Cmd: "send", Msg: msg})
	}
	_, err := doRequest(ctx, s.httpClient, http.MethodPost, s.postURL(roomID, clientID), []byte(msg))
	return err
}

func (s *SignalingChannel) postURL(roomID, clientID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wssPostURL + "/" + roomID + "/" + clientID
}

// Close closes the socket and deregisters from the collider
func (s *SignalingChannel) Close(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	roomID, clientID := s.roomID, s.clientID
	s.roomID, s.clientID = "", ""
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		conn.Close()
	}

	if clientID == "" {
		return nil
	}
	if _, err := doRequest(ctx, s.httpClient, http.MethodDelete, s.postURL(roomID, clientID), nil); err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	return nil
}

func (s *SignalingChannel) write(cmd colliderCommand) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("websocket is not open")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(cmd)
}
