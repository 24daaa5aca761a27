package main

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errDuplicateRegister = errors.New("duplicated register request")

// Collider relays messages between the two clients of a room. Messages sent
// while the other client is not registered are queued on the sender and
// flushed when the other client registers.
type Collider struct {
	rooms map[string]map[string]*Peer
	mu    sync.Mutex
}

func NewCollider() *Collider {
	return &Collider{rooms: make(map[string]map[string]*Peer)}
}

// peer returns the peer, creating it when the room has space
func (c *Collider) peer(roomID, clientID string) (*Peer, error) {
	room, ok := c.rooms[roomID]
	if !ok {
		room = make(map[string]*Peer)
		c.rooms[roomID] = room
	}
	if p, ok := room[clientID]; ok {
		return p, nil
	}
	if len(room) >= maxOccupancy {
		return nil, errRoomFull
	}
	p := &Peer{ID: clientID}
	room[clientID] = p
	return p, nil
}

// Register attaches conn to the client and flushes the messages queued for
// it by the other client
func (c *Collider) Register(roomID, clientID string, conn *websocket.Conn) (*Peer, error) {
	c.mu.Lock()
	p, err := c.peer(roomID, clientID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if p.Conn != nil {
		c.mu.Unlock()
		return nil, errDuplicateRegister
	}
	p.Conn = conn

	var queued []string
	for id, other := range c.rooms[roomID] {
		if id != clientID {
			queued = append(queued, other.pending...)
			other.pending = nil
		}
	}
	c.mu.Unlock()

	log.Info().Str("room_id", roomID).Str("client_id", clientID).Int("queued", len(queued)).Msg("Client registered")
	for _, msg := range queued {
		if err := p.SendMessage(msg); err != nil {
			log.Warn().Err(err).Str("client_id", clientID).Msg("Failed to flush queued message")
		}
	}
	return p, nil
}

// Send relays msg from clientID to the other client of the room
func (c *Collider) Send(roomID, clientID, msg string) error {
	c.mu.Lock()
	src, err := c.peer(roomID, clientID)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	var dst *Peer
	for id, p := range c.rooms[roomID] {
		if id != clientID && p.Conn != nil {
			dst = p
		}
	}
	if dst == nil {
		src.pending = append(src.pending, msg)
		c.mu.Unlock()
		log.Debug().Str("room_id", roomID).Str("client_id", clientID).Msg("Queued message")
		return nil
	}
	c.mu.Unlock()

	return dst.SendMessage(msg)
}

// Deregister removes the client and closes its connection. When conn is not
// nil the client is only removed if it is still registered with conn.
func (c *Collider) Deregister(roomID, clientID string, conn *websocket.Conn) {
	c.mu.Lock()
	room := c.rooms[roomID]
	p, ok := room[clientID]
	if !ok || (conn != nil && p.Conn != conn) {
		c.mu.Unlock()
		return
	}
	delete(room, clientID)
	if len(room) == 0 {
		delete(c.rooms, roomID)
	}
	c.mu.Unlock()

	if p.Conn != nil {
		p.Conn.Close()
	}
	log.Info().Str("room_id", roomID).Str("client_id", clientID).Msg("Client deregistered")
}

// Registered reports whether the client has a live WebSocket
func (c *Collider) Registered(roomID, clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.rooms[roomID][clientID]
	return ok && p.Conn != nil
}
