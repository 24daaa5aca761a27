package main

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Peer is a client registered with the collider. Conn is nil until the
// client registers over the WebSocket; messages for it wait in pending.
type Peer struct {
	ID      string
	Conn    *websocket.Conn
	pending []string
	mu      sync.Mutex
}

// SendMessage delivers a relayed message to the peer
func (p *Peer) SendMessage(msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Conn.WriteJSON(colliderMessage{Msg: msg})
}

// SendError reports a collider error to the peer
func (p *Peer) SendError(errMsg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Conn.WriteJSON(colliderMessage{Error: errMsg})
}
