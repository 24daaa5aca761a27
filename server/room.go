package main

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxOccupancy is the number of clients a room holds
const maxOccupancy = 2

var (
	errRoomFull      = errors.New("room is full")
	errUnknownRoom   = errors.New("unknown room")
	errUnknownClient = errors.New("unknown client")
)

// Occupant is a client that joined a room
type Occupant struct {
	ClientID    string `json:"client_id"`
	IsInitiator bool   `json:"is_initiator"`
	// Messages the client sent before the other side joined
	Messages []string `json:"messages,omitempty"`
}

// Room holds the occupants of a room
type Room struct {
	ID        string     `json:"id"`
	Occupants []Occupant `json:"occupants"`
	CreatedAt time.Time  `json:"created_at"`
}

func (r *Room) clone() *Room {
	c := *r
	c.Occupants = make([]Occupant, len(r.Occupants))
	for i, o := range r.Occupants {
		o.Messages = slices.Clone(o.Messages)
		c.Occupants[i] = o
	}
	return &c
}

func (r *Room) occupant(clientID string) int {
	return slices.IndexFunc(r.Occupants, func(o Occupant) bool { return o.ClientID == clientID })
}

// other returns the occupant that is not clientID
func (r *Room) other(clientID string) *Occupant {
	for i := range r.Occupants {
		if r.Occupants[i].ClientID != clientID {
			return &r.Occupants[i]
		}
	}
	return nil
}

// Joined describes the outcome of a successful join
type Joined struct {
	ClientID    string
	IsInitiator bool
	// Messages stored by the other occupant for this client
	Messages []string
}

// RoomManager applies the room rules on top of a Store
type RoomManager struct {
	store Store
	// mu serializes read-modify-write cycles on the store
	mu sync.Mutex
}

func NewRoomManager(store Store) *RoomManager {
	return &RoomManager{store: store}
}

// Join adds a new client to the room, creating the room if needed. The
// first client is the initiator.
func (rm *RoomManager) Join(ctx context.Context, roomID string) (*Joined, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, err := rm.store.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		room = &Room{ID: roomID, CreatedAt: time.Now()}
	}
	if len(room.Occupants) >= maxOccupancy {
		return nil, errRoomFull
	}

	joined := &Joined{
		ClientID:    uuid.NewString(),
		IsInitiator: len(room.Occupants) == 0,
	}
	if other := room.other(joined.ClientID); other != nil {
		joined.Messages = other.Messages
		other.Messages = nil
	}
	room.Occupants = append(room.Occupants, Occupant{
		ClientID:    joined.ClientID,
		IsInitiator: joined.IsInitiator,
	})

	if err := rm.store.Put(ctx, room); err != nil {
		return nil, err
	}
	return joined, nil
}

// Message handles a message from clientID. When the other client is in the
// room its id is returned and the caller forwards the message; otherwise the
// message is stored for the next joiner and "" is returned.
func (rm *RoomManager) Message(ctx context.Context, roomID, clientID, msg string) (string, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, err := rm.store.Get(ctx, roomID)
	if err != nil {
		return "", err
	}
	if room == nil {
		return "", errUnknownRoom
	}
	i := room.occupant(clientID)
	if i < 0 {
		return "", errUnknownClient
	}

	if other := room.other(clientID); other != nil {
		return other.ClientID, nil
	}
	room.Occupants[i].Messages = append(room.Occupants[i].Messages, msg)
	return "", rm.store.Put(ctx, room)
}

// Leave removes the client. The remaining client becomes the initiator and
// an empty room is deleted.
func (rm *RoomManager) Leave(ctx context.Context, roomID, clientID string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, err := rm.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return errUnknownRoom
	}
	i := room.occupant(clientID)
	if i < 0 {
		return errUnknownClient
	}

	room.Occupants = slices.Delete(room.Occupants, i, i+1)
	if len(room.Occupants) == 0 {
		return rm.store.Delete(ctx, roomID)
	}
	room.Occupants[0].IsInitiator = true
	return rm.store.Put(ctx, room)
}

// Occupancy returns the number of clients in the room
func (rm *RoomManager) Occupancy(ctx context.Context, roomID string) (int, error) {
	room, err := rm.store.Get(ctx, roomID)
	if err != nil || room == nil {
		return 0, err
	}
	return len(room.Occupants), nil
}
