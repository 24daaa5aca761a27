package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"example.com/apprtc/pkg/room"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the room server and collider
type Server struct {
	cfg      *Config
	rooms    *RoomManager
	collider *Collider
}

func NewServer(cfg *Config, store Store) *Server {
	return &Server{
		cfg:      cfg,
		rooms:    NewRoomManager(store),
		collider: NewCollider(),
	}
}

func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/join/{room}", s.handleJoin)
	r.Post("/message/{room}/{client}", s.handleMessage)
	r.Post("/leave/{room}/{client}", s.handleLeave)
	r.Get("/r/{room}", s.handleRoom)
	r.Post("/iceconfig", s.handleICEConfig)

	r.Get("/ws", s.handleWebSocket)
	r.Post("/collider/{room}/{client}", s.handleColliderSend)
	r.Delete("/collider/{room}/{client}", s.handleColliderDelete)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

// baseURL is the public URL, or the URL the request was made to
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, errUnknownRoom):
		return resultUnknownRoom
	case errors.Is(err, errUnknownClient):
		return resultUnknownClient
	case errors.Is(err, errRoomFull):
		return resultFull
	}
	return ""
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	if !room.Validate(roomID) {
		writeJSON(w, joinResponse{Result: "INVALID_ROOM"})
		return
	}

	joined, err := s.rooms.Join(r.Context(), roomID)
	if errors.Is(err, errRoomFull) {
		log.Info().Str("room_id", roomID).Msg("Room full")
		writeJSON(w, joinResponse{Result: resultFull})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("Join failed")
		http.Error(w, "join failed", http.StatusInternalServerError)
		return
	}

	base := s.baseURL(r)
	isInitiator := "false"
	if joined.IsInitiator {
		isInitiator = "true"
	}
	messages := joined.Messages
	if messages == nil {
		messages = []string{}
	}

	log.Info().Str("room_id", roomID).Str("client_id", joined.ClientID).Bool("initiator", joined.IsInitiator).Msg("Client joined")
	writeJSON(w, joinResponse{
		Result: resultSuccess,
		Params: &joinParams{
			ClientID:    joined.ClientID,
			RoomID:      roomID,
			RoomLink:    base + "/r/" + roomID,
			IsInitiator: isInitiator,
			Messages:    messages,
			WSSURL:      "ws" + strings.TrimPrefix(base, "http") + "/ws",
			WSSPostURL:  base + "/collider",
		},
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	roomID, clientID := chi.URLParam(r, "room"), chi.URLParam(r, "client")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	msg := string(body)

	otherID, err := s.rooms.Message(r.Context(), roomID, clientID, msg)
	if result := resultFor(err); result != "" {
		writeJSON(w, resultResponse{Result: result})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("Message failed")
		http.Error(w, "message failed", http.StatusInternalServerError)
		return
	}

	if otherID != "" {
		if err := s.collider.Send(roomID, clientID, msg); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Str("client_id", clientID).Msg("Failed to forward message")
			http.Error(w, "forward failed", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, resultResponse{Result: resultSuccess})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	roomID, clientID := chi.URLParam(r, "room"), chi.URLParam(r, "client")

	err := s.rooms.Leave(r.Context(), roomID, clientID)
	if result := resultFor(err); result != "" {
		writeJSON(w, resultResponse{Result: result})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("Leave failed")
		http.Error(w, "leave failed", http.StatusInternalServerError)
		return
	}

	log.Info().Str("room_id", roomID).Str("client_id", clientID).Msg("Client left")
	writeJSON(w, resultResponse{Result: resultSuccess})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	occupancy, err := s.rooms.Occupancy(r.Context(), roomID)
	if err != nil {
		http.Error(w, "room lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, roomInfo{RoomID: roomID, Occupancy: occupancy, Full: occupancy >= maxOccupancy})
}

func (s *Server) handleICEConfig(w http.ResponseWriter, r *http.Request) {
	servers := iceServers(s.cfg.ICE, r.URL.Query().Get("transports"))
	writeJSON(w, toICEConfigResponse(servers))
}

// handleWebSocket serves the collider protocol: a register command followed
// by send commands
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	var peer *Peer
	var roomID string

	reportError := func(errMsg string) {
		if peer != nil {
			peer.SendError(errMsg)
			return
		}
		conn.WriteJSON(colliderMessage{Error: errMsg})
	}

	for {
		var cmd colliderCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if peer != nil {
				s.collider.Deregister(roomID, peer.ID, conn)
			}
			return
		}

		switch cmd.Cmd {
		case "register":
			if peer != nil {
				reportError("Duplicated register request")
				continue
			}
			if cmd.RoomID == "" || cmd.ClientID == "" {
				reportError("Invalid register request")
				continue
			}
			p, err := s.collider.Register(cmd.RoomID, cmd.ClientID, conn)
			if err != nil {
				reportError(err.Error())
				continue
			}
			peer, roomID = p, cmd.RoomID

		case "send":
			if peer == nil {
				reportError("Client not registered")
				continue
			}
			if err := s.collider.Send(roomID, peer.ID, cmd.Msg); err != nil {
				reportError(err.Error())
			}

		default:
			reportError("Invalid message")
		}
	}
}

func (s *Server) handleColliderSend(w http.ResponseWriter, r *http.Request) {
	roomID, clientID := chi.URLParam(r, "room"), chi.URLParam(r, "client")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.collider.Send(roomID, clientID, string(body)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleColliderDelete(w http.ResponseWriter, r *http.Request) {
	s.collider.Deregister(chi.URLParam(r, "room"), chi.URLParam(r, "client"), nil)
	w.WriteHeader(http.StatusOK)
}
