package http

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

const sendBuffer = 32

// outboundMessage is a server push: {"type": event, "payload": {...}}.
type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// client is one websocket connection. Its id doubles as the player id.
type client struct {
	id   string
	send chan []byte
	done chan struct{}

	mu    sync.Mutex
	rooms map[string]bool // join code -> joined as a player
}

func newClient(id string) *client {
	return &client{
		id:    id,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		rooms: make(map[string]bool),
	}
}

// deliver queues data without blocking. A client too slow to drain its
// buffer loses the message; the next ranking or roster push supersedes it.
func (c *client) deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		log.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping message")
		return false
	}
}

func (c *client) track(joinCode string, asPlayer bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[joinCode] = c.rooms[joinCode] || asPlayer
}

func (c *client) untrack(joinCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, joinCode)
}

func (c *client) joinedRooms() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.rooms))
	for code, asPlayer := range c.rooms {
		out[code] = asPlayer
	}
	return out
}

// Hub fans session events out to the connections subscribed to a join code.
// It implements app.Broadcaster.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*client
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*client)}
}

func (h *Hub) subscribe(joinCode string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[joinCode]
	if !ok {
		room = make(map[string]*client)
		h.rooms[joinCode] = room
	}
	room[c.id] = c
}

func (h *Hub) unsubscribe(joinCode, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[joinCode]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, joinCode)
	}
}

// RoomSize returns the number of connections subscribed to a join code.
func (h *Hub) RoomSize(joinCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[joinCode])
}

func (h *Hub) Broadcast(joinCode, event string, payload any) {
	data, err := json.Marshal(outboundMessage{Type: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal broadcast")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[joinCode]))
	for _, c := range h.rooms[joinCode] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.deliver(data)
	}
}

func (h *Hub) SendTo(joinCode, playerID, event string, payload any) {
	h.mu.RLock()
	c, ok := h.rooms[joinCode][playerID]
	h.mu.RUnlock()
	if !ok {
		log.Debug().Str("join_code", joinCode).Str("player_id", playerID).Str("event", event).Msg("player not connected")
		return
	}

	data, err := json.Marshal(outboundMessage{Type: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal direct message")
		return
	}
	c.deliver(data)
}
