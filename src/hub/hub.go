package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FrameHandler consumes inbound frames and connection teardown for a client.
// Defined here to avoid circular imports with the session package.
type FrameHandler interface {
	HandleFrame(c *Client, frame []byte)
	HandleDisconnect(c *Client)
}

// Hub is the connection registry: the sole source of truth for which
// connections exist and which room each belongs to. All membership
// mutations and membership reads for broadcast go through one lock, so
// room transitions and broadcast snapshots never interleave inconsistently.
type Hub struct {
	clients map[string]*Client
	roomOf  map[string]string             // clientID -> roomID
	rooms   map[string]map[string]*Client // roomID -> clientID -> client

	mu     sync.RWMutex
	logger zerolog.Logger
}

// New creates an empty hub. One instance is owned by the server process and
// shared by every transport.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		roomOf:  make(map[string]string),
		rooms:   make(map[string]map[string]*Client),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Register adds a connection with no room membership.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.ID).Msg("client registered")
}

// Unregister removes a connection and, if it held a room membership, removes
// it from that room's set, pruning an emptied room entry.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	h.removeMembership(c.ID)
	delete(h.clients, c.ID)
	h.mu.Unlock()

	c.Close()
	h.logger.Info().
		Str("client_id", c.ID).
		Dur("connected_for", time.Since(c.ConnectedAt())).
		Msg("client unregistered")
}

// Join moves a registered connection into roomID, creating the room entry on
// first join. Returns false if the connection is not registered.
func (h *Hub) Join(clientID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	h.removeMembership(clientID)

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][clientID] = c
	h.roomOf[clientID] = roomID
	return true
}

// Leave removes the connection from its current room, pruning the room entry
// if it became empty. Returns the room left and false if it was in none.
func (h *Hub) Leave(clientID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	roomID, ok := h.roomOf[clientID]
	if !ok {
		return "", false
	}
	h.removeMembership(clientID)
	return roomID, true
}

// removeMembership drops the client from its room, if any. Caller holds mu.
func (h *Hub) removeMembership(clientID string) {
	roomID, ok := h.roomOf[clientID]
	if !ok {
		return
	}
	delete(h.roomOf, clientID)
	if members := h.rooms[roomID]; members != nil {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// RoomOf returns the room a connection is currently in.
func (h *Hub) RoomOf(clientID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	roomID, ok := h.roomOf[clientID]
	return roomID, ok
}

// Members returns a snapshot of the room's current member connections.
// A room with no members yields an empty slice.
func (h *Hub) Members(roomID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]*Client, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		members = append(members, c)
	}
	return members
}

// Broadcast delivers event to every current member of roomID, skipping
// excludeID if non-empty. Delivery is fire-and-forget per connection: each
// client's buffered queue absorbs the write, and closed or saturated
// clients are skipped without affecting the rest.
func (h *Hub) Broadcast(roomID string, event any, excludeID string) {
	for _, c := range h.Members(roomID) {
		if excludeID != "" && c.ID == excludeID {
			continue
		}
		if !c.Deliver(event) {
			h.logger.Warn().Str("client_id", c.ID).Str("room_id", roomID).Msg("dropping event, client closed or buffer full")
		}
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Rooms returns active room IDs with their member counts.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]int, len(h.rooms))
	for roomID, members := range h.rooms {
		result[roomID] = len(members)
	}
	return result
}

// CloseAll closes every registered connection. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.roomOf = make(map[string]string)
	h.rooms = make(map[string]map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
