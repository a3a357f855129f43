// Package session implements the per-connection protocol: join, leave,
// send, and disconnect, including history delivery and message persistence.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/quickna/socket/src/hub"
	"github.com/quickna/socket/src/types"
	"github.com/rs/zerolog"
)

// Error texts sent to clients. These are part of the wire contract.
const (
	errRoomIDRequired  = "Room ID is required"
	errContentRequired = "Message content is required"
	errNotInRoom       = "Not connected to any room"
	errUnknownType     = "Unknown message type"
	errInvalidFormat   = "Invalid message format"
	errJoinFailed      = "Failed to join room"
	errSendFailed      = "Failed to send message"
)

// MessageStore is the persistence gateway the session depends on. Rooms and
// messages are authoritative in the store, never cached in the session.
type MessageStore interface {
	// RecentMessages returns up to limit messages for a room in ascending
	// chronological order.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]types.Message, error)

	// SaveMessage persists a message and returns its stored form with the
	// server-assigned ID and timestamp.
	SaveMessage(ctx context.Context, roomID, content string, author *string) (types.Message, error)
}

// Session drives the connection state machine over the hub and the store.
// One instance serves every connection; per-connection ordering comes from
// each client's read pump delivering frames sequentially.
type Session struct {
	hub            *hub.Hub
	store          MessageStore
	historyLimit   int
	persistTimeout time.Duration
	logger         zerolog.Logger
}

// Compile-time interface check.
var _ hub.FrameHandler = (*Session)(nil)

// New creates a session protocol handler.
func New(h *hub.Hub, store MessageStore, historyLimit int, persistTimeout time.Duration, logger zerolog.Logger) *Session {
	return &Session{
		hub:            h,
		store:          store,
		historyLimit:   historyLimit,
		persistTimeout: persistTimeout,
		logger:         logger.With().Str("component", "session").Logger(),
	}
}

// Connected registers a fresh connection and confirms it with its client ID.
func (s *Session) Connected(c *hub.Client) {
	s.hub.Register(c)
	c.Deliver(types.NewConnection(c.ID))
	s.logger.Info().Str("client_id", c.ID).Msg("client connected")
}

// HandleFrame decodes one inbound frame and dispatches it. Malformed frames
// and unknown types are reported to the requester and never fatal.
func (s *Session) HandleFrame(c *hub.Client, frame []byte) {
	var msg types.Inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.Deliver(types.NewError(errInvalidFormat))
		return
	}

	switch msg.Type {
	case types.InboundJoinRoom:
		s.handleJoin(c, msg.RoomID)
	case types.InboundLeaveRoom:
		s.handleLeave(c)
	case types.InboundSendMessage:
		s.handleSend(c, msg.Content, msg.Author)
	default:
		c.Deliver(types.NewError(errUnknownType))
	}
}

// HandleDisconnect removes the connection from the registry. If it was in a
// room the membership is dropped without emitting room_left, since the
// connection is already gone.
func (s *Session) HandleDisconnect(c *hub.Client) {
	s.hub.Unregister(c)
	s.logger.Info().Str("client_id", c.ID).Msg("client disconnected")
}

// handleJoin switches the connection into roomID. Leaving the previous room
// and joining the new one are observable as two distinct events.
func (s *Session) handleJoin(c *hub.Client, roomID string) {
	if roomID == "" {
		c.Deliver(types.NewError(errRoomIDRequired))
		return
	}

	if prev, ok := s.hub.Leave(c.ID); ok {
		c.Deliver(types.NewRoomLeft(prev))
		s.logger.Info().Str("client_id", c.ID).Str("room_id", prev).Msg("client left room")
	}

	if !s.hub.Join(c.ID, roomID) {
		c.Deliver(types.NewError(errJoinFailed))
		return
	}

	// A failed history fetch degrades to an empty list; the join itself
	// still succeeds.
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	messages, err := s.store.RecentMessages(ctx, roomID, s.historyLimit)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("history fetch failed, joining with empty history")
		messages = nil
	}

	c.Deliver(types.NewRoomJoined(roomID, messages))
	s.logger.Info().Str("client_id", c.ID).Str("room_id", roomID).Msg("client joined room")
}

// handleLeave removes the connection from its room. Leaving while idle is a
// no-op with no response.
func (s *Session) handleLeave(c *hub.Client) {
	roomID, ok := s.hub.Leave(c.ID)
	if !ok {
		return
	}
	c.Deliver(types.NewRoomLeft(roomID))
	s.logger.Info().Str("client_id", c.ID).Str("room_id", roomID).Msg("client left room")
}

// handleSend persists the message and broadcasts it to the whole room,
// sender included. The persisted message's ID appears in the broadcast.
func (s *Session) handleSend(c *hub.Client, content string, author *string) {
	roomID, ok := s.hub.RoomOf(c.ID)
	if !ok {
		c.Deliver(types.NewError(errNotInRoom))
		return
	}
	if strings.TrimSpace(content) == "" {
		c.Deliver(types.NewError(errContentRequired))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	msg, err := s.store.SaveMessage(ctx, roomID, content, author)
	if err != nil {
		s.logger.Error().Err(err).Str("room_id", roomID).Msg("message persist failed")
		c.Deliver(types.NewError(errSendFailed))
		return
	}

	s.hub.Broadcast(roomID, types.NewMessage(roomID, msg), "")
}
