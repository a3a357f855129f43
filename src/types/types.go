// Package types defines the wire-level message shapes shared by the hub,
// the session protocol, and every transport.
package types

import "time"

// Room is a short-coded channel that scopes message visibility.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a persisted chat message. Author is nil for anonymous senders.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"roomId"`
	Content   string    `json:"content"`
	Author    *string   `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Inbound message types accepted from clients.
const (
	InboundJoinRoom    = "join_room"
	InboundLeaveRoom   = "leave_room"
	InboundSendMessage = "send_message"
)

// Inbound is a client-to-server frame. Fields beyond Type are populated
// depending on the message type.
type Inbound struct {
	Type    string  `json:"type"`
	RoomID  string  `json:"roomId,omitempty"`
	Content string  `json:"content,omitempty"`
	Author  *string `json:"author,omitempty"`
}

// ConnectionEvent confirms a new connection and carries its assigned ID.
type ConnectionEvent struct {
	Type string         `json:"type"`
	Data ConnectionData `json:"data"`
}

// ConnectionData is the payload of a ConnectionEvent.
type ConnectionData struct {
	ClientID string `json:"clientId"`
}

// RoomJoinedEvent confirms a join, carrying the room's recent history.
type RoomJoinedEvent struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"roomId"`
	Messages []Message `json:"messages"`
}

// RoomLeftEvent confirms the connection left a room.
type RoomLeftEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// NewMessageEvent carries a freshly persisted message to room members.
type NewMessageEvent struct {
	Type    string  `json:"type"`
	RoomID  string  `json:"roomId"`
	Message Message `json:"message"`
}

// ErrorEvent reports a request-scoped failure to the requester only.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewConnection builds a connection confirmation event.
func NewConnection(clientID string) ConnectionEvent {
	return ConnectionEvent{Type: "connection", Data: ConnectionData{ClientID: clientID}}
}

// NewRoomJoined builds a room_joined event. A nil history is normalized to
// an empty array so clients always receive a messages list.
func NewRoomJoined(roomID string, messages []Message) RoomJoinedEvent {
	if messages == nil {
		messages = []Message{}
	}
	return RoomJoinedEvent{Type: "room_joined", RoomID: roomID, Messages: messages}
}

// NewRoomLeft builds a room_left event.
func NewRoomLeft(roomID string) RoomLeftEvent {
	return RoomLeftEvent{Type: "room_left", RoomID: roomID}
}

// NewMessage builds a new_message broadcast event.
func NewMessage(roomID string, msg Message) NewMessageEvent {
	return NewMessageEvent{Type: "new_message", RoomID: roomID, Message: msg}
}

// NewError builds an error event.
func NewError(text string) ErrorEvent {
	return ErrorEvent{Type: "error", Error: text}
}

// Conn abstracts a transport-level connection for testability. Both the
// WebSocket and TCP transports adapt their sockets to this interface.
type Conn interface {
	// ReadMessage returns the next raw frame from the peer.
	ReadMessage() ([]byte, error)

	// WriteJSON serializes v and writes it as a single frame.
	WriteJSON(v any) error

	Close() error
}
