package hub

import (
	"sync"
	"time"

	"github.com/quickna/socket/src/types"
)

// sendBufferSize bounds the per-client outbound queue. A client that falls
// this far behind starts losing events rather than blocking the room.
const sendBufferSize = 256

// Client wraps one transport-level connection and manages its message flow.
type Client struct {
	ID          string
	conn        types.Conn
	send        chan any
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewClient wraps a transport connection with the given process-unique ID.
func NewClient(id string, conn types.Conn) *Client {
	return &Client{
		ID:          id,
		conn:        conn,
		send:        make(chan any, sendBufferSize),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// ConnectedAt reports when the connection was established.
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// Deliver queues an outbound event without blocking. Returns false if the
// client is closed or its queue is full; after disconnect, delivery is a
// silent no-op rather than an error.
func (c *Client) Deliver(event any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// ReadPump reads frames from the connection and feeds them to the handler in
// order. It returns once the connection errors or closes, after notifying
// the handler of the disconnect.
func (c *Client) ReadPump(h FrameHandler) {
	defer func() {
		h.HandleDisconnect(c)
		c.conn.Close()
	}()

	for {
		frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.HandleFrame(c, frame)
	}
}

// WritePump drains the send queue onto the connection. Call in a goroutine.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close marks the client closed and stops its pumps. Safe to call twice.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.send)
	}
}
