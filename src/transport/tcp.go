// Package transport provides the raw TCP variant of the wire transport.
// Frames are newline-delimited JSON; the session protocol is identical to
// the WebSocket transport's.
package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/quickna/socket/src/hub"
	"github.com/quickna/socket/src/session"
	"github.com/quickna/socket/src/types"
	"github.com/rs/zerolog"
)

// maxFrameSize bounds a single newline-delimited frame.
const maxFrameSize = 64 * 1024

// TCPServer accepts raw socket connections and runs the session protocol
// over them.
type TCPServer struct {
	addr     string
	session  *session.Session
	logger   zerolog.Logger
	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewTCPServer creates a TCP transport bound to addr.
func NewTCPServer(addr string, sess *session.Session, logger zerolog.Logger) *TCPServer {
	return &TCPServer{
		addr:    addr,
		session: sess,
		logger:  logger.With().Str("component", "tcp-transport").Logger(),
		quit:    make(chan struct{}),
	}
}

// Start listens and accepts connections until Stop is called. It blocks, so
// call in a goroutine.
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}
	s.listener = listener
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("tcp transport listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

// Stop closes the listener and waits for in-flight connections to finish.
func (s *TCPServer) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

// Addr returns the bound address, once listening.
func (s *TCPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// serve runs one connection: register, confirm, then pump frames into the
// session until the peer goes away.
func (s *TCPServer) serve(conn net.Conn) {
	client := hub.NewClient(uuid.New().String(), NewTCPConn(conn))
	s.session.Connected(client)

	go client.WritePump()
	client.ReadPump(s.session)
}

// TCPConn adapts a net.Conn to types.Conn using newline-delimited JSON.
type TCPConn struct {
	conn    net.Conn
	scanner *bufio.Scanner

	writeMu sync.Mutex
}

// NewTCPConn wraps a net.Conn.
func NewTCPConn(conn net.Conn) *TCPConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxFrameSize)
	return &TCPConn{conn: conn, scanner: scanner}
}

// ReadMessage returns the next line from the socket.
func (c *TCPConn) ReadMessage() ([]byte, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, net.ErrClosed
	}
	// Copy out: the scanner reuses its buffer on the next Scan.
	line := c.scanner.Bytes()
	frame := make([]byte, len(line))
	copy(frame, line)
	return frame, nil
}

// WriteJSON writes v as a single JSON line.
func (c *TCPConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// Close closes the underlying socket.
func (c *TCPConn) Close() error {
	return c.conn.Close()
}

// compile-time check
var _ types.Conn = (*TCPConn)(nil)
