package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/scooked-app/scooked-go/pkg/log"
	"github.com/scooked-app/scooked-go/pkg/wire"
)

// DefaultPort is the default store daemon port.
const DefaultPort = 8743

// ServerConfig configures a store server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8743" or "127.0.0.1:8743").
	Address string

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// Logger for protocol tracing (optional).
	Logger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a connection is closed.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called when a message is received.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError is called when an error occurs.
	OnError func(conn *ServerConn, err error)
}

// Server accepts framed connections from session clients.
type Server struct {
	config   ServerConfig
	listener net.Listener

	// Active connections
	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new store server.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	// Create listener
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.running.Store(true)

	// Start accept loop
	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	// Close listener to stop accept loop
	if s.listener != nil {
		s.listener.Close()
	}

	// Close all connections
	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	// Wait for goroutines
	s.wg.Wait()

	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				// Real error
				if s.config.OnError != nil {
					s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
				}
			}
			continue
		}

		// Handle connection in goroutine
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection processes a single connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	// Generate unique connection ID
	connID := uuid.New().String()

	// Create server connection wrapper
	framer := NewFramerWithMaxSize(conn, s.config.MaxMessageSize)
	if s.config.Logger != nil {
		framer.SetLogger(s.config.Logger, connID)
	}

	sconn := &ServerConn{
		conn:       conn,
		framer:     framer,
		server:     s,
		closeCh:    make(chan struct{}),
		remoteAddr: conn.RemoteAddr(),
		connID:     connID,
	}

	// Trace connected state
	if s.config.Logger != nil {
		s.config.Logger.Log(log.Event{
			Timestamp:    time.Now(),
			Severity:     log.SeverityInfo,
			Component:    log.ComponentTransport,
			Message:      "connection accepted",
			ConnectionID: connID,
			RemoteAddr:   conn.RemoteAddr().String(),
			StateChange: &log.StateChangeEvent{
				NewState: "CONNECTED",
			},
		})
	}

	// Register connection
	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	// Notify connect
	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	// Read loop
	sconn.readLoop()

	// Unregister connection
	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	// Trace disconnected state
	if s.config.Logger != nil {
		s.config.Logger.Log(log.Event{
			Timestamp:    time.Now(),
			Severity:     log.SeverityInfo,
			Component:    log.ComponentTransport,
			Message:      "connection closed",
			ConnectionID: sconn.connID,
			RemoteAddr:   conn.RemoteAddr().String(),
			StateChange: &log.StateChangeEvent{
				OldState: "CONNECTED",
				NewState: "DISCONNECTED",
			},
		})
	}

	// Notify disconnect
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

// ServerConn represents a client connection to the server.
type ServerConn struct {
	conn       net.Conn
	framer     *Framer
	server     *Server
	closeCh    chan struct{}
	closeOnce  sync.Once
	remoteAddr net.Addr
	connID     string // Unique connection identifier

	// Synchronization
	writeMu sync.Mutex
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// Send sends a message to the client.
func (c *ServerConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteFrame(data)
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// readLoop reads messages from the connection.
func (c *ServerConn) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.server.ctx.Done():
			return
		default:
		}

		data, err := c.framer.ReadFrame()
		if err != nil {
			// Connection closed or error
			if c.server.config.OnError != nil && c.server.running.Load() {
				select {
				case <-c.closeCh:
					// Already closing, don't report
				default:
					c.server.config.OnError(c, err)
				}
			}
			return
		}

		// Control frames are handled at the transport level and never
		// reach the message handler.
		kind, peekErr := wire.PeekKind(data)
		if peekErr == nil && kind == wire.KindControl {
			if ctrlMsg, err := wire.DecodeControlMessage(data); err == nil {
				c.handleControlMessage(ctrlMsg)
				continue
			}
		}

		// Regular message - pass to handler
		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, data)
		}
	}
}

// handleControlMessage processes control messages.
func (c *ServerConn) handleControlMessage(msg *wire.ControlMessage) {
	c.traceControl(msg.Type, log.DirectionIn)

	switch msg.Type {
	case wire.ControlPing:
		// Respond with pong
		pongMsg, _ := EncodePong(msg.Sequence)
		c.Send(pongMsg)
		c.traceControl(wire.ControlPong, log.DirectionOut)

	case wire.ControlPong:
		// Ignore pongs on server side (client initiated keep-alive)

	case wire.ControlClose:
		// Peer initiated close - acknowledge and close
		c.traceControl(wire.ControlClose, log.DirectionOut)
		closeMsg, _ := EncodeClose()
		c.Send(closeMsg)
		c.Close()
	}
}

// traceControl emits a trace event for a control message.
func (c *ServerConn) traceControl(msgType wire.ControlMessageType, direction log.Direction) {
	if c.server.config.Logger == nil {
		return
	}

	verb := "received"
	if direction == log.DirectionOut {
		verb = "sent"
	}

	c.server.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		Severity:     log.SeverityDebug,
		Component:    log.ComponentTransport,
		Message:      fmt.Sprintf("%s %s", msgType, verb),
		ConnectionID: c.connID,
		RemoteAddr:   c.remoteAddr.String(),
	})
}

// Control message encoding helpers

// ControlPing is the ping control message type.
const ControlPing = wire.ControlPing

// ControlPong is the pong control message type.
const ControlPong = wire.ControlPong

// ControlClose is the close control message type.
const ControlClose = wire.ControlClose

// EncodePing encodes a ping control message.
func EncodePing(seq uint32) ([]byte, error) {
	return wire.EncodeControlMessage(&wire.ControlMessage{
		Type:     wire.ControlPing,
		Sequence: seq,
	})
}

// EncodePong encodes a pong control message.
func EncodePong(seq uint32) ([]byte, error) {
	return wire.EncodeControlMessage(&wire.ControlMessage{
		Type:     wire.ControlPong,
		Sequence: seq,
	})
}

// EncodeClose encodes a close control message.
func EncodeClose() ([]byte, error) {
	return wire.EncodeControlMessage(&wire.ControlMessage{
		Type: wire.ControlClose,
	})
}

// DecodeControl decodes a control message and returns its type and sequence.
func DecodeControl(data []byte) (wire.ControlMessageType, uint32, error) {
	msg, err := wire.DecodeControlMessage(data)
	if err != nil {
		return 0, 0, err
	}
	return msg.Type, msg.Sequence, nil
}
