// Package network connects remote viewers to a terrain chunk stream server.
package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/network/packets"
)

// Client errors.
var (
	ErrAlreadyConnected = errors.New("network: already connected")
	ErrNotConnected     = errors.New("network: not connected")
)

// inboxSize bounds packets buffered between the reader goroutine and Process.
const inboxSize = 256

// Client receives chunk packets from a stream server and sends view updates.
//
// A reader goroutine buffers incoming packets; Process dispatches them to
// registered handlers on the caller's goroutine.
type Client struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	handlers map[uint16]PacketHandler
	log      *zap.Logger

	// Connection state
	connected bool
	inbox     chan packets.Packet
	readErr   chan error
	done      chan struct{}

	writeTimeout time.Duration
}

// PacketHandler handles one decoded packet.
type PacketHandler func(p packets.Packet) error

// New creates a new network client.
func New() *Client {
	return &Client{
		handlers:     make(map[uint16]PacketHandler),
		log:          logger.Named("network"),
		writeTimeout: 5 * time.Second,
	}
}

// Connect dials a chunk stream server, e.g. ws://127.0.0.1:8740/chunks.
func (c *Client) Connect(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}

	c.conn = conn
	c.connected = true
	c.inbox = make(chan packets.Packet, inboxSize)
	c.readErr = make(chan error, 1)
	c.done = make(chan struct{})
	go c.readLoop(conn, c.inbox, c.readErr, c.done)

	c.log.Info("connected", zap.String("url", url))
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, inbox chan<- packets.Packet, errs chan<- error, done <-chan struct{}) {
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		p, err := packets.Decode(msg)
		if err != nil {
			c.log.Warn("dropping packet", zap.Error(err))
			continue
		}
		select {
		case inbox <- p:
		case <-done:
			return
		}
	}
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		close(c.done)
		c.conn = nil
		c.inbox = nil
		c.readErr = nil
	}
	c.connected = false
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// RegisterHandler registers a packet handler.
func (c *Client) RegisterHandler(packetID uint16, handler PacketHandler) {
	c.handlers[packetID] = handler
}

// Send sends a packet to the server.
func (c *Client) Send(p packets.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, p.Encode())
}

// SendView reports the viewer position to the server.
func (c *Client) SendView(x, y, radius float64, facingX, facingY, fov float32) error {
	return c.Send(&packets.ViewUpdate{X: x, Y: y, Radius: radius, FacingX: facingX, FacingY: facingY, FOV: fov})
}

// Process dispatches buffered packets without blocking and returns how many
// were handled. Should be called regularly in the frame loop. A read failure
// disconnects the client and is returned once.
func (c *Client) Process() (int, error) {
	c.mu.Lock()
	inbox, readErr := c.inbox, c.readErr
	c.mu.Unlock()
	if inbox == nil {
		return 0, nil
	}

	n := 0
	for {
		select {
		case p := <-inbox:
			n++
			if h, ok := c.handlers[p.ID()]; ok {
				if err := h(p); err != nil {
					return n, fmt.Errorf("handling packet 0x%04X: %w", p.ID(), err)
				}
			}
			continue
		default:
		}

		// Inbox is drained; only now surface a read failure.
		select {
		case err := <-readErr:
			c.Disconnect()
			return n, fmt.Errorf("reading from server: %w", err)
		default:
			return n, nil
		}
	}
}
