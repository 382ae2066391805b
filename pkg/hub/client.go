package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// MaxMessageSize is the maximum inbound message size.
	MaxMessageSize = 4 << 20 // camera frames

	sendBuffer = 64
)

// Conn is the subset of a websocket connection the hub uses.
// *websocket.Conn from gofiber/contrib/websocket satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Handler receives messages a client sends.
type Handler func(c *Client, msg Message)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHandler dispatches inbound messages to fn.
func WithHandler(fn Handler) ClientOption {
	return func(c *Client) { c.handler = fn }
}

// WithGreeting queues the message returned by fn before any broadcast.
func WithGreeting(fn func() (Message, bool)) ClientOption {
	return func(c *Client) { c.greeting = fn }
}

// Client represents a single websocket connection
type Client struct {
	ID string

	hub  *Hub
	conn Conn

	handler  Handler
	greeting func() (Message, bool)

	mu     sync.Mutex
	send   chan Message
	closed bool
}

// NewClient creates a new client and registers it with the hub. It
// returns nil if the hub is not running.
func NewClient(hub *Hub, conn Conn, opts ...ClientOption) *Client {
	client := &Client{
		ID:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
	for _, opt := range opts {
		opt(client)
	}

	select {
	case hub.register <- client:
		return client
	case <-hub.done:
		return nil
	}
}

// Send queues a message for this client only. It returns false if the
// client is gone or its buffer is full.
func (c *Client) Send(msg Message) bool {
	return c.queue(msg)
}

func (c *Client) queue(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Run starts the client's read and write pumps
// This should be called in the websocket handler
func (c *Client) Run() {
	go c.writePump()
	c.readPump() // Blocks until connection closes
}

// readPump reads messages from the websocket connection and hands them to
// the handler. It also detects disconnection.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		opcode, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		mt, ok := fromWSType(opcode)
		if !ok || c.handler == nil {
			continue
		}
		c.handler(c, Message{Type: mt, Data: data})
	}
}

// writePump writes messages to the websocket connection
// Only this goroutine writes to the connection - no race conditions!
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel - send close frame
				c.conn.WriteMessage(closeMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(message.Type.wsType(), message.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(pingMessage, nil); err != nil {
				return
			}
		}
	}
}
