package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"peergenius/pkg/types"
)

// Connection wraps one client websocket
// ARCHITECTURAL DISCOVERY: websocket writes must be serialized to prevent
// race conditions; a single writer goroutine owns the socket. No business
// logic lives in the wrapper
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu         sync.RWMutex
	identity   types.Identity
	announced  bool
	lastActive time.Time
}

// NewConnection creates a connection wrapper and starts its writer goroutine
func NewConnection(conn *websocket.Conn, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:       conn,
		writeCh:    make(chan []byte, bufferSize),
		ctx:        ctx,
		cancel:     cancel,
		lastActive: time.Now(),
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for this connection
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			// 5-second write deadline keeps one slow reader from wedging
			// fan-out for the rest of the room
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEvent queues an event for delivery with timeout and error handling
func (c *Connection) WriteEvent(evt *types.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts the connection down. Idempotent
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done exposes the connection's lifetime for goroutine coordination
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetIdentity records the announced identity. Set once after a valid
// identity-announce frame; events before announce are rejected upstream
func (c *Connection) SetIdentity(identity types.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.announced = true
}

// IsAnnounced reports whether the connection has announced an identity
func (c *Connection) IsAnnounced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.announced
}

// Identity returns the announced identity
func (c *Connection) Identity() types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// UserID returns the announced user ID, empty before announce
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.UserID
}

// Touch updates the last-activity timestamp. Called on every inbound frame
// and on pong
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = time.Now()
}

// LastActive returns the last-activity timestamp for presence snapshots
func (c *Connection) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}
