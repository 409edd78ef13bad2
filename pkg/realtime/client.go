// Package realtime is the client SDK for the PeerGenius presence and
// message-delivery broker. It owns the single live websocket to the broker,
// re-announces identity on every (re)connect, tracks per-thread membership
// and remote typing state from broker pushes, debounces local typing
// signals, and filters duplicate message deliveries.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"peergenius/pkg/types"
)

const (
	// DefaultMaxAttempts bounds connect/reconnect retries before the client
	// surfaces a terminal connection failure
	DefaultMaxAttempts = 5
	// DefaultBaseDelay is the first backoff delay; it doubles per attempt
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay caps the backoff delay
	DefaultMaxDelay = 5 * time.Second

	writeTimeout  = 5 * time.Second
	dialTimeout   = 10 * time.Second
	writeChanSize = 100
)

// Config configures a Client
type Config struct {
	// Endpoint is the broker URL. http/https schemes are converted to ws/wss;
	// an empty path defaults to /ws
	Endpoint string
	// Token is attached to the dial request as a bearer token
	Token string
	// Identity is announced on every successful (re)connect
	Identity types.Identity

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JoinTimeout time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
}

// session is one established websocket. A fresh session is created per
// successful dial so stale goroutines from a previous connection can never
// write to the new one
type session struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	gen       uint64
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

// Client is the process-scoped connection manager: at most one live
// connection to the broker per Client, explicit init/teardown tied to the
// user session
type Client struct {
	cfg      Config
	identity types.Identity
	wsURL    string

	mu     sync.RWMutex
	status Status
	sess   *session
	gen    uint64
	closed bool

	subs  *subscriptions
	rooms *roomTracker
	dedup *Deduplicator
}

// NewClient creates a disconnected client. Call Connect to establish the
// session and Close to tear it down
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	wsURL, err := brokerURL(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if err := cfg.Identity.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		identity: cfg.Identity,
		wsURL:    wsURL,
		status:   StatusDisconnected,
		subs:     newSubscriptions(),
		rooms:    newRoomTracker(),
		dedup:    NewDeduplicator(DefaultDedupCap, DefaultDedupHorizon),
	}, nil
}

// brokerURL normalizes the configured endpoint to a websocket URL
func brokerURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	return u.String(), nil
}

// Connect establishes the connection, retrying with bounded exponential
// backoff, and announces identity once connected. An authentication
// rejection by the broker is fatal: no retry, the caller must
// re-authenticate upstream
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	c.subs.dispatchStatus(StatusConnecting, nil)
	return c.establish(ctx)
}

// establish runs the dial-with-backoff loop and adopts the resulting
// connection. Shared by Connect and the automatic reconnect path
func (c *Client) establish(ctx context.Context) error {
	delay := c.cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		conn, err := c.dial(ctx)
		if err == nil {
			if abortErr := c.adopt(conn); abortErr != nil {
				return abortErr
			}
			c.announce()
			c.subs.dispatchStatus(StatusConnected, nil)
			return nil
		}

		if err == ErrAuthRejected {
			c.setDisconnected()
			c.subs.dispatchStatus(StatusDisconnected, ErrAuthRejected)
			return ErrAuthRejected
		}

		lastErr = err
		log.Printf("Broker dial failed (attempt %d/%d): %v", attempt, c.cfg.MaxAttempts, err)

		if attempt == c.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			c.setDisconnected()
			return ctx.Err()
		case <-time.After(delay):
		}

		// Close or Disconnect during backoff retires this loop; dialing on
		// would adopt a connection nothing will ever close
		if abortErr := c.aborted(); abortErr != nil {
			return abortErr
		}

		delay *= 2
		if delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}
	}

	c.setDisconnected()
	err := fmt.Errorf("%w (%d attempts): %v", ErrConnectFailed, c.cfg.MaxAttempts, lastErr)
	c.subs.dispatchStatus(StatusDisconnected, err)
	return err
}

// dial performs one websocket dial, classifying HTTP 401/403 responses as
// a fatal authentication rejection
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthRejected
		}
		return nil, err
	}

	return conn, nil
}

// adopt installs a freshly dialed connection as the current session and
// starts its read/write loops. Bumps the generation so work pending against
// the previous connection discards itself. If the client was closed or
// explicitly disconnected while the dial was in flight, the connection is
// discarded instead of adopted
func (c *Client) adopt(conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed || c.status == StatusDisconnected {
		closed := c.closed
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		if closed {
			return ErrClientClosed
		}
		return ErrNotConnected
	}
	c.gen++
	sess := &session{
		conn:    conn,
		writeCh: make(chan []byte, writeChanSize),
		ctx:     ctx,
		cancel:  cancel,
		gen:     c.gen,
	}
	c.sess = sess
	c.status = StatusConnected
	c.mu.Unlock()

	go c.writeLoop(sess)
	go c.readLoop(sess)
	return nil
}

// setDisconnected records a terminal end of the connect attempt
func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.status = StatusDisconnected
	c.mu.Unlock()
}

// aborted reports a reason to abandon an in-flight connect: Close or
// Disconnect was called while the retry loop was sleeping
func (c *Client) aborted() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.status == StatusDisconnected {
		return ErrNotConnected
	}
	return nil
}

// announce sends the identity announcement. Runs after every successful
// (re)connect: the broker is stateless about connections, a reconnect that
// skipped the announce would be invisible to presence tracking
func (c *Client) announce() {
	evt, err := types.NewEvent(types.EventIdentityAnnounce, "", c.identity)
	if err != nil {
		log.Printf("Failed to build identity announcement: %v", err)
		return
	}
	if err := c.send(evt); err != nil {
		log.Printf("Failed to send identity announcement: %v", err)
	}
}

// writeLoop is the single writer for one session
// ARCHITECTURAL DISCOVERY: serializing all writes through one goroutine
// eliminates gorilla's concurrent-write races
func (c *Client) writeLoop(sess *session) {
	for {
		select {
		case data := <-sess.writeCh:
			if err := sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-sess.ctx.Done():
			return
		}
	}
}

// readLoop reads frames until the connection drops, then hands off to the
// disconnect path. Malformed frames are logged and dropped; they never tear
// down the connection
func (c *Client) readLoop(sess *session) {
	defer c.handleDisconnect(sess)

	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var evt types.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("Dropping malformed event: %v", err)
			continue
		}
		if evt.Name == "" {
			log.Printf("Dropping event with empty name")
			continue
		}

		c.handleEvent(&evt)
	}
}

// handleEvent updates derived local state, filters duplicates, and then
// dispatches to subscribers
func (c *Client) handleEvent(evt *types.Event) {
	switch evt.Name {
	case types.EventPresenceSnapshot:
		var snapshot types.PresenceSnapshot
		if err := evt.DecodeData(&snapshot); err != nil {
			log.Printf("Dropping malformed presence snapshot: %v", err)
			return
		}
		if !c.rooms.applySnapshot(&snapshot) {
			return // not a joined thread, drop
		}

	case types.EventTypingStart, types.EventTypingStop:
		var signal types.TypingSignal
		if err := evt.DecodeData(&signal); err != nil {
			log.Printf("Dropping malformed typing signal: %v", err)
			return
		}
		if !c.rooms.applyTyping(evt.ThreadID, &signal, evt.Name == types.EventTypingStart) {
			return
		}

	case types.EventMessageDelivered:
		var msg types.Message
		if err := evt.DecodeData(&msg); err != nil {
			log.Printf("Dropping malformed message event: %v", err)
			return
		}
		// The same message can arrive through more than one channel or be
		// replayed after reconnect; apply it exactly once
		if !c.dedup.ShouldApply(msg.ID, msg.ThreadID) {
			return
		}
	}

	c.subs.dispatch(evt)
}

// handleDisconnect runs when a session's read loop exits. If the session is
// still current this was an unexpected drop: discard derived state and
// reconnect with backoff. A session already replaced or torn down is ignored
func (c *Client) handleDisconnect(sess *session) {
	sess.close()

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return // superseded by Disconnect/Close or a newer session
	}
	c.sess = nil
	closed := c.closed
	if !closed {
		c.status = StatusConnecting
	} else {
		c.status = StatusDisconnected
	}
	c.mu.Unlock()

	// Membership and typing display state is connection-scoped
	c.rooms.reset()

	if closed {
		return
	}

	c.subs.dispatchStatus(StatusConnecting, ErrNotConnected)
	go func() {
		if err := c.establish(context.Background()); err != nil {
			log.Printf("Reconnect failed: %v", err)
		}
	}()
}

// Disconnect closes the current connection without retrying. Local room and
// typing state is discarded; the client can Connect again later
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.rooms.reset()

	if sess != nil {
		sess.close()
		c.subs.dispatchStatus(StatusDisconnected, nil)
	}
}

// Close disconnects and permanently retires the client
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
}

// IsConnected reports whether the connection is currently live
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// Status returns the current connection status
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Generation returns the connection generation, incremented on every
// successful connect. Pending work tagged with an older generation belongs
// to a superseded connection
func (c *Client) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// On registers a handler for an inbound event name
func (c *Client) On(event string, handler EventHandler) *Subscription {
	return c.subs.addEvent(event, handler)
}

// OnStatus registers a handler for connection state transitions
func (c *Client) OnStatus(handler StatusHandler) *Subscription {
	return c.subs.addStatus(handler)
}

// send queues an event on the current session's write channel
func (c *Client) send(evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()

	if sess == nil {
		return ErrNotConnected
	}

	select {
	case sess.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-sess.ctx.Done():
		return ErrNotConnected
	}
}

// sendTypingStart implements typingSender for TypingDebouncer
func (c *Client) sendTypingStart(threadID, displayName string) error {
	evt, err := types.NewEvent(types.EventTypingStart, threadID, types.TypingSignal{
		UserID:      c.identity.UserID,
		DisplayName: displayName,
	})
	if err != nil {
		return err
	}
	return c.send(evt)
}

// sendTypingStop implements typingSender for TypingDebouncer
func (c *Client) sendTypingStop(threadID string) error {
	evt, err := types.NewEvent(types.EventTypingStop, threadID, types.TypingSignal{
		UserID: c.identity.UserID,
	})
	if err != nil {
		return err
	}
	return c.send(evt)
}
