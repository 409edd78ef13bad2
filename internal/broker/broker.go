package broker

import (
	"context"
	"log"
	"sync"

	"peergenius/internal/router"
	"peergenius/internal/websocket"
	"peergenius/pkg/interfaces"
	"peergenius/pkg/types"
)

// Broker coordinates room membership, presence fan-out, and typing relay
// ARCHITECTURAL DISCOVERY: central coordination point for all event flow
// keeps websocket handling cleanly separated from delivery decisions
type Broker struct {
	// FUNCTIONAL DISCOVERY: buffered channels absorb event bursts from
	// rooms full of simultaneously typing users
	eventChannel      chan *eventContext
	registerChannel   chan *websocket.Connection
	unregisterChannel chan *websocket.Connection
	shutdownChannel   chan struct{}

	registry  *websocket.Registry
	limiter   *router.RateLimiter
	publisher interfaces.EventPublisher // nil disables cross-instance mirroring

	// typing is owned exclusively by the run goroutine: threadID -> userID
	// -> displayName. Lets disconnects clear stale typing indicators
	typing map[string]map[string]string

	running bool
	mu      sync.RWMutex
}

// eventContext pairs an inbound event with its sender connection
type eventContext struct {
	conn  *websocket.Connection
	event *types.Event
}

// NewBroker creates a broker. publisher may be nil when no redis bridge is
// configured
func NewBroker(registry *websocket.Registry, limiter *router.RateLimiter, publisher interfaces.EventPublisher) *Broker {
	return &Broker{
		eventChannel:      make(chan *eventContext, 1000),
		registerChannel:   make(chan *websocket.Connection, 100),
		unregisterChannel: make(chan *websocket.Connection, 100),
		shutdownChannel:   make(chan struct{}),
		registry:          registry,
		limiter:           limiter,
		publisher:         publisher,
		typing:            make(map[string]map[string]string),
	}
}

// SetPublisher attaches the cross-instance publisher. Must be called before
// Start; the bridge needs the broker as its sink, so it cannot exist at
// construction time
func (b *Broker) SetPublisher(publisher interfaces.EventPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		b.publisher = publisher
	}
}

// Start begins broker processing
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrBrokerAlreadyRunning
	}
	b.running = true
	b.mu.Unlock()

	log.Println("Starting presence broker...")
	go b.run(ctx)

	return nil
}

// Stop gracefully shuts the broker down
func (b *Broker) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return ErrBrokerNotRunning
	}
	b.running = false

	log.Println("Stopping presence broker...")

	select {
	case <-b.shutdownChannel:
	default:
		close(b.shutdownChannel)
	}

	return nil
}

// Register queues a connection for registration after its identity announce
func (b *Broker) Register(conn *websocket.Connection) error {
	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return ErrBrokerNotRunning
	}
	b.mu.RUnlock()

	select {
	case b.registerChannel <- conn:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// Unregister queues a connection for removal and presence cleanup
func (b *Broker) Unregister(conn *websocket.Connection) error {
	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return ErrBrokerNotRunning
	}
	b.mu.RUnlock()

	select {
	case b.unregisterChannel <- conn:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// Submit queues an inbound client event for dispatch
func (b *Broker) Submit(conn *websocket.Connection, evt *types.Event) error {
	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return ErrBrokerNotRunning
	}
	b.mu.RUnlock()

	if !conn.IsAnnounced() {
		return ErrNotAnnounced
	}

	select {
	case b.eventChannel <- &eventContext{conn: conn, event: evt}:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// DeliverToThread fans an event out to every member of a thread. Safe to
// call from any goroutine; used by the REST router and the redis bridge
func (b *Broker) DeliverToThread(threadID string, evt *types.Event) error {
	for _, member := range b.registry.RoomMembers(threadID) {
		if err := member.WriteEvent(evt); err != nil {
			// Keep delivering to the rest of the room
			log.Printf("Failed to deliver %s to %s: %v", evt.Name, member.UserID(), err)
		}
	}
	return nil
}

// run is the single dispatch loop. One goroutine owns all typing state and
// ordering decisions
func (b *Broker) run(ctx context.Context) {
	defer log.Println("Broker processing stopped")

	for {
		select {
		case evtCtx := <-b.eventChannel:
			b.handleEvent(evtCtx)

		case conn := <-b.registerChannel:
			b.handleRegister(conn)

		case conn := <-b.unregisterChannel:
			b.handleUnregister(conn)

		case <-b.shutdownChannel:
			log.Println("Broker shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Broker context cancelled")
			return
		}
	}
}

func (b *Broker) handleRegister(conn *websocket.Connection) {
	if conn == nil {
		log.Printf("Attempted to register nil connection")
		return
	}

	vacated, err := b.registry.Register(conn)
	if err != nil {
		log.Printf("Connection registration failed for %s: %v", conn.UserID(), err)
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("Failed to close connection after registration failure: %v", closeErr)
		}
		return
	}

	// A replacing register evicts the old connection's membership, and that
	// connection's own unregister will find nothing left to clean up. Heal
	// presence for the rooms it vacated here, typing indicator included
	for _, threadID := range vacated {
		b.clearTyping(threadID, conn.UserID())
		b.broadcastSnapshot(threadID)
	}

	log.Printf("Connection registered: user=%s", conn.UserID())
	b.sendSystem(conn, "announced", "Identity registered", nil)
}

func (b *Broker) handleUnregister(conn *websocket.Connection) {
	if conn == nil {
		return
	}

	userID := conn.UserID()
	affected := b.registry.Unregister(conn)
	if len(affected) == 0 {
		log.Printf("Connection already deregistered: user=%s", userID)
		return
	}

	// The departed user's typing indicator must not survive the disconnect:
	// relay a stop on their behalf before the fresh snapshot
	for _, threadID := range affected {
		b.clearTyping(threadID, userID)
		b.broadcastSnapshot(threadID)
	}

	log.Printf("Connection deregistered: user=%s rooms=%d", userID, len(affected))
}

// handleEvent dispatches one inbound client event. Malformed or unexpected
// events are logged and dropped; dispatch never tears down the connection
func (b *Broker) handleEvent(evtCtx *eventContext) {
	conn := evtCtx.conn
	evt := evtCtx.event
	userID := conn.UserID()

	if !types.IsClientEvent(evt.Name) {
		log.Printf("Dropping unknown event %q from %s", evt.Name, userID)
		b.sendSystem(conn, "event_error", "Unknown event", types.ErrInvalidEventName)
		return
	}

	if !types.IsValidThreadID(evt.ThreadID) {
		b.sendSystem(conn, "event_error", "Invalid thread ID", types.ErrInvalidThreadID)
		return
	}

	if !b.limiter.Allow(userID) {
		b.sendSystem(conn, "rate_limited", "Too many events, slow down", nil)
		return
	}

	switch evt.Name {
	case types.EventRoomJoin:
		if err := b.registry.JoinRoom(evt.ThreadID, conn); err != nil {
			log.Printf("Join failed for %s in %s: %v", userID, evt.ThreadID, err)
			b.sendSystem(conn, "join_error", "Could not join thread", err)
			return
		}
		log.Printf("Room join: user=%s thread=%s", userID, evt.ThreadID)
		b.broadcastSnapshot(evt.ThreadID)

	case types.EventRoomLeave:
		if err := b.registry.LeaveRoom(evt.ThreadID, userID); err != nil {
			// Idempotent from the client's point of view
			return
		}
		log.Printf("Room leave: user=%s thread=%s", userID, evt.ThreadID)
		b.clearTyping(evt.ThreadID, userID)
		b.broadcastSnapshot(evt.ThreadID)

	case types.EventTypingStart:
		if !b.registry.IsMember(evt.ThreadID, userID) {
			return
		}
		identity := conn.Identity()
		if b.typing[evt.ThreadID] == nil {
			b.typing[evt.ThreadID] = make(map[string]string)
		}
		b.typing[evt.ThreadID][userID] = identity.DisplayName
		b.relayTyping(evt.ThreadID, userID, identity.DisplayName, true)

	case types.EventTypingStop:
		if !b.registry.IsMember(evt.ThreadID, userID) {
			return
		}
		if typers, exists := b.typing[evt.ThreadID]; exists {
			delete(typers, userID)
			if len(typers) == 0 {
				delete(b.typing, evt.ThreadID)
			}
		}
		b.relayTyping(evt.ThreadID, userID, "", false)
	}
}

// clearTyping removes a user's typing entry for a thread and, if one
// existed, relays the stop on their behalf
func (b *Broker) clearTyping(threadID, userID string) {
	typers, exists := b.typing[threadID]
	if !exists {
		return
	}
	if _, wasTyping := typers[userID]; !wasTyping {
		return
	}
	delete(typers, userID)
	if len(typers) == 0 {
		delete(b.typing, threadID)
	}
	b.relayTyping(threadID, userID, "", false)
}

// relayTyping pushes a typing signal to every room member except the sender
// and mirrors it to other broker instances
func (b *Broker) relayTyping(threadID, userID, displayName string, start bool) {
	name := types.EventTypingStop
	if start {
		name = types.EventTypingStart
	}

	evt, err := types.NewEvent(name, threadID, types.TypingSignal{
		UserID:      userID,
		DisplayName: displayName,
	})
	if err != nil {
		log.Printf("Failed to build typing relay: %v", err)
		return
	}

	for _, member := range b.registry.RoomMembers(threadID) {
		if member.UserID() == userID {
			continue
		}
		if err := member.WriteEvent(evt); err != nil {
			log.Printf("Failed to relay typing to %s: %v", member.UserID(), err)
		}
	}

	if b.publisher != nil {
		if err := b.publisher.PublishThreadEvent(threadID, evt); err != nil {
			log.Printf("Failed to publish typing event: %v", err)
		}
	}
}

// broadcastSnapshot pushes the authoritative membership list to every member
// of a thread, including whoever just joined
// FUNCTIONAL DISCOVERY: clients replace their local set with this payload,
// so it must always be the complete list, never a delta
func (b *Broker) broadcastSnapshot(threadID string) {
	evt, err := types.NewEvent(types.EventPresenceSnapshot, threadID, types.PresenceSnapshot{
		ThreadID: threadID,
		Users:    b.registry.RoomPresence(threadID),
	})
	if err != nil {
		log.Printf("Failed to build presence snapshot: %v", err)
		return
	}

	if err := b.DeliverToThread(threadID, evt); err != nil {
		log.Printf("Failed to broadcast snapshot for %s: %v", threadID, err)
	}
}

// sendSystem sends a system notice to one connection. Error feedback without
// exposing internals
func (b *Broker) sendSystem(conn *websocket.Connection, code, message string, cause error) {
	notice := types.SystemNotice{Code: code, Message: message}
	if cause != nil {
		notice.Error = cause.Error()
	}

	evt, err := types.NewEvent(types.EventSystem, "", notice)
	if err != nil {
		return
	}
	if err := conn.WriteEvent(evt); err != nil {
		log.Printf("Failed to send system notice to %s: %v", conn.UserID(), err)
	}
}
