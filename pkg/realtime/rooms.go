package realtime

import (
	"context"
	"sync"
	"time"

	"peergenius/pkg/types"
)

// DefaultJoinTimeout bounds how long a join waits for the connection to
// become live before it is abandoned
const DefaultJoinTimeout = 10 * time.Second

// joinPollInterval is how often a pending join re-checks connection state
const joinPollInterval = 50 * time.Millisecond

// roomTracker holds the client's view of per-thread membership and remote
// typing state. All of it is derived from broker pushes: presence is
// broker-authoritative and never locally inferred beyond the optimistic leave
type roomTracker struct {
	mu      sync.RWMutex
	joined  map[string]bool
	members map[string][]types.PresenceUser // replaced wholesale per snapshot
	typing  map[string]map[string]string    // threadID -> userID -> displayName
	pending map[string]chan struct{}        // threadID -> join cancel signal
}

func newRoomTracker() *roomTracker {
	return &roomTracker{
		joined:  make(map[string]bool),
		members: make(map[string][]types.PresenceUser),
		typing:  make(map[string]map[string]string),
		pending: make(map[string]chan struct{}),
	}
}

// markPending registers a pending join, cancelling any previous pending join
// for the same thread
func (rt *roomTracker) markPending(threadID string) chan struct{} {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if prev, exists := rt.pending[threadID]; exists {
		close(prev)
	}
	cancel := make(chan struct{})
	rt.pending[threadID] = cancel
	return cancel
}

// clearPending removes a pending join entry if it still owns the slot
func (rt *roomTracker) clearPending(threadID string, cancel chan struct{}) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pending[threadID] == cancel {
		delete(rt.pending, threadID)
	}
}

// cancelPending cancels the pending join for one thread, if any
func (rt *roomTracker) cancelPending(threadID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if cancel, exists := rt.pending[threadID]; exists {
		close(cancel)
		delete(rt.pending, threadID)
	}
}

func (rt *roomTracker) markJoined(threadID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.joined[threadID] = true
}

// leave removes all local state for a thread. Optimistic: runs before the
// leave request reaches the broker
func (rt *roomTracker) leave(threadID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	delete(rt.joined, threadID)
	delete(rt.members, threadID)
	delete(rt.typing, threadID)
	if cancel, exists := rt.pending[threadID]; exists {
		close(cancel)
		delete(rt.pending, threadID)
	}
}

// reset discards all membership and typing state. Called on every disconnect
// path: the broker cannot be trusted to deliver a final consistent snapshot,
// so every room needs a fresh join-and-resync on reconnect
func (rt *roomTracker) reset() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.joined = make(map[string]bool)
	rt.members = make(map[string][]types.PresenceUser)
	rt.typing = make(map[string]map[string]string)
	for threadID, cancel := range rt.pending {
		close(cancel)
		delete(rt.pending, threadID)
	}
}

// applySnapshot replaces the membership set for a joined thread with the
// broker's authoritative list. Snapshots for threads the client has not
// joined are dropped to prevent stale cross-thread leakage
func (rt *roomTracker) applySnapshot(snapshot *types.PresenceSnapshot) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.joined[snapshot.ThreadID] {
		return false
	}

	// Fresh slice every time: replace, never merge in place
	users := make([]types.PresenceUser, len(snapshot.Users))
	copy(users, snapshot.Users)
	rt.members[snapshot.ThreadID] = users

	// A typing entry must not outlive its sender's presence
	if typers, exists := rt.typing[snapshot.ThreadID]; exists {
		present := make(map[string]bool, len(users))
		for _, u := range users {
			present[u.ID] = true
		}
		for userID := range typers {
			if !present[userID] {
				delete(typers, userID)
			}
		}
	}

	return true
}

// applyTyping updates the remote typing display set for a joined thread
func (rt *roomTracker) applyTyping(threadID string, signal *types.TypingSignal, start bool) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.joined[threadID] {
		return false
	}

	if start {
		if rt.typing[threadID] == nil {
			rt.typing[threadID] = make(map[string]string)
		}
		rt.typing[threadID][signal.UserID] = signal.DisplayName
	} else {
		if typers, exists := rt.typing[threadID]; exists {
			delete(typers, signal.UserID)
			if len(typers) == 0 {
				delete(rt.typing, threadID)
			}
		}
	}

	return true
}

func (rt *roomTracker) isJoined(threadID string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.joined[threadID]
}

func (rt *roomTracker) online(threadID string) []types.PresenceUser {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	users := make([]types.PresenceUser, len(rt.members[threadID]))
	copy(users, rt.members[threadID])
	return users
}

func (rt *roomTracker) typingNames(threadID string) []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	names := make([]string, 0, len(rt.typing[threadID]))
	for _, name := range rt.typing[threadID] {
		names = append(names, name)
	}
	return names
}

// JoinRoom requests membership in a thread. If the connection is still being
// established the join waits, bounded by the configured join timeout, and is
// sent once the connection is live. A join initiated against one connection
// is never sent over a later one: reconnects invalidate it via the
// generation counter
func (c *Client) JoinRoom(ctx context.Context, threadID string) error {
	if !types.IsValidThreadID(threadID) {
		return ErrInvalidThread
	}

	gen := c.Generation()
	cancel := c.rooms.markPending(threadID)
	defer c.rooms.clearPending(threadID, cancel)

	deadline := time.NewTimer(c.cfg.JoinTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(joinPollInterval)
	defer ticker.Stop()

	for {
		switch c.Status() {
		case StatusConnected:
			// RECONNECTION RACE: a reconnect that completed while this join
			// was pending must not adopt it; the broker would register the
			// room on behalf of a superseded connection
			if c.Generation() != gen {
				return ErrJoinSuperseded
			}
			evt, err := types.NewEvent(types.EventRoomJoin, threadID, nil)
			if err != nil {
				return err
			}
			if err := c.send(evt); err != nil {
				return err
			}
			c.rooms.markJoined(threadID)
			return nil

		case StatusDisconnected:
			// Terminal while waiting: connection attempts exhausted
			return ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cancel:
			return ErrJoinCancelled
		case <-deadline.C:
			return ErrJoinTimeout
		case <-ticker.C:
			if c.Generation() != gen {
				return ErrJoinSuperseded
			}
		}
	}
}

// LeaveRoom removes local membership state immediately and sends the leave
// request best-effort. Local state never waits on server acknowledgment
func (c *Client) LeaveRoom(threadID string) error {
	c.rooms.leave(threadID)

	evt, err := types.NewEvent(types.EventRoomLeave, threadID, nil)
	if err != nil {
		return err
	}
	if err := c.send(evt); err != nil {
		// Optimistic leave: local state is already gone, a failed send just
		// means the broker will clean up on disconnect
		return err
	}
	return nil
}

// Online returns the current membership list for a joined thread
func (c *Client) Online(threadID string) []types.PresenceUser {
	return c.rooms.online(threadID)
}

// TypingUsers returns the display names of remote users currently typing in
// a thread
func (c *Client) TypingUsers(threadID string) []string {
	return c.rooms.typingNames(threadID)
}
