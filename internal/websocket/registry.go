package websocket

import (
	"log"
	"sync"

	"peergenius/pkg/types"
)

// Registry tracks connections and thread-room membership with thread-safe
// operations. Pure connection bookkeeping: routing decisions live in the
// broker and router
// TECHNICAL DISCOVERY: double index (room -> users, user -> rooms) makes
// both fan-out and disconnect cleanup O(membership)
type Registry struct {
	mu        sync.RWMutex
	global    map[string]*Connection            // userID -> Connection
	rooms     map[string]map[string]*Connection // threadID -> userID -> Connection
	userRooms map[string]map[string]bool        // userID -> threadID set
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		global:    make(map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		userRooms: make(map[string]map[string]bool),
	}
}

// Register adds an announced connection to the global map. A newer
// connection for the same user replaces the older one; the old connection is
// closed asynchronously to avoid holding the lock across Close. Returns the
// threads the replaced connection was a member of so the broker can push
// fresh snapshots, the same contract as Unregister
func (r *Registry) Register(conn *Connection) ([]string, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	if !conn.IsAnnounced() {
		return nil, ErrConnectionNotAnnounced
	}

	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	var vacated []string
	if existing, exists := r.global[userID]; exists && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection for %s: %v", userID, err)
			}
		}()
		// Membership of the replaced connection is dropped: the new
		// connection re-joins explicitly
		vacated = r.removeFromRoomsLocked(userID)
	}

	r.global[userID] = conn
	return vacated, nil
}

// Unregister removes a connection and all its room membership, returning the
// threads it belonged to so the broker can push fresh snapshots.
// Idempotent, and only removes the exact registered connection instance so a
// replaced connection's cleanup cannot evict its successor
func (r *Registry) Unregister(conn *Connection) []string {
	if conn == nil {
		return nil
	}

	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.global[userID]
	if !exists || registered != conn {
		return nil
	}

	delete(r.global, userID)
	return r.removeFromRoomsLocked(userID)
}

// removeFromRoomsLocked drops a user from every room, cleaning up empty room
// maps, and returns the affected thread IDs. Caller holds the write lock
func (r *Registry) removeFromRoomsLocked(userID string) []string {
	var affected []string
	for threadID := range r.userRooms[userID] {
		if members, exists := r.rooms[threadID]; exists {
			delete(members, userID)
			if len(members) == 0 {
				delete(r.rooms, threadID)
			}
			affected = append(affected, threadID)
		}
	}
	delete(r.userRooms, userID)
	return affected
}

// JoinRoom adds a connection to a thread room
func (r *Registry) JoinRoom(threadID string, conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAnnounced() {
		return ErrConnectionNotAnnounced
	}

	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[threadID] == nil {
		r.rooms[threadID] = make(map[string]*Connection)
	}
	r.rooms[threadID][userID] = conn

	if r.userRooms[userID] == nil {
		r.userRooms[userID] = make(map[string]bool)
	}
	r.userRooms[userID][threadID] = true

	return nil
}

// LeaveRoom removes a user from a thread room
func (r *Registry) LeaveRoom(threadID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[threadID]
	if !exists {
		return ErrNotInRoom
	}
	if _, member := members[userID]; !member {
		return ErrNotInRoom
	}

	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, threadID)
	}
	if threads, exists := r.userRooms[userID]; exists {
		delete(threads, threadID)
		if len(threads) == 0 {
			delete(r.userRooms, userID)
		}
	}

	return nil
}

// RoomMembers returns the connections currently in a thread room
func (r *Registry) RoomMembers(threadID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Connection, 0, len(r.rooms[threadID]))
	for _, conn := range r.rooms[threadID] {
		members = append(members, conn)
	}
	return members
}

// RoomPresence builds the authoritative presence list for a thread, the
// payload of every presence-snapshot push
func (r *Registry) RoomPresence(threadID string) []types.PresenceUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]types.PresenceUser, 0, len(r.rooms[threadID]))
	for _, conn := range r.rooms[threadID] {
		identity := conn.Identity()
		users = append(users, types.PresenceUser{
			ID:          identity.UserID,
			DisplayName: identity.DisplayName,
			LastSeen:    conn.LastActive(),
		})
	}
	return users
}

// IsMember reports whether a user is in a thread room
func (r *Registry) IsMember(threadID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, exists := r.rooms[threadID]
	if !exists {
		return false
	}
	_, member := members[userID]
	return member
}

// GetUserConnection returns the current connection for a user
func (r *Registry) GetUserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.global[userID]
	return conn, exists
}

// GetStats returns registry statistics for the health endpoint
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.global),
		"active_rooms":      len(r.rooms),
	}
}
