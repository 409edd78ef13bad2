package types

import (
	"time"
)

// Event name constants defined in one place so the client SDK, the broker,
// and the redis bridge agree on the wire vocabulary
const (
	EventIdentityAnnounce = "identity-announce"
	EventRoomJoin         = "room-join"
	EventRoomLeave        = "room-leave"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventPresenceSnapshot = "presence-snapshot"
	EventMessageDelivered = "message-delivered"
	EventReactionUpdated  = "reaction-updated"
	EventSystem           = "system"
)

// Identity is the user identity a client announces after connecting.
// FUNCTIONAL DISCOVERY: the broker treats connections as stateless for
// membership purposes, so identity must be re-sent on every (re)connect
type Identity struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName"`
}

// PresenceUser is one entry in an authoritative presence snapshot
type PresenceUser struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	LastSeen    time.Time `json:"lastSeen"`
}

// PresenceSnapshot is the broker's full membership list for one thread.
// Receivers replace their local set with Users, never merge
type PresenceSnapshot struct {
	ThreadID string         `json:"threadId"`
	Users    []PresenceUser `json:"users"`
}

// TypingSignal carries a typing start/stop. DisplayName is only populated
// on start events; stop needs only the user ID
type TypingSignal struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// Message is a chat message as delivered to room members and stored in the
// history database
// ARCHITECTURAL DISCOVERY: reactions kept as emoji -> user IDs so a reaction
// update is a single JSON document on both the wire and in SQLite
type Message struct {
	ID         string              `json:"_id"`
	ThreadID   string              `json:"threadId"`
	SenderID   string              `json:"senderId"`
	SenderName string              `json:"senderName"`
	Content    string              `json:"content"`
	Reactions  map[string][]string `json:"reactions,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// ReactionUpdate notifies room members that a message's reaction state changed
type ReactionUpdate struct {
	MessageID string              `json:"messageId"`
	ThreadID  string              `json:"threadId"`
	Reactions map[string][]string `json:"reactions"`
}

// SystemNotice is a broker-generated informational or error frame
type SystemNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
