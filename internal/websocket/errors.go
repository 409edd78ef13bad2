package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection          = errors.New("connection cannot be nil")
	ErrConnectionNotAnnounced = errors.New("connection must announce identity before registration")
	ErrNotInRoom              = errors.New("connection is not a member of this room")
)
