package realtime

import "errors"

// Connection-related errors
var (
	ErrAlreadyConnected = errors.New("client already connected or connecting")
	ErrNotConnected     = errors.New("client not connected")
	ErrClientClosed     = errors.New("client is closed")
	ErrAuthRejected     = errors.New("authentication rejected by broker")
	ErrConnectFailed    = errors.New("connection failed after exhausting retry attempts")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidEndpoint  = errors.New("invalid broker endpoint")
)

// Room-related errors
var (
	ErrJoinTimeout    = errors.New("room join timed out waiting for connection")
	ErrJoinCancelled  = errors.New("room join cancelled")
	ErrJoinSuperseded = errors.New("room join superseded by a newer connection")
	ErrInvalidThread  = errors.New("invalid thread ID")
)
