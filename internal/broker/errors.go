package broker

import "errors"

// Broker lifecycle and dispatch errors
var (
	ErrBrokerAlreadyRunning = errors.New("broker is already running")
	ErrBrokerNotRunning     = errors.New("broker is not running")
	ErrEventChannelFull     = errors.New("event channel is full")
	ErrRegisterChannelFull  = errors.New("register channel is full")
	ErrNotAnnounced         = errors.New("connection has not announced an identity")
)
