package router

import "errors"

// Message routing errors
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidReaction   = errors.New("reaction must be 1-16 characters")
)
