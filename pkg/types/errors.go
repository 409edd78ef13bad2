package types

import "errors"

// ARCHITECTURAL DISCOVERY: specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidThreadID    = errors.New("thread ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName = errors.New("display name must be 1-100 characters")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrContentTooLarge    = errors.New("message content exceeds 64KB limit")
	ErrInvalidEventName   = errors.New("invalid event name")
	ErrInvalidPayload     = errors.New("invalid JSON payload")
	ErrEmptyPayload       = errors.New("event payload is empty")
)
