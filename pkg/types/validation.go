package types

import (
	"regexp"
)

// FUNCTIONAL DISCOVERY: regexes compiled once at package initialization,
// validation runs on every inbound frame
var (
	userIDRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	threadIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// MaxContentBytes bounds message content size on both the REST and
// websocket paths
const MaxContentBytes = 65536 // 64KB

// IsValidUserID checks if a user ID meets format requirements.
// 1-50 character limit prevents database issues and ensures reasonable
// display in UI components
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidThreadID checks if a thread ID meets format requirements
func IsValidThreadID(threadID string) bool {
	if len(threadID) < 1 || len(threadID) > 64 {
		return false
	}
	return threadIDRegex.MatchString(threadID)
}

// Validate ensures the identity announcement is usable for presence tracking
func (i *Identity) Validate() error {
	if !IsValidUserID(i.UserID) {
		return ErrInvalidUserID
	}
	if len(i.DisplayName) < 1 || len(i.DisplayName) > 100 {
		return ErrInvalidDisplayName
	}
	return nil
}

// Validate ensures the message meets all requirements before persistence
// and fan-out
func (m *Message) Validate() error {
	if !IsValidThreadID(m.ThreadID) {
		return ErrInvalidThreadID
	}
	if !IsValidUserID(m.SenderID) {
		return ErrInvalidUserID
	}
	if len(m.Content) == 0 {
		return ErrEmptyContent
	}
	if len(m.Content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}
