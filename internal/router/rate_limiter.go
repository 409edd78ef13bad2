package router

import (
	"sync"
	"time"
)

// eventsPerMinute is the per-user event budget. Typing traffic is already
// debounced client-side, so a user near this limit is misbehaving
const eventsPerMinute = 120

// RateLimiter implements per-user rate limiting over a minute window
// ARCHITECTURAL DISCOVERY: per-user state with periodic cleanup prevents
// unbounded growth from short-lived users
type RateLimiter struct {
	mu    sync.Mutex
	users map[string]*userWindow
}

// userWindow tracks one user's count inside the current minute window
type userWindow struct {
	eventCount  int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		users: make(map[string]*userWindow),
	}
}

// Allow checks whether the user may send another event
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	window, exists := rl.users[userID]
	if !exists {
		rl.users[userID] = &userWindow{eventCount: 1, windowStart: now}
		return true
	}

	if now.Sub(window.windowStart) >= time.Minute {
		window.eventCount = 1
		window.windowStart = now
		return true
	}

	if window.eventCount >= eventsPerMinute {
		return false
	}

	window.eventCount++
	return true
}

// Cleanup removes stale user entries. Call periodically; entries idle for
// five windows are dropped
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for userID, window := range rl.users {
		if now.Sub(window.windowStart) > 5*time.Minute {
			delete(rl.users, userID)
		}
	}
}
