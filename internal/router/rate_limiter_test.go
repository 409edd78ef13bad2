package router

import (
	"testing"
	"time"
)

func TestAllowWithinBudget(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < eventsPerMinute; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow("alice") {
		t.Error("event over budget should be rejected")
	}
}

func TestLimitIsPerUser(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < eventsPerMinute; i++ {
		rl.Allow("alice")
	}
	if rl.Allow("alice") {
		t.Error("alice should be limited")
	}
	if !rl.Allow("bob") {
		t.Error("bob should not be affected by alice's limit")
	}
}

func TestWindowResets(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < eventsPerMinute; i++ {
		rl.Allow("alice")
	}
	if rl.Allow("alice") {
		t.Error("alice should be limited")
	}

	// Age the window past a minute instead of sleeping
	rl.mu.Lock()
	rl.users["alice"].windowStart = time.Now().Add(-61 * time.Second)
	rl.mu.Unlock()

	if !rl.Allow("alice") {
		t.Error("alice should be allowed in a fresh window")
	}
}

func TestCleanupDropsStaleUsers(t *testing.T) {
	rl := NewRateLimiter()

	rl.Allow("alice")
	rl.Allow("bob")

	rl.mu.Lock()
	rl.users["alice"].windowStart = time.Now().Add(-6 * time.Minute)
	rl.mu.Unlock()

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, exists := rl.users["alice"]; exists {
		t.Error("stale user should be cleaned up")
	}
	if _, exists := rl.users["bob"]; !exists {
		t.Error("recent user should be kept")
	}
}
