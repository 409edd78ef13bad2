package realtime

import (
	"sync"
	"time"
)

const (
	// DefaultStartInterval rate-limits typing-start emission: a burst of
	// keystrokes produces at most one start per interval
	DefaultStartInterval = 1 * time.Second
	// DefaultIdleTimeout is how long after the last keystroke the debouncer
	// emits typing-stop on its own
	DefaultIdleTimeout = 3 * time.Second
)

// typingSender is the outbound half the debouncer needs from the Client.
// Narrow interface keeps the state machine testable with a fake
type typingSender interface {
	sendTypingStart(threadID, displayName string) error
	sendTypingStop(threadID string) error
}

// TypingDebouncer converts raw input events for one thread into a
// low-frequency start/stop typing signal. Local-only state machine:
// idle -> typing -> idle
//
// The invariant that matters most: once a start has been emitted, exactly one
// stop follows, whether from the inactivity timer, a terminal action, or
// Close.
// Teardown emits the stop synchronously, otherwise remote peers are left with
// a stale typing indicator nothing will ever clear
type TypingDebouncer struct {
	mu sync.Mutex

	sender      typingSender
	threadID    string
	displayName string

	typing    bool
	closed    bool
	lastStart time.Time

	startInterval time.Duration
	idleTimeout   time.Duration

	timer *time.Timer
	seq   uint64 // invalidates timers scheduled before the latest reset
}

// NewTypingDebouncer creates a debouncer for one thread, wired to this
// client's connection. Intervals of zero select the defaults
func (c *Client) NewTypingDebouncer(threadID string, startInterval, idleTimeout time.Duration) *TypingDebouncer {
	return newTypingDebouncer(c, threadID, c.identity.DisplayName, startInterval, idleTimeout)
}

func newTypingDebouncer(sender typingSender, threadID, displayName string, startInterval, idleTimeout time.Duration) *TypingDebouncer {
	if startInterval <= 0 {
		startInterval = DefaultStartInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &TypingDebouncer{
		sender:        sender,
		threadID:      threadID,
		displayName:   displayName,
		startInterval: startInterval,
		idleTimeout:   idleTimeout,
	}
}

// InputChanged records a qualifying input event. Transitions idle -> typing,
// emits a start signal at most once per startInterval, and pushes the
// inactivity deadline out by idleTimeout
func (d *TypingDebouncer) InputChanged() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	d.typing = true
	d.resetTimerLocked()

	now := time.Now()
	if now.Sub(d.lastStart) >= d.startInterval {
		d.lastStart = now
		// Send failures are deliberately ignored here: the broker clears
		// typing state on disconnect, so a lost start self-heals
		_ = d.sender.sendTypingStart(d.threadID, d.displayName)
	}
}

// Stop handles a terminal input action (submit, clear, blur). Emits the stop
// signal immediately and exactly once per typing episode
func (d *TypingDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// Close tears the debouncer down, emitting a pending stop synchronously
// before returning. The debouncer accepts no input afterwards
func (d *TypingDebouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.closed = true
}

// IsTyping reports whether the local user is currently in the typing state
func (d *TypingDebouncer) IsTyping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing
}

// stopLocked performs the typing -> idle transition. Idempotent: a second
// call in the idle state emits nothing
func (d *TypingDebouncer) stopLocked() {
	d.cancelTimerLocked()

	if !d.typing {
		return
	}
	d.typing = false
	_ = d.sender.sendTypingStop(d.threadID)
}

// resetTimerLocked arms the inactivity timer, invalidating any previously
// scheduled fire via the sequence counter
func (d *TypingDebouncer) resetTimerLocked() {
	d.cancelTimerLocked()

	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.idleTimeout, func() {
		d.timerFired(seq)
	})
}

func (d *TypingDebouncer) cancelTimerLocked() {
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// timerFired runs when the inactivity timer elapses. A fired-but-stale timer
// is a no-op: the sequence check guards against timers racing a reset or a
// teardown that already emitted the stop
func (d *TypingDebouncer) timerFired(seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if seq != d.seq || d.closed || !d.typing {
		return
	}
	d.timer = nil
	d.typing = false
	_ = d.sender.sendTypingStop(d.threadID)
}
