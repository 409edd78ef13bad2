package realtime

import (
	"sync"
	"testing"
	"time"
)

// fakeSender records emitted typing signals for assertions
type fakeSender struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeSender) sendTypingStart(threadID, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeSender) sendTypingStop(threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSender) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// TestTypingDebouncer_RateLimitedStart tests that a burst of input events
// emits at most one start signal per interval
func TestTypingDebouncer_RateLimitedStart(t *testing.T) {
	sender := &fakeSender{}
	d := newTypingDebouncer(sender, "t1", "Alice", 100*time.Millisecond, 300*time.Millisecond)
	defer d.Close()

	for i := 0; i < 20; i++ {
		d.InputChanged()
	}

	starts, _ := sender.counts()
	if starts != 1 {
		t.Errorf("Expected exactly 1 start for a burst within the interval, got %d", starts)
	}

	// After the interval elapses, continued typing may refresh the start
	time.Sleep(120 * time.Millisecond)
	d.InputChanged()

	starts, _ = sender.counts()
	if starts != 2 {
		t.Errorf("Expected a second start after the interval, got %d", starts)
	}
}

// TestTypingDebouncer_InactivityStop tests that the inactivity timer emits
// exactly one stop
func TestTypingDebouncer_InactivityStop(t *testing.T) {
	sender := &fakeSender{}
	d := newTypingDebouncer(sender, "t1", "Alice", 10*time.Millisecond, 80*time.Millisecond)
	defer d.Close()

	d.InputChanged()

	time.Sleep(150 * time.Millisecond)

	_, stops := sender.counts()
	if stops != 1 {
		t.Errorf("Expected exactly 1 stop from inactivity, got %d", stops)
	}
	if d.IsTyping() {
		t.Error("Debouncer should be idle after the inactivity timer fires")
	}

	// No further signals without new input
	time.Sleep(100 * time.Millisecond)
	starts, stops := sender.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("Expected no further signals without input, got starts=%d stops=%d", starts, stops)
	}
}

// TestTypingDebouncer_InputResetsTimer tests that qualifying input pushes
// the inactivity deadline out
func TestTypingDebouncer_InputResetsTimer(t *testing.T) {
	sender := &fakeSender{}
	d := newTypingDebouncer(sender, "t1", "Alice", 10*time.Millisecond, 100*time.Millisecond)
	defer d.Close()

	d.InputChanged()
	for i := 0; i < 4; i++ {
		time.Sleep(50 * time.Millisecond)
		d.InputChanged() // each input arrives before the deadline
	}

	_, stops := sender.counts()
	if stops != 0 {
		t.Errorf("Expected no stop while input keeps arriving, got %d", stops)
	}

	time.Sleep(180 * time.Millisecond)
	_, stops = sender.counts()
	if stops != 1 {
		t.Errorf("Expected exactly 1 stop after input ceased, got %d", stops)
	}
}

// TestTypingDebouncer_TerminalStop tests that an explicit terminal action
// emits the stop immediately and exactly once
func TestTypingDebouncer_TerminalStop(t *testing.T) {
	sender := &fakeSender{}
	d := newTypingDebouncer(sender, "t1", "Alice", 10*time.Millisecond, 5*time.Second)
	defer d.Close()

	d.InputChanged()
	d.Stop()

	_, stops := sender.counts()
	if stops != 1 {
		t.Errorf("Expected 1 stop from terminal action, got %d", stops)
	}

	// Duplicate terminal actions are no-ops in the idle state
	d.Stop()
	d.Stop()
	_, stops = sender.counts()
	if stops != 1 {
		t.Errorf("Expected no duplicate stops, got %d", stops)
	}
}

// TestTypingDebouncer_CloseEmitsStopSynchronously tests the teardown
// invariant: Close while typing emits the stop before returning, and the
// cancelled timer never fires a second one
func TestTypingDebouncer_CloseEmitsStopSynchronously(t *testing.T) {
	sender := &fakeSender{}
	d := newTypingDebouncer(sender, "t1", "Alice", 10*time.Millisecond, 60*time.Millisecond)

	d.InputChanged()
	d.Close()

	_, stops := sender.counts()
	if stops != 1 {
		t.Errorf("Expected stop emitted synchronously on Close, got %d", stops)
	}

	// The inactivity timer was cancelled; a late fire must be a no-op
	time.Sleep(120 * time.Millisecond)
	_, stops = sender.counts()
	if stops != 1 {
		t.Errorf("Expected cancelled timer to be a no-op, got %d stops", stops)
	}

	// Input after Close is ignored entirely
	d.InputChanged()
	starts, _ := sender.counts()
	if starts != 1 {
		t.Errorf("Expected no start after Close, got %d", starts)
	}
}

// TestTypingDebouncer_StopWithoutTypingIsNoop tests that terminal actions in
// the idle state emit nothing
func TestTypingDebouncer_StopWithoutTypingIsNoop(t *testing.T) {
	sender := &fakeSender{}
	d := newTypingDebouncer(sender, "t1", "Alice", 0, 0)
	defer d.Close()

	d.Stop()

	starts, stops := sender.counts()
	if starts != 0 || stops != 0 {
		t.Errorf("Expected no signals without input, got starts=%d stops=%d", starts, stops)
	}
}
