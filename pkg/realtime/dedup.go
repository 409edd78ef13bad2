package realtime

import (
	"sync"
	"time"
)

const (
	// DefaultDedupCap bounds the delivered-message record
	DefaultDedupCap = 100
	// DefaultDedupHorizon is how long an entry stays relevant. Replays after
	// a reconnect arrive well inside this window
	DefaultDedupHorizon = 10 * time.Minute
)

type dedupKey struct {
	messageID string
	threadID  string
}

type dedupEntry struct {
	key  dedupKey
	seen time.Time
}

// Deduplicator is a bounded filter over (messageID, threadID) pairs already
// applied to local state. It is not a source of truth: dropping an entry only
// re-opens the door for a replay, it never loses data
// FUNCTIONAL DISCOVERY: the key is the immutable server-assigned message ID,
// so a genuinely new message can never be misclassified as a duplicate
type Deduplicator struct {
	mu      sync.Mutex
	cap     int
	horizon time.Duration
	entries []dedupEntry // insertion order, oldest first
	index   map[dedupKey]struct{}
	now     func() time.Time // replaceable in tests
}

// NewDeduplicator creates a deduplicator with the given size cap and age
// horizon. Zero values select the defaults
func NewDeduplicator(capacity int, horizon time.Duration) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultDedupCap
	}
	if horizon <= 0 {
		horizon = DefaultDedupHorizon
	}
	return &Deduplicator{
		cap:     capacity,
		horizon: horizon,
		index:   make(map[dedupKey]struct{}),
		now:     time.Now,
	}
}

// ShouldApply reports whether the event identified by (messageID, threadID)
// should be applied to local state, recording it if so. Pure synchronous
// filter: first call for a pair returns true, every later call false
func (d *Deduplicator) ShouldApply(messageID, threadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.purgeExpired(now)

	key := dedupKey{messageID: messageID, threadID: threadID}
	if _, exists := d.index[key]; exists {
		return false
	}

	d.entries = append(d.entries, dedupEntry{key: key, seen: now})
	d.index[key] = struct{}{}

	// Prune the oldest half in one batch when over the cap.
	// TECHNICAL DISCOVERY: batch pruning keeps amortized insert cost constant
	// instead of shifting the slice on every overflow
	if len(d.entries) > d.cap {
		cut := len(d.entries) / 2
		for _, old := range d.entries[:cut] {
			delete(d.index, old.key)
		}
		remaining := make([]dedupEntry, len(d.entries)-cut)
		copy(remaining, d.entries[cut:])
		d.entries = remaining
	}

	return true
}

// purgeExpired drops entries older than the horizon. Entries are held in
// insertion order so expiry is a prefix scan
func (d *Deduplicator) purgeExpired(now time.Time) {
	cut := 0
	for cut < len(d.entries) && now.Sub(d.entries[cut].seen) > d.horizon {
		delete(d.index, d.entries[cut].key)
		cut++
	}
	if cut > 0 {
		d.entries = d.entries[cut:]
	}
}

// Len returns the number of recorded pairs
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
