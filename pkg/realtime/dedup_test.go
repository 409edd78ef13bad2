package realtime

import (
	"fmt"
	"testing"
	"time"
)

// TestDeduplicator_Idempotent tests that shouldApply returns true then false
// for any repeated pair
func TestDeduplicator_Idempotent(t *testing.T) {
	d := NewDeduplicator(100, time.Minute)

	if !d.ShouldApply("m1", "t1") {
		t.Error("First ShouldApply for a pair should return true")
	}
	if d.ShouldApply("m1", "t1") {
		t.Error("Second ShouldApply for the same pair should return false")
	}
}

// TestDeduplicator_InterleavingDoesNotAffectPairs tests independence of
// unrelated pairs
func TestDeduplicator_InterleavingDoesNotAffectPairs(t *testing.T) {
	d := NewDeduplicator(100, time.Minute)

	if !d.ShouldApply("m1", "t1") {
		t.Error("Expected true for new pair m1/t1")
	}
	if !d.ShouldApply("m2", "t1") {
		t.Error("Expected true for new pair m2/t1")
	}
	if !d.ShouldApply("m1", "t2") {
		t.Error("Same message ID in a different thread is a new pair")
	}
	if d.ShouldApply("m1", "t1") {
		t.Error("Expected false for repeated pair m1/t1 despite interleaving")
	}
	if d.ShouldApply("m2", "t1") {
		t.Error("Expected false for repeated pair m2/t1")
	}
}

// TestDeduplicator_EvictionBound tests the size cap and oldest-first batch
// eviction
func TestDeduplicator_EvictionBound(t *testing.T) {
	d := NewDeduplicator(10, time.Minute)

	for i := 0; i < 25; i++ {
		if !d.ShouldApply(fmt.Sprintf("m%d", i), "t1") {
			t.Errorf("Expected true for distinct key m%d", i)
		}
		if d.Len() > 10 {
			t.Fatalf("Record size %d exceeds cap 10", d.Len())
		}
	}

	// The oldest keys must have been evicted first: re-inserting an early
	// key succeeds again, while the most recent key is still recorded
	if !d.ShouldApply("m0", "t1") {
		t.Error("Oldest key should have been evicted and re-insertable")
	}
	if d.ShouldApply("m24", "t1") {
		t.Error("Most recent key should still be recorded")
	}
}

// TestDeduplicator_HorizonPurge tests that entries older than the horizon
// are proactively purged
func TestDeduplicator_HorizonPurge(t *testing.T) {
	d := NewDeduplicator(100, 10*time.Minute)

	base := time.Now()
	d.now = func() time.Time { return base }

	d.ShouldApply("m1", "t1")
	d.ShouldApply("m2", "t1")

	// Advance past the horizon; the next insert purges both old entries
	d.now = func() time.Time { return base.Add(11 * time.Minute) }

	if !d.ShouldApply("m3", "t1") {
		t.Error("Expected true for new key after horizon")
	}
	if d.Len() != 1 {
		t.Errorf("Expected expired entries purged, got len %d", d.Len())
	}
	if !d.ShouldApply("m1", "t1") {
		t.Error("Expired entry should be treated as new again")
	}
}

// TestDeduplicator_DefaultsApplied tests zero-value config selection
func TestDeduplicator_DefaultsApplied(t *testing.T) {
	d := NewDeduplicator(0, 0)
	if d.cap != DefaultDedupCap {
		t.Errorf("Expected default cap %d, got %d", DefaultDedupCap, d.cap)
	}
	if d.horizon != DefaultDedupHorizon {
		t.Errorf("Expected default horizon %v, got %v", DefaultDedupHorizon, d.horizon)
	}
}
