package reader

import (
	"fmt"
	"testing"
)

func TestSeenRingObserve(t *testing.T) {
	s := NewSeenRing(3)
	if !s.Observe("a") || !s.Observe("b") {
		t.Fatal("fresh ids must be new")
	}
	if s.Observe("a") {
		t.Fatal("repeated id must not be new")
	}
}

func TestSeenRingEvictsOldest(t *testing.T) {
	s := NewSeenRing(2)
	s.Observe("a")
	s.Observe("b")
	s.Observe("c") // evicts a
	if s.Observe("b") || s.Observe("c") {
		t.Fatal("recent ids must still be remembered")
	}
	if !s.Observe("a") {
		t.Fatal("evicted id must be new again")
	}
	if s.Len() != 2 {
		t.Fatalf("ring over capacity: %d", s.Len())
	}
}

func TestSeenRingDefaultLimit(t *testing.T) {
	s := NewSeenRing(0)
	for i := 0; i < 100; i++ {
		if !s.Observe(fmt.Sprintf("id-%d", i)) {
			t.Fatalf("id-%d reported as duplicate", i)
		}
	}
}
