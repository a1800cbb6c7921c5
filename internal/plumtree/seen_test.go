package plumtree

import (
	"testing"
	"time"
)

func TestSeenSet_TTLExpiry(t *testing.T) {
	s := newSeenSet(10*time.Millisecond, 0)
	now := time.Now()
	s.Add("m1", now)
	if !s.Has("m1", now) {
		t.Fatal("expected m1 to be seen immediately after Add")
	}
	if s.Has("m1", now.Add(20*time.Millisecond)) {
		t.Fatal("expected m1 to have expired after the TTL")
	}
}

func TestSeenSet_CapacityEviction(t *testing.T) {
	s := newSeenSet(0, 2)
	now := time.Now()
	s.Add("m1", now)
	s.Add("m2", now.Add(time.Millisecond))
	s.Add("m3", now.Add(2*time.Millisecond))

	if len(s.entries) != 2 {
		t.Fatalf("expected capacity-bounded set to hold 2 entries, got %d", len(s.entries))
	}
	if s.Has("m1", now) {
		t.Fatal("expected the oldest entry m1 to have been evicted")
	}
}

func TestMessageStore_RingBufferEviction(t *testing.T) {
	s := newMessageStore(0, 2)
	now := time.Now()
	s.Add(Gossip{ID: "m1"}, now)
	s.Add(Gossip{ID: "m2"}, now)
	s.Add(Gossip{ID: "m3"}, now)

	if _, ok := s.Get("m1", now); ok {
		t.Fatal("expected m1 evicted from a capacity-2 ring buffer after a third add")
	}
	if _, ok := s.Get("m3", now); !ok {
		t.Fatal("expected most recently added message to still be present")
	}
}

func TestMessageStore_TTLExpiry(t *testing.T) {
	s := newMessageStore(10*time.Millisecond, 0)
	now := time.Now()
	s.Add(Gossip{ID: "m1"}, now)
	if _, ok := s.Get("m1", now.Add(20*time.Millisecond)); ok {
		t.Fatal("expected expired message to be unavailable")
	}
}
