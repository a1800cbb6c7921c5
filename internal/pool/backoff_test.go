package pool

import (
	"testing"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// zeroJitter returns 0.5 so Delay's u = rnd()*2-1 = 0, i.e. no jitter
// applied — used where exact deterministic values matter.
func zeroJitter() float64 { return 0.5 }

// TestBackoffStrategy_S3 implements scenario S3 from spec §8: default
// strategy, delay(0) in [90ms,110ms], delay(1) in [180ms,220ms],
// delay(2) in [360ms,440ms].
func TestBackoffStrategy_S3(t *testing.T) {
	s := DefaultBackoffStrategy()
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{0, 90 * time.Millisecond, 110 * time.Millisecond},
		{1, 180 * time.Millisecond, 220 * time.Millisecond},
		{2, 360 * time.Millisecond, 440 * time.Millisecond},
	}
	// Exercise the full jitter range, not just the midpoint, since the
	// scenario's bounds are exactly the jittered envelope.
	for _, c := range cases {
		for _, u := range []float64{0, 0.25, 0.5, 0.75, 1} {
			d := s.Delay(c.attempt, func() float64 { return u })
			if d < c.min || d > c.max {
				t.Errorf("attempt %d u=%v: delay %v out of [%v,%v]", c.attempt, u, d, c.min, c.max)
			}
		}
	}
}

func TestDialBackoff_MonotoneUntilSuccess(t *testing.T) {
	b := NewDialBackoff(BackoffStrategy{Kind: BackoffConstant, Base: time.Hour}, zeroJitter)
	peer := p2pcore.PeerID("A")

	if b.ShouldBackOff(peer) {
		t.Fatal("expected no backoff before any failure")
	}
	b.RecordFailure(peer)
	if !b.ShouldBackOff(peer) {
		t.Fatal("expected backoff active after failure")
	}
	if b.FailureCount(peer) != 1 {
		t.Fatalf("expected failure count 1, got %d", b.FailureCount(peer))
	}
	b.RecordFailure(peer)
	if b.FailureCount(peer) != 2 {
		t.Fatalf("expected failure count 2, got %d", b.FailureCount(peer))
	}
	b.RecordSuccess(peer)
	if b.ShouldBackOff(peer) {
		t.Fatal("expected backoff cleared after success")
	}
	if b.FailureCount(peer) != 0 {
		t.Fatalf("expected failure count reset, got %d", b.FailureCount(peer))
	}
}

func TestDialBackoff_LazyEviction(t *testing.T) {
	b := NewDialBackoff(BackoffStrategy{Kind: BackoffConstant, Base: time.Millisecond}, zeroJitter)
	peer := p2pcore.PeerID("A")
	b.RecordFailure(peer)
	time.Sleep(5 * time.Millisecond)
	if b.ShouldBackOff(peer) {
		t.Fatal("expected expired backoff entry to evict lazily")
	}
}

func TestBackoffKinds(t *testing.T) {
	exp := BackoffStrategy{Kind: BackoffExponential, Base: time.Second, Mult: 2, Max: 10 * time.Second}
	if got := exp.Delay(3, zeroJitter); got != 8*time.Second {
		t.Fatalf("expected 8s, got %v", got)
	}
	if got := exp.Delay(10, zeroJitter); got != 10*time.Second {
		t.Fatalf("expected cap at 10s, got %v", got)
	}

	lin := BackoffStrategy{Kind: BackoffLinear, Base: time.Second, Inc: time.Second, Max: 3 * time.Second}
	if got := lin.Delay(5, zeroJitter); got != 3*time.Second {
		t.Fatalf("expected cap at 3s, got %v", got)
	}

	constant := BackoffStrategy{Kind: BackoffConstant, Base: 5 * time.Second}
	if got := constant.Delay(100, zeroJitter); got != 5*time.Second {
		t.Fatalf("expected constant 5s, got %v", got)
	}
}
