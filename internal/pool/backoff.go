package pool

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// BackoffKind selects the delay curve, per spec §4.2.
type BackoffKind int

const (
	BackoffExponential BackoffKind = iota
	BackoffConstant
	BackoffLinear
)

// BackoffStrategy is a pure function from attempt count to delay, plus
// symmetric jitter. Grounded on peermanager.go's own formula
// (backoffBase * (1 << min(failures, 5)), capped at backoffMax), lifted
// here into a general, peer-manager-independent pure function so backoff
// and the Connection Pool no longer share state directly.
type BackoffStrategy struct {
	Kind   BackoffKind
	Base   time.Duration
	Mult   float64       // exponential
	Inc    time.Duration // linear
	Max    time.Duration
	Jitter float64 // in [0,1]
}

// DefaultBackoffStrategy returns the production default: exp(100ms, x2,
// 5min, 10% jitter).
func DefaultBackoffStrategy() BackoffStrategy {
	return BackoffStrategy{
		Kind:   BackoffExponential,
		Base:   p2pcore.DefaultBackoffBase,
		Mult:   p2pcore.DefaultBackoffMult,
		Max:    p2pcore.DefaultBackoffMax,
		Jitter: p2pcore.DefaultBackoffJitter,
	}
}

// Delay returns the backoff delay for the given zero-based attempt
// number, jitter included. rnd is the randomness source for jitter
// (callers pass rand.Float64 in production and a deterministic stub in
// tests).
func (s BackoffStrategy) Delay(attempt int, rnd func() float64) time.Duration {
	var base time.Duration
	switch s.Kind {
	case BackoffConstant:
		base = s.Base
	case BackoffLinear:
		d := s.Base + time.Duration(attempt)*s.Inc
		if s.Max > 0 && d > s.Max {
			d = s.Max
		}
		base = d
	default: // exponential
		mult := s.Mult
		if mult <= 0 {
			mult = 2
		}
		scaled := float64(s.Base) * math.Pow(mult, float64(attempt))
		d := time.Duration(scaled)
		if s.Max > 0 && d > s.Max {
			d = s.Max
		}
		base = d
	}

	if s.Jitter <= 0 {
		return base
	}
	u := rnd()*2 - 1 // U(-1, 1)
	factor := 1 + u*s.Jitter
	delay := time.Duration(float64(base) * factor)
	if delay < 0 {
		delay = 0
	}
	return delay
}

// backoffEntry is one peer's dial-suppression state.
type backoffEntry struct {
	attempts     int
	backoffUntil time.Time
}

// DialBackoff suppresses rapid redial attempts per peer, per spec §4.2.
type DialBackoff struct {
	mu       sync.Mutex
	strategy BackoffStrategy
	rnd      func() float64
	entries  map[p2pcore.PeerID]*backoffEntry
}

// NewDialBackoff constructs a DialBackoff using strategy. If rnd is nil,
// math/rand.Float64 is used.
func NewDialBackoff(strategy BackoffStrategy, rnd func() float64) *DialBackoff {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &DialBackoff{
		strategy: strategy,
		rnd:      rnd,
		entries:  make(map[p2pcore.PeerID]*backoffEntry),
	}
}

// ShouldBackOff reports whether peer is currently suppressed, lazily
// evicting an expired entry.
func (b *DialBackoff) ShouldBackOff(peer p2pcore.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[peer]
	if !ok {
		return false
	}
	if time.Now().Before(e.backoffUntil) {
		return true
	}
	delete(b.entries, peer)
	return false
}

// RecordFailure increments the attempt counter and recomputes
// backoffUntil.
func (b *DialBackoff) RecordFailure(peer p2pcore.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[peer]
	if !ok {
		e = &backoffEntry{}
		b.entries[peer] = e
	}
	delay := b.strategy.Delay(e.attempts, b.rnd)
	e.attempts++
	e.backoffUntil = time.Now().Add(delay)
}

// RecordSuccess erases the peer's backoff entry entirely.
func (b *DialBackoff) RecordSuccess(peer p2pcore.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, peer)
}

// FailureCount returns the current consecutive-failure count for peer.
func (b *DialBackoff) FailureCount(peer p2pcore.PeerID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[peer]; ok {
		return e.attempts
	}
	return 0
}

// Cleanup purges entries whose backoff window has already elapsed.
func (b *DialBackoff) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for p, e := range b.entries {
		if !now.Before(e.backoffUntil) {
			delete(b.entries, p)
		}
	}
}

// Clear removes every tracked entry (shutdown).
func (b *DialBackoff) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[p2pcore.PeerID]*backoffEntry)
}
