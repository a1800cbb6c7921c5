package plumtree

import (
	"sync"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// LazyPushBuffer batches IHave announcements destined for a given peer,
// delaying their send by a short window so many near-simultaneous
// publishes collapse into one RPC, and capping each flush to
// MaxBatchSize entries so a single flood of publishes can't produce an
// unbounded IHave message.
type LazyPushBuffer struct {
	mu           sync.Mutex
	delay        time.Duration
	maxBatchSize int
	maxTotal     int
	pending      map[p2pcore.PeerID][]IHaveEntry
	timers       map[p2pcore.PeerID]*time.Timer
	flush        func(peer p2pcore.PeerID, entries []IHaveEntry)
}

// NewLazyPushBuffer constructs a buffer that calls flush once per peer
// per delay window, or immediately once maxBatchSize entries accumulate.
func NewLazyPushBuffer(delay time.Duration, maxBatchSize, maxTotal int, flush func(p2pcore.PeerID, []IHaveEntry)) *LazyPushBuffer {
	return &LazyPushBuffer{
		delay:        delay,
		maxBatchSize: maxBatchSize,
		maxTotal:     maxTotal,
		pending:      make(map[p2pcore.PeerID][]IHaveEntry),
		timers:       make(map[p2pcore.PeerID]*time.Timer),
		flush:        flush,
	}
}

// Add enqueues an IHave entry for peer, scheduling (or reusing) the
// delayed flush timer.
func (b *LazyPushBuffer) Add(peer p2pcore.PeerID, entry IHaveEntry) {
	b.mu.Lock()
	entries := b.pending[peer]
	if b.maxTotal > 0 && len(entries) >= b.maxTotal {
		b.mu.Unlock()
		return
	}
	entries = append(entries, entry)
	b.pending[peer] = entries

	if b.maxBatchSize > 0 && len(entries) >= b.maxBatchSize {
		b.flushLocked(peer)
		b.mu.Unlock()
		return
	}

	if _, scheduled := b.timers[peer]; !scheduled {
		b.timers[peer] = time.AfterFunc(b.delay, func() { b.flushPeer(peer) })
	}
	b.mu.Unlock()
}

func (b *LazyPushBuffer) flushPeer(peer p2pcore.PeerID) {
	b.mu.Lock()
	b.flushLocked(peer)
	b.mu.Unlock()
}

// flushLocked must be called with b.mu held.
func (b *LazyPushBuffer) flushLocked(peer p2pcore.PeerID) {
	entries := b.pending[peer]
	delete(b.pending, peer)
	if t, ok := b.timers[peer]; ok {
		t.Stop()
		delete(b.timers, peer)
	}
	if len(entries) == 0 {
		return
	}
	go b.flush(peer, entries)
}

// FlushAll immediately flushes every peer's pending buffer, used on
// shutdown to avoid losing announcements to the delay window.
func (b *LazyPushBuffer) FlushAll() {
	b.mu.Lock()
	peers := make([]p2pcore.PeerID, 0, len(b.pending))
	for p := range b.pending {
		peers = append(peers, p)
	}
	b.mu.Unlock()
	for _, p := range peers {
		b.flushPeer(p)
	}
}

// Forget drops any pending entries and cancels the timer for peer,
// called when a peer disconnects.
func (b *LazyPushBuffer) Forget(peer p2pcore.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, peer)
	if t, ok := b.timers[peer]; ok {
		t.Stop()
		delete(b.timers, peer)
	}
}
