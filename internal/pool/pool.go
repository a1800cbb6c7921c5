package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// pendingDial is the deduplication handle for an in-flight dial, per the
// Design Notes' "store the running operation's completion handle keyed by
// peer" rule. Concurrent callers share the same done channel and result.
type pendingDial struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// reconnectEntry is the auto-reconnect registry row for a peer.
type reconnectEntry struct {
	addr p2pcore.Multiaddr
}

// Pool is the Connection Pool: the central authoritative registry of
// connections described in spec §4.1. All mutation is serialized under mu;
// no suspension ever happens while mu is held, per the Design's
// non-negotiable "no awaits inside the lock" rule.
type Pool struct {
	mu sync.Mutex

	limits ConnectionLimits
	events *p2pcore.Broadcaster

	nextID      ConnectionID
	conns       map[ConnectionID]*ManagedConnection
	peerConns   map[p2pcore.PeerID]map[ConnectionID]struct{}

	pendingDials map[p2pcore.PeerID]*pendingDial
	autoReconnect map[p2pcore.PeerID]reconnectEntry
}

// New constructs an empty Pool with the given limits and event sink.
// events may be nil, in which case events are simply not emitted.
func New(limits ConnectionLimits, events *p2pcore.Broadcaster) *Pool {
	return &Pool{
		limits:        limits,
		events:        events,
		conns:         make(map[ConnectionID]*ManagedConnection),
		peerConns:     make(map[p2pcore.PeerID]map[ConnectionID]struct{}),
		pendingDials:  make(map[p2pcore.PeerID]*pendingDial),
		autoReconnect: make(map[p2pcore.PeerID]reconnectEntry),
	}
}

func (p *Pool) emit(kind p2pcore.EventKind, attrs map[string]any) {
	if p.events != nil {
		p.events.EmitKind(kind, attrs)
	}
}

// Add registers a new connection and returns its ID.
func (p *Pool) Add(conn any, peer p2pcore.PeerID, addr p2pcore.Multiaddr, dir p2pcore.Direction) ConnectionID {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	now := time.Now()
	p.conns[id] = &ManagedConnection{
		ID:           id,
		Peer:         peer,
		RemoteAddr:   addr,
		Direction:    dir,
		Conn:         conn,
		State:        StateConnected(),
		RetryCount:   0,
		LastActivity: now,
		ConnectedAt:  now,
		Tags:         make(map[string]struct{}),
	}
	if p.peerConns[peer] == nil {
		p.peerConns[peer] = make(map[ConnectionID]struct{})
	}
	p.peerConns[peer][id] = struct{}{}
	return id
}

// Remove deletes the entry and returns it (nil if absent), pruning the
// peer bucket if it becomes empty.
func (p *Pool) Remove(id ConnectionID) *ManagedConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(id)
}

func (p *Pool) removeLocked(id ConnectionID) *ManagedConnection {
	m, ok := p.conns[id]
	if !ok {
		return nil
	}
	delete(p.conns, id)
	if bucket := p.peerConns[m.Peer]; bucket != nil {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(p.peerConns, m.Peer)
		}
	}
	return m
}

// RemoveForPeer bulk-removes every connection tracked for peer.
func (p *Pool) RemoveForPeer(peer p2pcore.PeerID) []*ManagedConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.peerConns[peer]
	if len(bucket) == 0 {
		return nil
	}
	ids := make([]ConnectionID, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	out := make([]*ManagedConnection, 0, len(ids))
	for _, id := range ids {
		if m := p.removeLocked(id); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// UpdateState transitions id to newState. Transitioning into a
// disconnected variant refreshes LastActivity so later cleanup-threshold
// comparisons are accurate.
func (p *Pool) UpdateState(id ConnectionID, newState ConnectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.conns[id]
	if !ok {
		return
	}
	m.State = newState
	if newState.IsDisconnected() {
		m.LastActivity = time.Now()
	}
}

// UpdateConnection replaces the handle after a reconnection, marking the
// entry connected again and refreshing both timestamps.
func (p *Pool) UpdateConnection(id ConnectionID, conn any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.conns[id]
	if !ok {
		return
	}
	now := time.Now()
	m.Conn = conn
	m.State = StateConnected()
	m.LastActivity = now
	m.ConnectedAt = now
}

// Connection performs the atomic lookup+activity-record described in
// spec §4.1: it scans the peer's connections under the lock and returns
// the first connected entry's handle, recording activity in the same
// critical section to close the TOCTOU window between lookup and use.
func (p *Pool) Connection(peer p2pcore.PeerID) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.peerConns[peer] {
		m := p.conns[id]
		if m != nil && m.State.IsConnected() && m.Conn != nil {
			m.LastActivity = time.Now()
			return m.Conn
		}
	}
	return nil
}

// Connections returns every live handle for peer (no activity recording;
// use Connection for the hot dial-reuse path).
func (p *Pool) Connections(peer p2pcore.PeerID) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for id := range p.peerConns[peer] {
		if m := p.conns[id]; m != nil && m.State.IsConnected() && m.Conn != nil {
			out = append(out, m.Conn)
		}
	}
	return out
}

// ManagedConnectionByID returns the tracked entry itself (not a copy), or
// nil.
func (p *Pool) ManagedConnectionByID(id ConnectionID) *ManagedConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[id]
}

// ConnectionState returns the best-priority state for peer: connected if
// any entry is connected, else connecting/reconnecting if any is, else
// whatever the first entry holds. Returns (state, false) if untracked.
func (p *Pool) ConnectionState(peer p2pcore.PeerID) (ConnectionState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best ConnectionState
	found := false
	for id := range p.peerConns[peer] {
		m := p.conns[id]
		if m == nil {
			continue
		}
		if !found {
			best = m.State
			found = true
			continue
		}
		if m.State.IsConnected() {
			best = m.State
			break
		}
		if (m.State.IsConnecting() || m.State.IsReconnecting()) && !best.IsConnected() {
			best = m.State
		}
	}
	return best, found
}

// ConnectionCount returns the number of connected (not merely tracked)
// entries.
func (p *Pool) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.conns {
		if m.State.IsConnected() {
			n++
		}
	}
	return n
}

// TotalEntryCount returns the number of tracked entries in any state
// (debug counter).
func (p *Pool) TotalEntryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// InboundCount and OutboundCount count connected entries by direction.
func (p *Pool) InboundCount() int  { return p.countByDirection(p2pcore.DirInbound) }
func (p *Pool) OutboundCount() int { return p.countByDirection(p2pcore.DirOutbound) }

func (p *Pool) countByDirection(dir p2pcore.Direction) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.conns {
		if m.State.IsConnected() && m.Direction == dir {
			n++
		}
	}
	return n
}

// Tag/Untag/Protect/Unprotect act on every tracked connection for peer.

func (p *Pool) Tag(peer p2pcore.PeerID, tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.peerConns[peer] {
		if m := p.conns[id]; m != nil {
			m.Tags[tag] = struct{}{}
		}
	}
}

func (p *Pool) Untag(peer p2pcore.PeerID, tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.peerConns[peer] {
		if m := p.conns[id]; m != nil {
			delete(m.Tags, tag)
		}
	}
}

func (p *Pool) Protect(peer p2pcore.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.peerConns[peer] {
		if m := p.conns[id]; m != nil {
			m.Protected = true
		}
	}
}

func (p *Pool) Unprotect(peer p2pcore.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.peerConns[peer] {
		if m := p.conns[id]; m != nil {
			m.Protected = false
		}
	}
}

// CanAcceptInbound reports whether another inbound connection fits under
// the configured limits.
func (p *Pool) CanAcceptInbound() bool {
	if p.limits.MaxInbound <= 0 {
		return true
	}
	return p.InboundCount() < p.limits.MaxInbound
}

// CanDialOutbound reports whether another outbound connection fits under
// the configured limits.
func (p *Pool) CanDialOutbound() bool {
	if p.limits.MaxOutbound <= 0 {
		return true
	}
	return p.OutboundCount() < p.limits.MaxOutbound
}

// CanConnectTo reports whether another connection to peer fits under
// MaxPerPeer, counting only connected entries.
func (p *Pool) CanConnectTo(peer p2pcore.PeerID) bool {
	if p.limits.MaxPerPeer <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id := range p.peerConns[peer] {
		if m := p.conns[id]; m != nil && m.State.IsConnected() {
			n++
		}
	}
	return n < p.limits.MaxPerPeer
}

// --- Pending dial deduplication ---

// HasPendingDial reports whether a dial to peer is already in flight.
func (p *Pool) HasPendingDial(peer p2pcore.PeerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pendingDials[peer]
	return ok
}

// PendingDial returns the done channel for an in-flight dial so a caller
// can await the same outcome, plus the eventual error (valid only after
// done closes).
func (p *Pool) PendingDial(peer p2pcore.PeerID) (done <-chan struct{}, errOf func() error, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, found := p.pendingDials[peer]
	if !found {
		return nil, nil, false
	}
	return d.done, func() error { return d.err }, true
}

// RegisterPendingDial records a new in-flight dial for peer, returning a
// completion function the caller must invoke exactly once with the dial's
// outcome.
func (p *Pool) RegisterPendingDial(ctx context.Context, peer p2pcore.PeerID) (complete func(error), cancel context.CancelFunc) {
	dialCtx, dialCancel := context.WithCancel(ctx)
	d := &pendingDial{cancel: dialCancel, done: make(chan struct{})}

	p.mu.Lock()
	p.pendingDials[peer] = d
	p.mu.Unlock()

	var once sync.Once
	complete = func(err error) {
		once.Do(func() {
			d.err = err
			close(d.done)
			p.mu.Lock()
			if p.pendingDials[peer] == d {
				delete(p.pendingDials, peer)
			}
			p.mu.Unlock()
		})
	}
	_ = dialCtx
	return complete, dialCancel
}

// RemovePendingDial forcibly clears the pending-dial entry for peer
// without signaling completion (used only for forced teardown paths).
func (p *Pool) RemovePendingDial(peer p2pcore.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pendingDials, peer)
}

// CancelAllPendingDials cancels every in-flight dial, for shutdown.
func (p *Pool) CancelAllPendingDials() {
	p.mu.Lock()
	dials := make([]*pendingDial, 0, len(p.pendingDials))
	for _, d := range p.pendingDials {
		dials = append(dials, d)
	}
	p.pendingDials = make(map[p2pcore.PeerID]*pendingDial)
	p.mu.Unlock()

	for _, d := range dials {
		d.cancel()
	}
}

// --- Auto-reconnect registry ---

func (p *Pool) EnableAutoReconnect(peer p2pcore.PeerID, addr p2pcore.Multiaddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoReconnect[peer] = reconnectEntry{addr: addr}
}

func (p *Pool) DisableAutoReconnect(peer p2pcore.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.autoReconnect, peer)
}

func (p *Pool) ReconnectAddress(peer p2pcore.PeerID) (p2pcore.Multiaddr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.autoReconnect[peer]
	if !ok {
		return nil, false
	}
	return e.addr, true
}

func (p *Pool) isAutoReconnect(peer p2pcore.PeerID) bool {
	_, ok := p.autoReconnect[peer]
	return ok
}

// --- Retry counters ---

func (p *Pool) IncrementRetryCount(id ConnectionID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.conns[id]
	if !ok {
		return 0
	}
	m.RetryCount++
	return m.RetryCount
}

func (p *Pool) ResetRetryCount(id ConnectionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.conns[id]; ok {
		m.RetryCount = 0
	}
}

// --- Trimming ---

// TrimIfNeeded runs the watermark trimming algorithm from spec §4.1 and
// returns a diagnostic report. Connections selected for removal are
// already removed from the pool by the time this returns.
func (p *Pool) TrimIfNeeded() ConnectionTrimReport {
	p.mu.Lock()
	now := time.Now()

	active := 0
	for _, m := range p.conns {
		if m.State.IsConnected() {
			active++
		}
	}
	if active <= p.limits.HighWatermark {
		p.mu.Unlock()
		return ConnectionTrimReport{Active: active}
	}

	target := active - p.limits.LowWatermark
	var candidates []*ManagedConnection
	for _, m := range p.conns {
		if m.State.IsConnected() && !m.Protected && !m.ConnectedAt.Add(p.limits.GracePeriod).After(now) {
			candidates = append(candidates, m)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.tagCount() != b.tagCount() {
			return a.tagCount() < b.tagCount()
		}
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.Before(b.LastActivity)
		}
		return dirRank(a.Direction) < dirRank(b.Direction)
	})

	n := target
	if n > len(candidates) {
		n = len(candidates)
	}
	if n < 0 {
		n = 0
	}

	report := ConnectionTrimReport{
		Target:    target,
		Trimmable: len(candidates),
		Active:    active,
	}
	for i := 0; i < n; i++ {
		m := candidates[i]
		idle := now.Sub(m.LastActivity)
		report.Trimmed = append(report.Trimmed, TrimmedConnection{
			Rank:         i + 1,
			ID:           m.ID,
			Peer:         m.Peer,
			TagCount:     m.tagCount(),
			IdleDuration: idle,
			Direction:    m.Direction,
		})
		p.removeLocked(m.ID)
	}
	report.Selected = n
	report.Constrained = n < target
	p.mu.Unlock()

	for _, t := range report.Trimmed {
		p.emit(p2pcore.EventTrimmedWithContext, map[string]any{
			"rank": t.Rank, "id": t.ID, "peer": t.Peer, "tagCount": t.TagCount,
			"idleDuration": t.IdleDuration, "direction": t.Direction.String(),
		})
	}
	if report.Constrained {
		p.emit(p2pcore.EventTrimConstrained, map[string]any{
			"target": report.Target, "selected": report.Selected,
			"trimmable": report.Trimmable, "active": report.Active,
		})
	}
	return report
}

func dirRank(d p2pcore.Direction) int {
	if d == p2pcore.DirInbound {
		return 0
	}
	return 1
}

// CleanupStaleEntries removes failed entries unconditionally and
// disconnected entries idle past threshold, unless the peer is registered
// for auto-reconnect. Uses two passes to avoid iterator invalidation.
func (p *Pool) CleanupStaleEntries(threshold time.Duration) []*ManagedConnection {
	p.mu.Lock()
	now := time.Now()

	var toRemove []ConnectionID
	for id, m := range p.conns {
		if m.State.IsFailed() {
			toRemove = append(toRemove, id)
			continue
		}
		if m.State.IsDisconnected() && m.LastActivity.Add(threshold).Before(now) && !p.isAutoReconnect(m.Peer) {
			toRemove = append(toRemove, id)
		}
	}

	var removed []*ManagedConnection
	for _, id := range toRemove {
		if m := p.removeLocked(id); m != nil {
			removed = append(removed, m)
		}
	}
	p.mu.Unlock()
	return removed
}

// IdleConnections returns connected entries idle at least threshold.
func (p *Pool) IdleConnections(threshold time.Duration) []*ManagedConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	var out []*ManagedConnection
	for _, m := range p.conns {
		if m.State.IsConnected() && !m.LastActivity.Add(threshold).After(now) {
			out = append(out, m)
		}
	}
	return out
}
