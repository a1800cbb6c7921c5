package plumtree

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// Transport is the outbound side of the wire: sending each RPC kind to a
// specific peer. Service (service.go) implements this over a real
// StreamOpener; tests can supply a recording fake directly.
type Transport interface {
	SendGossip(peer p2pcore.PeerID, g Gossip)
	SendIHave(peer p2pcore.PeerID, entries []IHaveEntry)
	SendGraft(peer p2pcore.PeerID, topic string, id MessageID)
	SendPrune(peer p2pcore.PeerID, topic string)
}

// Options configures a Router's timing and bounds, defaulting to the
// production values in spec §6.
type Options struct {
	IHaveTimeout         time.Duration
	LazyPushDelay        time.Duration
	MaxIHaveBatchSize    int
	MaxIHaveBufferTotal  int
	MaxMessageSize       int
	SeenTTL              time.Duration
	MaxSeenEntries       int
	MessageStoreTTL      time.Duration
	MessageStoreCapacity int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		IHaveTimeout:         p2pcore.DefaultIHaveTimeout,
		LazyPushDelay:        p2pcore.DefaultLazyPushDelay,
		MaxIHaveBatchSize:    p2pcore.DefaultMaxIHaveBatchSize,
		MaxIHaveBufferTotal:  p2pcore.DefaultMaxIHaveBatchSize * 4,
		MaxMessageSize:       p2pcore.DefaultMaxMessageSize,
		SeenTTL:              p2pcore.DefaultSeenTTL,
		MaxSeenEntries:       p2pcore.DefaultMaxSeenEntries,
		MessageStoreTTL:      p2pcore.DefaultMessageStoreTTL,
		MessageStoreCapacity: p2pcore.DefaultMessageStoreCapacity,
	}
}

type ihaveKey struct {
	topic string
	id    MessageID
}

// Router is the pure Plumtree state machine: eager/lazy peer sets per
// topic, gossip dedup, and the GRAFT/PRUNE repair protocol. It has no
// knowledge of how messages reach the wire; Transport does that.
type Router struct {
	mu     sync.Mutex
	self   p2pcore.PeerID
	opts   Options
	topics map[string]*TopicState

	seen  *seenSet
	store *messageStore
	lazy  *LazyPushBuffer

	ihaveTimers map[ihaveKey]*time.Timer
	ihaveFrom   map[ihaveKey]p2pcore.PeerID

	connected map[p2pcore.PeerID]struct{}

	transport Transport
	events    *p2pcore.Broadcaster
	log       *slog.Logger
	deliver   func(topic string, g Gossip)
}

// NewRouter constructs a Router. deliver is invoked once per newly seen
// message for a subscribed topic; it must not block.
func NewRouter(self p2pcore.PeerID, opts Options, transport Transport, events *p2pcore.Broadcaster, deliver func(string, Gossip)) *Router {
	r := &Router{
		self:      self,
		opts:      opts,
		topics:    make(map[string]*TopicState),
		seen:      newSeenSet(opts.SeenTTL, opts.MaxSeenEntries),
		store:     newMessageStore(opts.MessageStoreTTL, opts.MessageStoreCapacity),
		ihaveTimers: make(map[ihaveKey]*time.Timer),
		ihaveFrom:   make(map[ihaveKey]p2pcore.PeerID),
		connected:   make(map[p2pcore.PeerID]struct{}),
		transport:   transport,
		events:      events,
		log:         slog.Default().With("component", "plumtree.router"),
		deliver:     deliver,
	}
	r.lazy = NewLazyPushBuffer(opts.LazyPushDelay, opts.MaxIHaveBatchSize, opts.MaxIHaveBufferTotal, r.flushLazy)
	return r
}

func (r *Router) flushLazy(peer p2pcore.PeerID, entries []IHaveEntry) {
	r.transport.SendIHave(peer, entries)
}

// Subscribe joins topic, adding every currently connected peer to its
// eager set (the optimistic full-mesh starting point the Plumtree paper
// describes, pruned down as duplicates arrive).
func (r *Router) Subscribe(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[topic]; ok {
		return
	}
	ts := newTopicState()
	for peer := range r.connected {
		ts.Eager[peer] = struct{}{}
	}
	r.topics[topic] = ts
}

// Unsubscribe leaves topic, discarding its peer sets.
func (r *Router) Unsubscribe(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.topics, topic)
}

// Subscribed reports whether topic is currently joined.
func (r *Router) Subscribed(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.topics[topic]
	return ok
}

// MaxMessageSize returns the configured ceiling on a single published
// message's payload size.
func (r *Router) MaxMessageSize() int { return r.opts.MaxMessageSize }

// HandlePeerConnected adds peer to the eager set of every subscribed
// topic.
func (r *Router) HandlePeerConnected(peer p2pcore.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[peer] = struct{}{}
	for _, ts := range r.topics {
		ts.Eager[peer] = struct{}{}
	}
	r.emit(p2pcore.EventPeerConnected, peer, "")
}

// HandlePeerDisconnected removes peer from every topic's peer sets and
// cancels any IHave timers it was the candidate for.
func (r *Router) HandlePeerDisconnected(peer p2pcore.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connected, peer)
	for _, ts := range r.topics {
		ts.remove(peer)
	}
	for key, candidate := range r.ihaveFrom {
		if candidate == peer {
			if t, ok := r.ihaveTimers[key]; ok {
				t.Stop()
				delete(r.ihaveTimers, key)
			}
			delete(r.ihaveFrom, key)
		}
	}
	r.lazy.Forget(peer)
	r.emit(p2pcore.EventPeerDisconnected, peer, "")
}

// RegisterPublished originates a new message on topic, delivering data to
// the local subscriber path, and pushes it to the network: eagerly to
// eager peers, and as a lazy IHave announcement to lazy peers.
func (r *Router) RegisterPublished(topic string, data []byte) Gossip {
	g := Gossip{ID: NewMessageID(), Topic: topic, Origin: r.self, Hops: 0, Data: data}

	r.mu.Lock()
	now := time.Now()
	r.seen.Add(g.ID, now)
	r.store.Add(g, now)
	ts, ok := r.topics[topic]
	var eager, lazyPeers []p2pcore.PeerID
	if ok {
		eager = ts.eagerPeers()
		lazyPeers = ts.lazyPeers()
	}
	r.mu.Unlock()

	r.emit(p2pcore.EventMessagePublished, r.self, string(g.ID))
	if ok && r.deliver != nil {
		r.deliver(topic, g)
	}

	for _, p := range eager {
		r.transport.SendGossip(p, g)
	}
	entry := IHaveEntry{Topic: topic, ID: g.ID}
	for _, p := range lazyPeers {
		r.lazy.Add(p, entry)
	}
	return g
}

// HandleGossip processes an inbound full message from peer from. Returns
// true if the message was newly seen; a newly seen message is delivered
// and forwarded only when its topic is subscribed.
func (r *Router) HandleGossip(from p2pcore.PeerID, g Gossip) bool {
	r.mu.Lock()
	now := time.Now()
	ts, subscribed := r.topics[g.Topic]

	if r.seen.Has(g.ID, now) {
		if subscribed {
			ts.demoteToLazy(from)
		}
		r.mu.Unlock()
		r.emit(p2pcore.EventMessageDuplicate, from, string(g.ID))
		if subscribed {
			r.emit(p2pcore.EventPeerMovedToLazy, from, g.Topic)
		}
		r.transport.SendPrune(from, g.Topic)
		r.emit(p2pcore.EventPruneSent, from, g.Topic)
		return false
	}

	r.seen.Add(g.ID, now)
	r.store.Add(g, now)

	key := ihaveKey{topic: g.Topic, id: g.ID}
	if t, ok := r.ihaveTimers[key]; ok {
		t.Stop()
		delete(r.ihaveTimers, key)
		delete(r.ihaveFrom, key)
	}

	var eager, lazyPeers []p2pcore.PeerID
	if subscribed {
		ts.promoteToEager(from)
		eager = ts.eagerPeers(from, g.Origin)
		lazyPeers = ts.lazyPeers(from, g.Origin)
	}
	r.mu.Unlock()

	r.emit(p2pcore.EventMessageReceived, from, string(g.ID))
	if subscribed {
		r.emit(p2pcore.EventPeerAddedToEager, from, g.Topic)
	}
	if subscribed && r.deliver != nil {
		r.deliver(g.Topic, g)
	}

	forwarded := g
	forwarded.Hops++
	for _, p := range eager {
		r.transport.SendGossip(p, forwarded)
	}
	entry := IHaveEntry{Topic: g.Topic, ID: g.ID}
	for _, p := range lazyPeers {
		r.lazy.Add(p, entry)
	}
	return true
}

// HandleIHave processes an inbound lazy announcement, scheduling a
// GRAFT-triggering timeout for any entry not already seen.
func (r *Router) HandleIHave(from p2pcore.PeerID, entries []IHaveEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, e := range entries {
		if r.seen.Has(e.ID, now) {
			continue
		}
		key := ihaveKey{topic: e.Topic, id: e.ID}
		if _, scheduled := r.ihaveTimers[key]; scheduled {
			continue
		}
		r.ihaveFrom[key] = from
		r.ihaveTimers[key] = time.AfterFunc(r.opts.IHaveTimeout, func() {
			r.handleIHaveTimeout(e.Topic, e.ID)
		})
	}
}

// handleIHaveTimeout fires when an announced message hasn't arrived via
// eager push within the IHave timeout: it grafts the announcing peer
// into the eager set and asks it directly for the message.
func (r *Router) handleIHaveTimeout(topic string, id MessageID) {
	r.mu.Lock()
	key := ihaveKey{topic: topic, id: id}
	candidate, ok := r.ihaveFrom[key]
	delete(r.ihaveTimers, key)
	delete(r.ihaveFrom, key)
	if !ok {
		r.mu.Unlock()
		return
	}
	if r.seen.Has(id, time.Now()) {
		r.mu.Unlock()
		return
	}
	ts, subscribed := r.topics[topic]
	if subscribed {
		ts.promoteToEager(candidate)
	}
	r.mu.Unlock()

	r.emit(p2pcore.EventIHaveTimeout, candidate, string(id))
	r.transport.SendGraft(candidate, topic, id)
	r.emit(p2pcore.EventGraftSent, candidate, string(id))
}

// HandleGraft processes an inbound request to become an eager peer and,
// if possible, to resend a specific message immediately.
func (r *Router) HandleGraft(from p2pcore.PeerID, topic string, id MessageID) {
	r.mu.Lock()
	ts, subscribed := r.topics[topic]
	if subscribed {
		ts.promoteToEager(from)
	}
	g, haveIt := r.store.Get(id, time.Now())
	r.mu.Unlock()

	r.emit(p2pcore.EventGraftReceived, from, string(id))
	if haveIt {
		r.transport.SendGossip(from, g)
	}
}

// HandlePrune processes an inbound request to stop eager-pushing to the
// sender, demoting it to the lazy set instead.
func (r *Router) HandlePrune(from p2pcore.PeerID, topic string) {
	r.mu.Lock()
	ts, subscribed := r.topics[topic]
	if subscribed {
		ts.demoteToLazy(from)
	}
	r.mu.Unlock()
	r.emit(p2pcore.EventPruneReceived, from, topic)
}

// Cleanup purges expired seen-set and message-store entries. Intended to
// be called periodically by Service.
func (r *Router) Cleanup() {
	now := time.Now()
	r.seen.Cleanup(now)
	r.store.Cleanup(now)
}

// TopicPeers returns a snapshot of a topic's eager and lazy peer sets,
// for diagnostics and tests.
func (r *Router) TopicPeers(topic string) (eager, lazyPeers []p2pcore.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.topics[topic]
	if !ok {
		return nil, nil
	}
	return ts.eagerPeers(), ts.lazyPeers()
}

func (r *Router) emit(kind p2pcore.EventKind, peer p2pcore.PeerID, detail string) {
	if r.events == nil {
		return
	}
	r.events.EmitKind(kind, map[string]any{"peer": peer, "detail": detail})
}
