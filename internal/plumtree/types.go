// Package plumtree implements the Plumtree epidemic broadcast tree: a
// gossip layer that converges each topic's peer set into a spanning tree
// of eager-push links backed by a mesh of lazy-push links used to repair
// the tree when an eager link goes quiet.
package plumtree

import (
	"github.com/google/uuid"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// MessageID uniquely names a gossiped message for deduplication.
type MessageID string

// NewMessageID mints a fresh message identifier for a freshly published
// message.
func NewMessageID() MessageID {
	return MessageID(uuid.NewString())
}

// Gossip is a single broadcast message moving through the tree.
type Gossip struct {
	ID     MessageID
	Topic  string
	Origin p2pcore.PeerID
	Hops   uint32
	Data   []byte
}

// IHaveEntry announces that the sender has a message available for lazy
// pull, without paying the cost of pushing its full payload.
type IHaveEntry struct {
	Topic string
	ID    MessageID
}

// TopicState is a topic's eager/lazy peer partition, per spec §3's
// RouterState.
type TopicState struct {
	Eager map[p2pcore.PeerID]struct{}
	Lazy  map[p2pcore.PeerID]struct{}
}

func newTopicState() *TopicState {
	return &TopicState{
		Eager: make(map[p2pcore.PeerID]struct{}),
		Lazy:  make(map[p2pcore.PeerID]struct{}),
	}
}

func (t *TopicState) promoteToEager(peer p2pcore.PeerID) {
	delete(t.Lazy, peer)
	t.Eager[peer] = struct{}{}
}

func (t *TopicState) demoteToLazy(peer p2pcore.PeerID) {
	delete(t.Eager, peer)
	t.Lazy[peer] = struct{}{}
}

func (t *TopicState) remove(peer p2pcore.PeerID) {
	delete(t.Eager, peer)
	delete(t.Lazy, peer)
}

func (t *TopicState) eagerPeers(except ...p2pcore.PeerID) []p2pcore.PeerID {
	return filterPeers(t.Eager, except)
}

func (t *TopicState) lazyPeers(except ...p2pcore.PeerID) []p2pcore.PeerID {
	return filterPeers(t.Lazy, except)
}

func filterPeers(set map[p2pcore.PeerID]struct{}, except []p2pcore.PeerID) []p2pcore.PeerID {
	out := make([]p2pcore.PeerID, 0, len(set))
	for p := range set {
		skip := false
		for _, e := range except {
			if p == e {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, p)
		}
	}
	return out
}
