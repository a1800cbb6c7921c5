package plumtree

import (
	"sync"
	"testing"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

type sentIHave struct {
	peer    p2pcore.PeerID
	entries []IHaveEntry
}

type fakeTransport struct {
	mu     sync.Mutex
	gossip []struct {
		peer p2pcore.PeerID
		g    Gossip
	}
	ihave []sentIHave
	graft []struct {
		peer  p2pcore.PeerID
		topic string
		id    MessageID
	}
	prune []struct {
		peer  p2pcore.PeerID
		topic string
	}
}

func (f *fakeTransport) SendGossip(peer p2pcore.PeerID, g Gossip) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gossip = append(f.gossip, struct {
		peer p2pcore.PeerID
		g    Gossip
	}{peer, g})
}

func (f *fakeTransport) SendIHave(peer p2pcore.PeerID, entries []IHaveEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ihave = append(f.ihave, sentIHave{peer, entries})
}

func (f *fakeTransport) SendGraft(peer p2pcore.PeerID, topic string, id MessageID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graft = append(f.graft, struct {
		peer  p2pcore.PeerID
		topic string
		id    MessageID
	}{peer, topic, id})
}

func (f *fakeTransport) SendPrune(peer p2pcore.PeerID, topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prune = append(f.prune, struct {
		peer  p2pcore.PeerID
		topic string
	}{peer, topic})
}

func (f *fakeTransport) gossipPeers() []p2pcore.PeerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []p2pcore.PeerID
	for _, g := range f.gossip {
		out = append(out, g.peer)
	}
	return out
}

func containsPeer(peers []p2pcore.PeerID, target p2pcore.PeerID) bool {
	for _, p := range peers {
		if p == target {
			return true
		}
	}
	return false
}

// TestFanOut_S4 implements spec scenario S4: a publish on a topic with
// three connected eager peers fans out to all three.
func TestFanOut_S4(t *testing.T) {
	tr := &fakeTransport{}
	r := NewRouter("A", DefaultOptions(), tr, nil, nil)
	r.Subscribe("topic")
	r.HandlePeerConnected("B")
	r.HandlePeerConnected("C")
	r.HandlePeerConnected("D")

	r.RegisterPublished("topic", []byte("payload"))

	peers := tr.gossipPeers()
	if len(peers) != 3 {
		t.Fatalf("expected fan-out to 3 peers, got %d (%v)", len(peers), peers)
	}
	for _, want := range []p2pcore.PeerID{"B", "C", "D"} {
		if !containsPeer(peers, want) {
			t.Fatalf("expected gossip sent to %s, peers=%v", want, peers)
		}
	}
}

// TestDuplicatePrune_S5 implements spec scenario S5: receiving the same
// message a second time over an eager link demotes that peer to lazy and
// sends it a PRUNE.
func TestDuplicatePrune_S5(t *testing.T) {
	tr := &fakeTransport{}
	r := NewRouter("A", DefaultOptions(), tr, nil, nil)
	r.Subscribe("topic")
	r.HandlePeerConnected("B")
	r.HandlePeerConnected("C")

	g := Gossip{ID: NewMessageID(), Topic: "topic", Origin: "B", Data: []byte("x")}
	if !r.HandleGossip("B", g) {
		t.Fatal("expected first delivery to be newly seen")
	}

	eager, lazy := r.TopicPeers("topic")
	if !containsPeer(eager, "C") {
		t.Fatalf("expected C still eager after first delivery, eager=%v", eager)
	}
	_ = lazy

	if r.HandleGossip("C", g) {
		t.Fatal("expected duplicate delivery to report not-newly-seen")
	}

	eager, lazy = r.TopicPeers("topic")
	if containsPeer(eager, "C") {
		t.Fatalf("expected C demoted out of eager set, eager=%v", eager)
	}
	if !containsPeer(lazy, "C") {
		t.Fatalf("expected C moved to lazy set, lazy=%v", lazy)
	}

	tr.mu.Lock()
	prunes := append([]struct {
		peer  p2pcore.PeerID
		topic string
	}{}, tr.prune...)
	tr.mu.Unlock()
	if len(prunes) != 1 || prunes[0].peer != "C" {
		t.Fatalf("expected a single prune sent to C, got %v", prunes)
	}
}

func TestHandleIHave_TimeoutTriggersGraft(t *testing.T) {
	tr := &fakeTransport{}
	opts := DefaultOptions()
	opts.IHaveTimeout = 20 * time.Millisecond
	r := NewRouter("A", opts, tr, nil, nil)
	r.Subscribe("topic")
	r.HandlePeerConnected("B")
	r.HandlePrune("B", "topic") // demote B to lazy, as if it had already pruned us

	id := NewMessageID()
	r.HandleIHave("B", []IHaveEntry{{Topic: "topic", ID: id}})

	deadline := time.After(2 * time.Second)
	for {
		tr.mu.Lock()
		n := len(tr.graft)
		tr.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for graft after ihave timeout")
		case <-time.After(5 * time.Millisecond):
		}
	}

	eager, _ := r.TopicPeers("topic")
	if !containsPeer(eager, "B") {
		t.Fatalf("expected B promoted to eager after graft, eager=%v", eager)
	}
}

func TestHandleIHave_SeenMessageDoesNotSchedule(t *testing.T) {
	tr := &fakeTransport{}
	opts := DefaultOptions()
	opts.IHaveTimeout = 10 * time.Millisecond
	r := NewRouter("A", opts, tr, nil, nil)
	r.Subscribe("topic")
	r.HandlePeerConnected("B")

	g := Gossip{ID: NewMessageID(), Topic: "topic", Origin: "A", Data: []byte("x")}
	r.seen.Add(g.ID, time.Now())

	r.HandleIHave("B", []IHaveEntry{{Topic: "topic", ID: g.ID}})
	time.Sleep(50 * time.Millisecond)

	tr.mu.Lock()
	n := len(tr.graft)
	tr.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no graft for an already-seen message, got %d", n)
	}
}

func TestHandleGraft_ResendsStoredMessage(t *testing.T) {
	tr := &fakeTransport{}
	r := NewRouter("A", DefaultOptions(), tr, nil, nil)
	r.Subscribe("topic")

	g := r.RegisterPublished("topic", []byte("payload"))
	r.HandleGraft("B", "topic", g.ID)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	found := false
	for _, sent := range tr.gossip {
		if sent.peer == "B" && sent.g.ID == g.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected graft to trigger a direct resend of the stored message")
	}
}

func TestHandlePeerDisconnected_RemovesFromAllTopics(t *testing.T) {
	tr := &fakeTransport{}
	r := NewRouter("A", DefaultOptions(), tr, nil, nil)
	r.Subscribe("t1")
	r.Subscribe("t2")
	r.HandlePeerConnected("B")

	r.HandlePeerDisconnected("B")

	for _, topic := range []string{"t1", "t2"} {
		eager, lazy := r.TopicPeers(topic)
		if containsPeer(eager, "B") || containsPeer(lazy, "B") {
			t.Fatalf("expected B fully removed from topic %s", topic)
		}
	}
}
