package p2pcore

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/network"
	corepeer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

func TestMaddr_HasIPOrDNS(t *testing.T) {
	ip, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	if err != nil {
		t.Fatalf("parse ip multiaddr: %v", err)
	}
	if !(maddr{ip}).HasIPOrDNS() {
		t.Fatal("expected an /ip4 address to report HasIPOrDNS")
	}

	circuit, err := ma.NewMultiaddr("/p2p-circuit")
	if err != nil {
		t.Fatalf("parse circuit multiaddr: %v", err)
	}
	if (maddr{circuit}).HasIPOrDNS() {
		t.Fatal("expected a bare /p2p-circuit address to report no IP/DNS component")
	}

	dns, err := ma.NewMultiaddr("/dns4/example.com/tcp/4001")
	if err != nil {
		t.Fatalf("parse dns multiaddr: %v", err)
	}
	if !(maddr{dns}).HasIPOrDNS() {
		t.Fatal("expected a /dns4 address to report HasIPOrDNS")
	}
}

type fakeGater struct {
	dialPeer, dialAddr string
	acceptAddr         string
	securedPeer        string
	securedDir         Direction
	allow              bool
}

func (f *fakeGater) InterceptDial(peer PeerID, addr Multiaddr) bool {
	f.dialPeer = peer.String()
	f.dialAddr = addr.String()
	return f.allow
}

func (f *fakeGater) InterceptAccept(addr Multiaddr) bool {
	f.acceptAddr = addr.String()
	return f.allow
}

func (f *fakeGater) InterceptSecured(peer PeerID, dir Direction) bool {
	f.securedPeer = peer.String()
	f.securedDir = dir
	return f.allow
}

// fakeConnMultiaddrs satisfies network.ConnMultiaddrs for InterceptAccept.
type fakeConnMultiaddrs struct{ remote ma.Multiaddr }

func (f fakeConnMultiaddrs) LocalMultiaddr() ma.Multiaddr  { return f.remote }
func (f fakeConnMultiaddrs) RemoteMultiaddr() ma.Multiaddr { return f.remote }

func TestGaterAdapter_DelegatesEachStage(t *testing.T) {
	fg := &fakeGater{allow: true}
	ga := &gaterAdapter{g: fg}

	if !ga.InterceptPeerDial(corepeer.ID("")) {
		t.Fatal("InterceptPeerDial must always allow")
	}

	addr, _ := ma.NewMultiaddr("/ip4/10.0.0.1/tcp/4001")
	if !ga.InterceptAddrDial(corepeer.ID("peer-A"), addr) {
		t.Fatal("expected dial to be allowed")
	}
	if fg.dialPeer != "peer-A" || fg.dialAddr != addr.String() {
		t.Fatalf("unexpected delegated dial args: %+v", fg)
	}

	if !ga.InterceptAccept(fakeConnMultiaddrs{remote: addr}) {
		t.Fatal("expected accept to be allowed")
	}
	if fg.acceptAddr != addr.String() {
		t.Fatalf("unexpected delegated accept addr: %s", fg.acceptAddr)
	}

	if !ga.InterceptSecured(network.DirInbound, corepeer.ID("peer-B"), fakeConnMultiaddrs{remote: addr}) {
		t.Fatal("expected secured to be allowed")
	}
	if fg.securedPeer != "peer-B" || fg.securedDir != DirInbound {
		t.Fatalf("unexpected delegated secured args: %+v", fg)
	}

	allow, reason := ga.InterceptUpgraded(nil)
	if !allow || reason != 0 {
		t.Fatalf("expected InterceptUpgraded to always allow with reason 0, got allow=%v reason=%v", allow, reason)
	}

	fg.allow = false
	if ga.InterceptAddrDial(corepeer.ID("peer-C"), addr) {
		t.Fatal("expected dial to be denied when gater returns false")
	}
}
