package pool

import (
	"testing"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

func TestGater_DefaultsAllowEverything(t *testing.T) {
	g := NewGater()
	if !g.InterceptDial("A", stubAddr("a")) {
		t.Fatal("expected default dial intercept to allow")
	}
	if !g.InterceptAccept(stubAddr("a")) {
		t.Fatal("expected default accept intercept to allow")
	}
	if !g.InterceptSecured("A", p2pcore.DirInbound) {
		t.Fatal("expected default secured intercept to allow")
	}
}

func TestGater_OutboundAlwaysAllowedAtSecured(t *testing.T) {
	g := NewGater()
	g.AllowSecured = func(p2pcore.PeerID, p2pcore.Direction) bool { return false }
	if !g.InterceptSecured("A", p2pcore.DirOutbound) {
		t.Fatal("expected outbound secured connections to always be allowed")
	}
	if g.InterceptSecured("A", p2pcore.DirInbound) {
		t.Fatal("expected inbound secured connection to be denied by predicate")
	}
}

func TestGater_DecisionCallback(t *testing.T) {
	g := NewGater()
	g.AllowSecured = func(p2pcore.PeerID, p2pcore.Direction) bool { return false }

	var gotPeer p2pcore.PeerID
	var gotStage string
	var gotAllow bool
	g.SetDecisionCallback(func(peer p2pcore.PeerID, stage string, allow bool) {
		gotPeer, gotStage, gotAllow = peer, stage, allow
	})

	g.InterceptSecured("A", p2pcore.DirInbound)
	if gotPeer != "A" || gotStage != "secured" || gotAllow {
		t.Fatalf("unexpected callback values: peer=%v stage=%v allow=%v", gotPeer, gotStage, gotAllow)
	}
}
