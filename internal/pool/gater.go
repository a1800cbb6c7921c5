package pool

import (
	"log/slog"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// DecisionFunc is invoked on every gating decision with the peer and the
// stage that produced it, for metrics/audit wiring — mirrors
// internal/auth/gater.go's AuthDecisionFunc, generalized to cover all
// three stages instead of just the secured one.
type DecisionFunc func(peer p2pcore.PeerID, stage string, allow bool)

// Gater implements p2pcore.ConnectionGater as the three-stage filter
// described in spec §6, adapted from internal/auth/gater.go's
// AuthorizedPeerGater. Unlike that source, which hardcodes an
// authorized-peers allow-list plus a pairing-specific probation mode,
// this Gater delegates each stage to a caller-supplied predicate — the
// pool owns the mechanism (three independent checkpoints, never
// suspending), not any particular allow-list policy.
type Gater struct {
	AllowDial    func(peer p2pcore.PeerID, addr p2pcore.Multiaddr) bool
	AllowAccept  func(addr p2pcore.Multiaddr) bool
	AllowSecured func(peer p2pcore.PeerID, dir p2pcore.Direction) bool

	onDecision DecisionFunc
	log        *slog.Logger
}

// NewGater constructs a Gater. Any nil predicate defaults to "allow",
// matching internal/auth/gater.go's InterceptPeerDial/InterceptAddrDial,
// which always return true for outbound stages.
func NewGater() *Gater {
	return &Gater{log: slog.With("component", "gater")}
}

// SetDecisionCallback installs a hook invoked on every decision, used by
// the observability layer without creating a circular dependency.
func (g *Gater) SetDecisionCallback(fn DecisionFunc) { g.onDecision = fn }

func (g *Gater) InterceptDial(peer p2pcore.PeerID, addr p2pcore.Multiaddr) bool {
	allow := g.AllowDial == nil || g.AllowDial(peer, addr)
	g.report(peer, "dial", allow)
	return allow
}

func (g *Gater) InterceptAccept(addr p2pcore.Multiaddr) bool {
	allow := g.AllowAccept == nil || g.AllowAccept(addr)
	g.report("", "accept", allow)
	return allow
}

// InterceptSecured is the primary authorization checkpoint, per
// internal/auth/gater.go's comment on its own InterceptSecured — the
// peer identity is only trustworthy once the secure channel is
// established.
func (g *Gater) InterceptSecured(peer p2pcore.PeerID, dir p2pcore.Direction) bool {
	if dir != p2pcore.DirInbound {
		return true
	}
	allow := g.AllowSecured == nil || g.AllowSecured(peer, dir)
	g.report(peer, "secured", allow)
	return allow
}

func (g *Gater) report(peer p2pcore.PeerID, stage string, allow bool) {
	if allow {
		g.log.Debug("connection allowed", "peer", peer.String(), "stage", stage)
	} else {
		g.log.Warn("connection denied", "peer", peer.String(), "stage", stage)
	}
	if g.onDecision != nil {
		g.onDecision(peer, stage, allow)
	}
}
