// Package p2pcore defines the small collaborator-interface surface that the
// core components (internal/pool, internal/relay, internal/plumtree) depend
// on instead of depending on a concrete libp2p host. Node, in node.go, wires
// a real go-libp2p host as one realization of these interfaces.
package p2pcore

import (
	"context"
	"time"
)

// StreamOpener opens a new outbound stream to a peer speaking a given
// protocol.
type StreamOpener interface {
	NewStream(ctx context.Context, to PeerID, protocol string) (MuxedStream, error)
}

// HandlerRegistry registers an inbound-stream handler for a protocol ID.
type HandlerRegistry interface {
	Handle(protocol string, handler func(MuxedStream))
	RemoveHandler(protocol string)
}

// MuxedStream is a secured, authenticated, ordered byte stream multiplexed
// over a connection to a single remote peer.
type MuxedStream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	CloseWrite() error
	RemotePeer() PeerID
	SetDeadline(time.Time) error

	// ReadMessage reads one length-prefixed message, failing with
	// ErrMessageTooLarge if the declared length exceeds maxSize.
	ReadMessage(maxSize int) ([]byte, error)
	// WriteMessage writes one length-prefixed message.
	WriteMessage(b []byte) error
}

// PingProvider measures round-trip latency to a peer. May return an error
// (including context deadline/cancellation) instead of a duration.
type PingProvider interface {
	Ping(ctx context.Context, peer PeerID) (time.Duration, error)
}

// Multiaddr is the opaque, self-describing network address type. Only the
// operations relay-address composition needs are exposed here; a concrete
// implementation (e.g. multiformats/go-multiaddr) satisfies this via a thin
// adapter.
type Multiaddr interface {
	Bytes() []byte
	String() string
	// HasIPOrDNS reports whether the address carries a routable IP or DNS
	// component (as opposed to being e.g. a bare /p2p-circuit address).
	HasIPOrDNS() bool
}

// PeerStore resolves addresses known for a peer. Discovery of which
// addresses to store is out of scope; this core only reads.
type PeerStore interface {
	AddrsForPeer(peer PeerID) []Multiaddr
}

// ConnectionGater is the three-stage dial/accept/secured filter described in
// spec §6. Each stage defaults to allow when the corresponding function is
// nil, mirroring the teacher's gater which allows both outbound stages
// unconditionally and gates only on the secured stage.
type ConnectionGater interface {
	InterceptDial(peer PeerID, addr Multiaddr) bool
	InterceptAccept(addr Multiaddr) bool
	InterceptSecured(peer PeerID, dir Direction) bool
}

// Direction of a connection relative to the local node.
type Direction int

const (
	DirUnknown Direction = iota
	DirInbound
	DirOutbound
)

func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// PeerID is a stable identity for a peer, derived from its long-lived
// public key. It is treated as an opaque comparable string by the core;
// Node maps it to/from a concrete libp2p peer.ID at the edges.
type PeerID string

func (p PeerID) String() string { return string(p) }
