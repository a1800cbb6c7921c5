package p2pcore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	corepeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/libp2p/go-msgio"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	pingRequest  = "ping\n"
	pingResponse = "pong\n"
)

// NodeConfig configures a Node's underlying libp2p host. Identity is the
// only required field; with no ListenAddrs no listen-address option is
// passed to libp2p, and the other fields default to the same permissive
// behavior the teacher's Network.New uses when its corresponding option is
// left unset.
type NodeConfig struct {
	Identity    crypto.PrivKey
	ListenAddrs []string
	Gater       ConnectionGater // optional; nil means no gating
	Logger      *slog.Logger    // optional; defaults to slog.Default()
}

// Node wires a real go-libp2p host as the concrete realization of the
// StreamOpener, HandlerRegistry, PingProvider, PeerStore and
// ConnectionGater collaborator interfaces that internal/pool,
// internal/relay and internal/plumtree depend on. It is the only package
// in the module that imports a concrete libp2p transport stack;
// internal/pool, internal/relay and internal/plumtree reach the network
// only through the interfaces in interfaces.go.
//
// Grounded on pkg/p2pnet/network.go's Network: same transport set (TCP +
// QUIC), same libp2p.Option assembly pattern, same Identity/Close/Host
// shape.
type Node struct {
	host host.Host
	self PeerID
	log  *slog.Logger
}

// NewNode constructs a Node from cfg. The returned Node owns the
// underlying host; callers must call Close.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("p2pcore: NewNode requires an Identity key")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	opts := []libp2p.Option{
		libp2p.Identity(cfg.Identity),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
	}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}
	if cfg.Gater != nil {
		opts = append(opts, libp2p.ConnectionGater(&gaterAdapter{g: cfg.Gater}))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("p2pcore: create libp2p host: %w", err)
	}

	n := &Node{
		host: h,
		self: PeerID(h.ID()),
		log:  log.With("component", "node", "peer", h.ID().String()),
	}
	h.SetStreamHandler(protocol.ID(ProtocolPing), n.handlePing)
	return n, nil
}

// handlePing answers a single ping\n with pong\n and closes the stream,
// matching pkg/p2pnet/ping.go's doPing client side exactly.
func (n *Node) handlePing(s network.Stream) {
	defer s.Close()
	buf := make([]byte, len(pingRequest))
	if _, err := io.ReadFull(s, buf); err != nil {
		return
	}
	if string(buf) != pingRequest {
		return
	}
	_, _ = s.Write([]byte(pingResponse))
}

// Host returns the underlying libp2p host, for callers that need direct
// access beyond the collaborator interfaces (e.g. to register
// bootstrappers or print listen addresses).
func (n *Node) Host() host.Host { return n.host }

// ID returns this node's own PeerID.
func (n *Node) ID() PeerID { return n.self }

// Addrs returns this node's own listen addresses as go-multiaddr values.
// Used to build relay reservation address sets.
func (n *Node) Addrs() []ma.Multiaddr { return n.host.Addrs() }

// NewStream implements StreamOpener.
func (n *Node) NewStream(ctx context.Context, to PeerID, proto string) (MuxedStream, error) {
	s, err := n.host.NewStream(ctx, corepeer.ID(to), protocol.ID(proto))
	if err != nil {
		return nil, fmt.Errorf("p2pcore: open stream to %s/%s: %w", to, proto, err)
	}
	return newMuxedStream(s), nil
}

// Handle implements HandlerRegistry.
func (n *Node) Handle(proto string, handler func(MuxedStream)) {
	n.host.SetStreamHandler(protocol.ID(proto), func(s network.Stream) {
		handler(newMuxedStream(s))
	})
}

// RemoveHandler implements HandlerRegistry.
func (n *Node) RemoveHandler(proto string) {
	n.host.RemoveStreamHandler(protocol.ID(proto))
}

// Ping implements PingProvider over the node's own ping\n/pong\n exchange
// on ProtocolPing, grounded directly on pkg/p2pnet/ping.go's doPing: open
// a stream, write the request, measure time to the matching response,
// close.
func (n *Node) Ping(ctx context.Context, peer PeerID) (time.Duration, error) {
	s, err := n.host.NewStream(ctx, corepeer.ID(peer), protocol.ID(ProtocolPing))
	if err != nil {
		return 0, fmt.Errorf("p2pcore: ping stream to %s: %w", peer, err)
	}
	defer s.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	start := time.Now()
	if _, err := s.Write([]byte(pingRequest)); err != nil {
		return 0, fmt.Errorf("p2pcore: ping write to %s: %w", peer, err)
	}
	buf := make([]byte, len(pingResponse))
	if _, err := io.ReadFull(s, buf); err != nil {
		return 0, fmt.Errorf("p2pcore: ping read from %s: %w", peer, err)
	}
	if string(buf) != pingResponse {
		return 0, fmt.Errorf("p2pcore: ping %s: unexpected response %q", peer, buf)
	}
	return time.Since(start), nil
}

// AddrsForPeer implements PeerStore, reading addresses the host has
// already learned about (e.g. via identify) for peer.
func (n *Node) AddrsForPeer(peer PeerID) []Multiaddr {
	infos := n.host.Peerstore().Addrs(corepeer.ID(peer))
	out := make([]Multiaddr, 0, len(infos))
	for _, a := range infos {
		out = append(out, maddr{a})
	}
	return out
}

// RememberAddrs records addrs for peer with the given TTL, used after a
// successful relay reservation so future dials can find the relayed
// route.
func (n *Node) RememberAddrs(peer PeerID, addrs []ma.Multiaddr, ttl time.Duration) {
	n.host.Peerstore().AddAddrs(corepeer.ID(peer), addrs, ttl)
}

// Connect dials peer directly, bypassing the connection pool's own
// dial-dedup bookkeeping (the pool calls this as the underlying dial
// primitive behind a pendingDial entry).
func (n *Node) Connect(ctx context.Context, peer PeerID, addrs []ma.Multiaddr) error {
	return n.host.Connect(ctx, corepeer.AddrInfo{ID: corepeer.ID(peer), Addrs: addrs})
}

// Close shuts down the underlying host.
func (n *Node) Close() error { return n.host.Close() }

// maddr adapts a concrete multiaddr.Multiaddr to the core Multiaddr
// interface.
type maddr struct{ ma.Multiaddr }

func (m maddr) Bytes() []byte  { return m.Multiaddr.Bytes() }
func (m maddr) String() string { return m.Multiaddr.String() }

// HasIPOrDNS reports whether the address carries a routable IP or DNS
// component, as opposed to being e.g. a bare /p2p-circuit address.
func (m maddr) HasIPOrDNS() bool {
	for _, proto := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6, ma.P_DNSADDR} {
		if _, err := m.Multiaddr.ValueForProtocol(proto); err == nil {
			return true
		}
	}
	return false
}

// muxedStream adapts a network.Stream to MuxedStream, framing
// ReadMessage/WriteMessage with go-msgio's varint length-prefix codec.
// internal/relay and internal/plumtree only call ReadMessage/WriteMessage
// and never handle the prefix themselves, so their wire codecs run
// unchanged over this host or over the in-memory test stream in
// internal/relay, which frames with a 4-byte big-endian length instead.
type muxedStream struct {
	stream network.Stream
	mr     msgio.ReadCloser
	mw     msgio.WriteCloser
}

func newMuxedStream(s network.Stream) *muxedStream {
	return &muxedStream{
		stream: s,
		mr:     msgio.NewVarintReaderSize(s, maxFrameSize),
		mw:     msgio.NewVarintWriter(s),
	}
}

// maxFrameSize bounds the varint reader's internal allocation; callers of
// ReadMessage still enforce their own (typically smaller) maxSize on top.
const maxFrameSize = 16 * 1024 * 1024

func (s *muxedStream) Read(p []byte) (int, error)  { return s.stream.Read(p) }
func (s *muxedStream) Write(p []byte) (int, error) { return s.stream.Write(p) }
func (s *muxedStream) Close() error                { return s.stream.Close() }
func (s *muxedStream) CloseWrite() error           { return s.stream.CloseWrite() }
func (s *muxedStream) RemotePeer() PeerID          { return PeerID(s.stream.Conn().RemotePeer()) }
func (s *muxedStream) SetDeadline(t time.Time) error {
	return s.stream.SetDeadline(t)
}

func (s *muxedStream) ReadMessage(maxSize int) ([]byte, error) {
	b, err := s.mr.ReadMsg()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("p2pcore: read message: %w", err)
	}
	if len(b) > maxSize {
		s.mr.ReleaseMsg(b)
		return nil, ErrMessageTooLarge
	}
	return b, nil
}

func (s *muxedStream) WriteMessage(b []byte) error {
	if err := s.mw.WriteMsg(b); err != nil {
		return fmt.Errorf("p2pcore: write message: %w", err)
	}
	return nil
}

// gaterAdapter bridges a p2pcore.ConnectionGater to go-libp2p's
// core/connmgr.ConnectionGater, which the host calls directly at each of
// its five checkpoints. Only three of those checkpoints carry meaning for
// the abstract three-stage gate described in spec §6; InterceptPeerDial
// and InterceptUpgraded always allow, matching the teacher's
// AuthorizedPeerGater (internal/auth/gater.go), which also only gates at
// the secured stage.
type gaterAdapter struct{ g ConnectionGater }

var _ connmgr.ConnectionGater = (*gaterAdapter)(nil)

func (a *gaterAdapter) InterceptPeerDial(p corepeer.ID) bool { return true }

func (a *gaterAdapter) InterceptAddrDial(p corepeer.ID, addr ma.Multiaddr) bool {
	return a.g.InterceptDial(PeerID(p), maddr{addr})
}

func (a *gaterAdapter) InterceptAccept(cma network.ConnMultiaddrs) bool {
	return a.g.InterceptAccept(maddr{cma.RemoteMultiaddr()})
}

func (a *gaterAdapter) InterceptSecured(dir network.Direction, p corepeer.ID, _ network.ConnMultiaddrs) bool {
	d := DirInbound
	if dir == network.DirOutbound {
		d = DirOutbound
	}
	return a.g.InterceptSecured(PeerID(p), d)
}

func (a *gaterAdapter) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}

// PermanentAddrTTL re-exports core/peerstore's TTL constant so callers
// wiring RememberAddrs after a relay reservation don't need their own
// import of core/peerstore just to pick a TTL.
const PermanentAddrTTL = peerstore.PermanentAddrTTL
