package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// AcceptPolicy decides whether an inbound STOP connect request from a
// given source peer, forwarded by a given relay, should be accepted.
type AcceptPolicy func(relay, src p2pcore.PeerID) bool

// AllowAllStops is the permissive default AcceptPolicy.
func AllowAllStops(p2pcore.PeerID, p2pcore.PeerID) bool { return true }

// RelayClient implements the client half of Circuit Relay v2: reserving
// slots at relays, dialing peers through a relay's HOP protocol, and
// accepting circuits relayed to this host via the STOP protocol.
type RelayClient struct {
	host     p2pcore.StreamOpener
	handlers p2pcore.HandlerRegistry
	self     p2pcore.PeerID
	events   *p2pcore.Broadcaster
	log      *slog.Logger
	accept   AcceptPolicy
	registry *ListenerRegistry

	mu           sync.Mutex
	reservations map[p2pcore.PeerID]*Reservation
}

// NewRelayClient wires a RelayClient over host, registering its STOP
// handler with handlers so relays can deliver inbound circuits.
func NewRelayClient(host p2pcore.StreamOpener, handlers p2pcore.HandlerRegistry, self p2pcore.PeerID, events *p2pcore.Broadcaster, accept AcceptPolicy) *RelayClient {
	if accept == nil {
		accept = AllowAllStops
	}
	c := &RelayClient{
		host:         host,
		handlers:     handlers,
		self:         self,
		events:       events,
		log:          slog.Default().With("component", "relay.client"),
		accept:       accept,
		registry:     NewListenerRegistry(),
		reservations: make(map[p2pcore.PeerID]*Reservation),
	}
	if handlers != nil {
		handlers.Handle(p2pcore.ProtocolSTOP, c.handleStop)
	}
	return c
}

// Listen registers a listener for inbound circuits forwarded by relay.
// Passing the empty PeerID registers the wildcard listener that accepts
// circuits from any relay lacking a more specific registration.
func (c *RelayClient) Listen(relay p2pcore.PeerID, backlog int) *Listener {
	l := NewListener(relay, backlog)
	c.registry.Register(relay, l)
	return l
}

// Reserve asks relay for a reservation, returning the granted slot or an
// error describing why the relay refused.
func (c *RelayClient) Reserve(ctx context.Context, relay p2pcore.PeerID) (*Reservation, error) {
	stream, err := c.host.NewStream(ctx, relay, p2pcore.ProtocolHOP)
	if err != nil {
		return nil, fmt.Errorf("relay: open hop stream to %s: %w", relay, err)
	}
	defer stream.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(dl)
	}

	if err := writeHop(stream, &HopMessage{Type: HopReserve}); err != nil {
		return nil, fmt.Errorf("relay: send reserve: %w", err)
	}
	resp, err := readHop(stream)
	if err != nil {
		return nil, fmt.Errorf("relay: read reserve response: %w", err)
	}
	if resp.Type != HopStatus || resp.Status != StatusOK {
		c.emit(p2pcore.EventReservationFailed, relay, "status", resp.Status)
		return nil, fmt.Errorf("%w: status %d", p2pcore.ErrReservationFailed, resp.Status)
	}
	if resp.Reservation == nil {
		return nil, fmt.Errorf("%w: missing reservation body", p2pcore.ErrReservationFailed)
	}

	r := &Reservation{
		Relay:      relay,
		Expiration: time.Unix(int64(resp.Reservation.Expire), 0),
		Voucher:    resp.Reservation.Voucher,
	}
	for _, a := range resp.Reservation.Addrs {
		r.Addrs = append(r.Addrs, rawMultiaddr(a))
	}

	c.mu.Lock()
	c.reservations[relay] = r
	c.mu.Unlock()

	c.emit(p2pcore.EventReservationCreated, relay, "expires", r.Expiration)
	return r, nil
}

// Reservation returns the currently held reservation at relay, if any.
func (c *RelayClient) Reservation(relay p2pcore.PeerID) (*Reservation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reservations[relay]
	return r, ok
}

// ConnectThrough dials target through relay's HOP protocol, returning a
// data-plane handle over the established circuit once the relay confirms
// it has joined both legs.
func (c *RelayClient) ConnectThrough(ctx context.Context, relay, target p2pcore.PeerID) (*RelayedConnection, error) {
	stream, err := c.host.NewStream(ctx, relay, p2pcore.ProtocolHOP)
	if err != nil {
		return nil, fmt.Errorf("relay: open hop stream to %s: %w", relay, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(dl)
	}

	req := &HopMessage{
		Type: HopConnect,
		Peer: &PeerInfo{ID: []byte(target)},
	}
	if err := writeHop(stream, req); err != nil {
		stream.Close()
		return nil, fmt.Errorf("relay: send connect: %w", err)
	}
	resp, err := readHop(stream)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("relay: read connect response: %w", err)
	}
	if resp.Type != HopStatus || resp.Status != StatusOK {
		stream.Close()
		c.emit(p2pcore.EventCircuitFailed, relay, "target", target, "status", resp.Status)
		return nil, fmt.Errorf("%w: status %d", p2pcore.ErrConnectionFailed, resp.Status)
	}

	limit := circuitLimitFromWire(resp.Limit)
	conn := NewRelayedConnection(NewCircuitID(), c.self, target, stream, limit, time.Now())
	c.emit(p2pcore.EventCircuitEstablished, relay, "target", target)
	return conn, nil
}

// handleStop serves the STOP side: a relay has opened this stream to
// deliver an inbound circuit from relay on behalf of a source peer.
func (c *RelayClient) handleStop(stream p2pcore.MuxedStream) {
	defer func() {
		// each rejection path below closes the stream itself; on
		// acceptance ownership transfers to the delivered RelayedConnection.
	}()

	relay := stream.RemotePeer()
	req, err := readStop(stream)
	if err != nil {
		stream.Close()
		return
	}
	if req.Type != StopConnect || req.Peer == nil {
		writeStop(stream, &StopMessage{Type: StopStatus, Status: StatusMalformedMessage})
		stream.Close()
		return
	}
	src := p2pcore.PeerID(req.Peer.ID)

	if !c.accept(relay, src) {
		writeStop(stream, &StopMessage{Type: StopStatus, Status: StatusPermissionDenied})
		stream.Close()
		return
	}

	l, ok := c.registry.Resolve(relay)
	if !ok {
		writeStop(stream, &StopMessage{Type: StopStatus, Status: StatusPermissionDenied})
		stream.Close()
		return
	}

	limit := circuitLimitFromWire(req.Limit)
	if limit == (CircuitLimit{}) {
		limit = DefaultCircuitLimit()
	}
	if err := writeStop(stream, &StopMessage{Type: StopStatus, Status: StatusOK, Limit: limit.toWire()}); err != nil {
		stream.Close()
		return
	}

	conn := NewRelayedConnection(NewCircuitID(), c.self, src, stream, limit, time.Now())
	if err := l.Deliver(conn); err != nil {
		conn.Close()
		return
	}
	c.emit(p2pcore.EventCircuitOpened, relay, "source", src)
}

func (c *RelayClient) emit(kind p2pcore.EventKind, relay p2pcore.PeerID, kv ...any) {
	if c.events == nil {
		return
	}
	attrs := map[string]any{"relay": relay}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			attrs[k] = kv[i+1]
		}
	}
	c.events.EmitKind(kind, attrs)
}

// rawMultiaddr wraps an opaque address byte string as a Multiaddr. The
// collaborator's real Multiaddr implementation (e.g. go-multiaddr) is
// expected to round-trip through Bytes(); here we only need a value that
// satisfies the interface for bookkeeping and logging.
type rawMultiaddr []byte

func (r rawMultiaddr) Bytes() []byte  { return r }
func (r rawMultiaddr) String() string { return fmt.Sprintf("%x", []byte(r)) }
func (r rawMultiaddr) HasIPOrDNS() bool { return false }
