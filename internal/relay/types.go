package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// CircuitID uniquely names an active relayed circuit for the lifetime of
// the process.
type CircuitID string

// NewCircuitID mints a fresh, random circuit identifier.
func NewCircuitID() CircuitID {
	return CircuitID(uuid.NewString())
}

// CircuitLimit bounds a single relayed circuit's lifetime and data volume.
// A zero Duration or Data means "unset" — no bound of that kind applies.
type CircuitLimit struct {
	Duration time.Duration
	Data     uint64
}

// DefaultCircuitLimit returns the production default per spec §6.
func DefaultCircuitLimit() CircuitLimit {
	return CircuitLimit{
		Duration: p2pcore.DefaultCircuitDuration,
		Data:     p2pcore.DefaultCircuitDataLimit,
	}
}

func (l CircuitLimit) toWire() *Limit {
	wl := &Limit{}
	if l.Duration > 0 {
		d := uint32(l.Duration / time.Second)
		wl.Duration = &d
	}
	if l.Data > 0 {
		data := l.Data
		wl.Data = &data
	}
	return wl
}

func circuitLimitFromWire(wl *Limit) CircuitLimit {
	var l CircuitLimit
	if wl == nil {
		return l
	}
	if wl.Duration != nil {
		l.Duration = time.Duration(*wl.Duration) * time.Second
	}
	if wl.Data != nil {
		l.Data = *wl.Data
	}
	return l
}

// Reservation is the client-side view of a reservation held at a relay:
// the relay's identity, the addresses it advertises reachability through,
// the instant the reservation lapses, and an optional signed voucher the
// relay issued to vouch for the reservation to third parties.
type Reservation struct {
	Relay      p2pcore.PeerID
	Addrs      []p2pcore.Multiaddr
	Expiration time.Time
	Voucher    []byte
}

// Expired reports whether the reservation has lapsed as of now. Per spec
// §3 invariant, expiration uses strict less-than: a reservation is valid
// at the instant equal to its expiration and expired strictly after.
func (r Reservation) Expired(now time.Time) bool {
	return now.After(r.Expiration)
}

// ServerReservation is the relay-side bookkeeping record for a
// reservation it has granted to a client.
type ServerReservation struct {
	Peer       p2pcore.PeerID
	Addrs      []p2pcore.Multiaddr
	Expiration time.Time
	Voucher    []byte

	// CircuitCount tracks the number of circuits currently open through
	// this reservation, for the per-peer circuit cap.
	CircuitCount int
}

func (r ServerReservation) Expired(now time.Time) bool {
	return now.After(r.Expiration)
}

// ActiveCircuit is the relay-side bookkeeping record for a circuit it is
// currently relaying data through.
type ActiveCircuit struct {
	ID         CircuitID
	Src        p2pcore.PeerID
	Dst        p2pcore.PeerID
	Limit      CircuitLimit
	StartedAt  time.Time
	BytesMoved uint64
}

// RelayedConnection is a net.Conn-shaped handle over one end of a circuit:
// it wraps this peer's muxed stream to the relay, which joins it to the
// other peer's leg. It enforces the circuit's
// CircuitLimit on both duration and cumulative bytes.
type RelayedConnection struct {
	mu sync.Mutex

	id        CircuitID
	local     p2pcore.PeerID
	remote    p2pcore.PeerID
	stream    p2pcore.MuxedStream
	limit     CircuitLimit
	startedAt time.Time

	bytesRead    uint64
	bytesWritten uint64
	closed       bool
}

// NewRelayedConnection wraps stream as a limit-enforcing relayed circuit
// handle.
func NewRelayedConnection(id CircuitID, local, remote p2pcore.PeerID, stream p2pcore.MuxedStream, limit CircuitLimit, startedAt time.Time) *RelayedConnection {
	return &RelayedConnection{
		id:        id,
		local:     local,
		remote:    remote,
		stream:    stream,
		limit:     limit,
		startedAt: startedAt,
	}
}

// ID returns the circuit's identifier.
func (c *RelayedConnection) ID() CircuitID { return c.id }

// RemotePeer returns the peer this circuit terminates at.
func (c *RelayedConnection) RemotePeer() p2pcore.PeerID { return c.remote }

// Limit returns the circuit's negotiated resource limits, per spec §9's
// S6 scenario: both legs of a relayed circuit carry the relay's
// configured CircuitLimit, propagated over HOP/STOP rather than assumed
// to be the default.
func (c *RelayedConnection) Limit() CircuitLimit { return c.limit }

// Expired reports whether the circuit's duration limit has elapsed.
func (c *RelayedConnection) Expired(now time.Time) bool {
	if c.limit.Duration <= 0 {
		return false
	}
	return now.After(c.startedAt.Add(c.limit.Duration))
}

// checkDataLimit reports whether adding n more bytes to the running total
// would exceed the circuit's data limit. A limit of 0 means unbounded.
func (c *RelayedConnection) checkDataLimit(additional uint64) bool {
	if c.limit.Data == 0 {
		return true
	}
	return c.bytesRead+c.bytesWritten+additional <= c.limit.Data
}

// Read reads from the circuit, failing once the duration limit has
// elapsed or the data limit would be exceeded by even a single
// additional byte.
func (c *RelayedConnection) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, p2pcore.ErrCircuitClosed
	}
	if c.Expired(time.Now()) {
		c.mu.Unlock()
		return 0, p2pcore.ErrLimitExceeded
	}
	if !c.checkDataLimit(1) {
		c.mu.Unlock()
		return 0, p2pcore.ErrLimitExceeded
	}
	c.mu.Unlock()

	n, err := c.stream.Read(p)
	c.mu.Lock()
	c.bytesRead += uint64(n)
	c.mu.Unlock()
	return n, err
}

// Write writes to the circuit, failing before any bytes are written once
// the duration limit has elapsed or the data limit would be exceeded by
// the whole write.
func (c *RelayedConnection) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, p2pcore.ErrCircuitClosed
	}
	if c.Expired(time.Now()) {
		c.mu.Unlock()
		return 0, p2pcore.ErrLimitExceeded
	}
	if !c.checkDataLimit(uint64(len(p))) {
		c.mu.Unlock()
		return 0, p2pcore.ErrLimitExceeded
	}
	c.mu.Unlock()

	n, err := c.stream.Write(p)
	c.mu.Lock()
	c.bytesWritten += uint64(n)
	c.mu.Unlock()
	return n, err
}

// Close closes the underlying stream, idempotently.
func (c *RelayedConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.stream.Close()
}

// BytesMoved returns the running total of bytes relayed in either
// direction.
func (c *RelayedConnection) BytesMoved() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesRead + c.bytesWritten
}
