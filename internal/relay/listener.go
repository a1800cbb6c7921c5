package relay

import (
	"context"
	"sync"
	"weak"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// defaultListenerKey is the registry key for the wildcard listener that
// accepts inbound circuits regardless of which relay forwarded them.
const defaultListenerKey = p2pcore.PeerID("")

// Listener accepts inbound relayed circuits delivered by a RelayClient's
// STOP handler. Each accepted circuit is buffered until a caller invokes
// Accept; a full backlog causes new circuits to be refused rather than
// blocking the STOP handler goroutine.
type Listener struct {
	relay   p2pcore.PeerID
	backlog chan *RelayedConnection
	done    chan struct{}
	once    sync.Once
}

// NewListener allocates a listener with the given backlog capacity.
func NewListener(relay p2pcore.PeerID, backlog int) *Listener {
	if backlog <= 0 {
		backlog = 1
	}
	return &Listener{
		relay:   relay,
		backlog: make(chan *RelayedConnection, backlog),
		done:    make(chan struct{}),
	}
}

// Deliver hands a freshly accepted circuit to the listener. It returns
// ErrListenerClosed if the listener has been closed, or an error if the
// backlog is full.
func (l *Listener) Deliver(conn *RelayedConnection) error {
	select {
	case <-l.done:
		return ErrListenerClosed
	default:
	}
	select {
	case l.backlog <- conn:
		return nil
	default:
		return ErrTooManyCircuits
	}
}

// Accept blocks until a circuit is available, ctx is canceled, or the
// listener is closed.
func (l *Listener) Accept(ctx context.Context) (*RelayedConnection, error) {
	select {
	case conn := <-l.backlog:
		return conn, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the listener from accepting further circuits. Idempotent.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// ListenerRegistry resolves inbound STOP circuits to the listener that
// should receive them, keyed by the relay peer that forwarded the
// circuit, falling back to a wildcard listener registered under the
// empty peer ID. The registry holds only weak handles to each Listener,
// so it never keeps one alive on its own; once a caller drops its last
// strong reference to a Listener (whether or not it called Close first)
// the handle goes dead, and the stale entry is compacted away the next
// time a lookup happens to visit that key.
type ListenerRegistry struct {
	mu        sync.Mutex
	listeners map[p2pcore.PeerID]weak.Pointer[Listener]
}

// NewListenerRegistry constructs an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{listeners: make(map[p2pcore.PeerID]weak.Pointer[Listener])}
}

// Register installs l as the listener for circuits forwarded by relay.
// Pass the empty PeerID to register the wildcard listener. The caller
// retains ownership of l; the registry only ever holds a weak handle.
func (r *ListenerRegistry) Register(relay p2pcore.PeerID, l *Listener) {
	r.mu.Lock()
	r.listeners[relay] = weak.Make(l)
	r.mu.Unlock()
}

// Unregister removes the listener registered for relay, if any.
func (r *ListenerRegistry) Unregister(relay p2pcore.PeerID) {
	r.mu.Lock()
	delete(r.listeners, relay)
	r.mu.Unlock()
}

// Resolve finds the listener that should receive a circuit forwarded by
// relay: a relay-specific listener takes priority, falling back to the
// wildcard listener registered under the empty peer ID. Either lookup
// lazily compacts its entry out of the map if the weak handle has gone
// dead.
func (r *ListenerRegistry) Resolve(relay p2pcore.PeerID) (*Listener, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.resolveLocked(relay); ok {
		return l, true
	}
	if l, ok := r.resolveLocked(defaultListenerKey); ok {
		return l, true
	}
	return nil, false
}

func (r *ListenerRegistry) resolveLocked(key p2pcore.PeerID) (*Listener, bool) {
	wp, ok := r.listeners[key]
	if !ok {
		return nil, false
	}
	l := wp.Value()
	if l == nil {
		delete(r.listeners, key)
		return nil, false
	}
	return l, true
}
