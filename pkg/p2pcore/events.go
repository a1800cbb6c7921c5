package p2pcore

import "sync"

// EventKind enumerates the observability events emitted by the core per
// spec §6. The core never blocks on event delivery — Broadcaster fans out
// to subscribers over buffered channels and drops an event for a slow
// subscriber rather than stalling a protocol handler, matching the
// teacher's "no suspension inside the critical section" rule applied to
// its own event.Bus usage in peermanager.go's eventLoop.
type EventKind string

const (
	// Connection events.
	EventConnected           EventKind = "connected"
	EventDisconnected        EventKind = "disconnected"
	EventReconnecting        EventKind = "reconnecting"
	EventReconnected         EventKind = "reconnected"
	EventReconnectionFailed  EventKind = "reconnectionFailed"
	EventTrimmedWithContext  EventKind = "trimmedWithContext"
	EventTrimConstrained     EventKind = "trimConstrained"
	EventHealthCheckFailed   EventKind = "healthCheckFailed"
	EventGated               EventKind = "gated"

	// Relay events.
	EventReservationCreated  EventKind = "reservationCreated"
	EventReservationFailed   EventKind = "reservationFailed"
	EventReservationAccepted EventKind = "reservationAccepted"
	EventReservationDenied   EventKind = "reservationDenied"
	EventReservationExpired  EventKind = "reservationExpired"
	EventCircuitEstablished  EventKind = "circuitEstablished"
	EventCircuitOpened       EventKind = "circuitOpened"
	EventCircuitCompleted    EventKind = "circuitCompleted"
	EventCircuitFailed       EventKind = "circuitFailed"

	// Plumtree events.
	EventMessageReceived    EventKind = "messageReceived"
	EventMessagePublished   EventKind = "messagePublished"
	EventMessageDuplicate   EventKind = "messageDuplicate"
	EventPeerAddedToEager   EventKind = "peerAddedToEager"
	EventPeerMovedToLazy    EventKind = "peerMovedToLazy"
	EventGraftSent          EventKind = "graftSent"
	EventGraftReceived      EventKind = "graftReceived"
	EventPruneSent          EventKind = "pruneSent"
	EventPruneReceived      EventKind = "pruneReceived"
	EventIHaveTimeout       EventKind = "ihaveTimeout"
	EventPeerConnected      EventKind = "peerConnected"
	EventPeerDisconnected   EventKind = "peerDisconnected"
)

// Event is a single observability event with a free-form attribute map.
// Components populate Attrs with whatever spec §4's per-event fields call
// for (rank, tagCount, idleDuration, bytes, reason, ...); Attrs keeps the
// broadcaster itself decoupled from any one component's event shape.
type Event struct {
	Kind  EventKind
	Attrs map[string]any
}

// Broadcaster is a multi-consumer event fan-out, per the Design Notes'
// "multi-consumer broadcast" pattern for protocol events. Connection
// events could equally use a single-consumer channel; a Broadcaster with
// one subscriber behaves identically, so components share this one type.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster constructs an empty event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered channel of future events and a cancel
// function that unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Emit delivers ev to every current subscriber. A subscriber whose buffer
// is full does not block the emitter; the event is dropped for that
// subscriber only.
func (b *Broadcaster) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// EmitKind is a convenience wrapper for the common case of an event with
// no attributes, or attributes built inline.
func (b *Broadcaster) EmitKind(kind EventKind, attrs map[string]any) {
	b.Emit(Event{Kind: kind, Attrs: attrs})
}
