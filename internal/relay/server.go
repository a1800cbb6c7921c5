package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/record"
	"github.com/multiformats/go-multiaddr"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// RelayServerLimits bounds the resources a relay server will commit to
// reservations and circuits, per spec §6 production defaults.
type RelayServerLimits struct {
	MaxReservations     int
	MaxCircuits         int
	MaxCircuitsPerPeer  int
	ReservationDuration time.Duration
	Circuit             CircuitLimit
	ACL                 func(peer p2pcore.PeerID) bool
}

// DefaultRelayServerLimits returns the production defaults.
func DefaultRelayServerLimits() RelayServerLimits {
	return RelayServerLimits{
		MaxReservations:     p2pcore.DefaultMaxReservations,
		MaxCircuits:         p2pcore.DefaultMaxCircuits,
		MaxCircuitsPerPeer:  p2pcore.DefaultMaxCircuitsPerPeer,
		ReservationDuration: p2pcore.DefaultReservationDuration,
		Circuit:             DefaultCircuitLimit(),
	}
}

// RelayServer implements the relay half of Circuit Relay v2: granting
// reservations and joining HOP/STOP streams into live circuits.
type RelayServer struct {
	host       p2pcore.StreamOpener
	handlers   p2pcore.HandlerRegistry
	self       p2pcore.PeerID
	signingKey crypto.PrivKey
	selfAddrs  func() []multiaddr.Multiaddr
	limits     RelayServerLimits
	events     *p2pcore.Broadcaster
	log        *slog.Logger

	mu           sync.Mutex
	reservations map[p2pcore.PeerID]*ServerReservation
	circuits     map[CircuitID]*ActiveCircuit
}

// NewRelayServer wires a RelayServer over host, registering its HOP
// handler with handlers.
func NewRelayServer(
	host p2pcore.StreamOpener,
	handlers p2pcore.HandlerRegistry,
	self p2pcore.PeerID,
	signingKey crypto.PrivKey,
	selfAddrs func() []multiaddr.Multiaddr,
	limits RelayServerLimits,
	events *p2pcore.Broadcaster,
) *RelayServer {
	s := &RelayServer{
		host:         host,
		handlers:     handlers,
		self:         self,
		signingKey:   signingKey,
		selfAddrs:    selfAddrs,
		limits:       limits,
		events:       events,
		log:          slog.Default().With("component", "relay.server"),
		reservations: make(map[p2pcore.PeerID]*ServerReservation),
		circuits:     make(map[CircuitID]*ActiveCircuit),
	}
	if handlers != nil {
		handlers.Handle(p2pcore.ProtocolHOP, s.handleHop)
	}
	return s
}

func (s *RelayServer) handleHop(stream p2pcore.MuxedStream) {
	defer stream.Close()
	req, err := readHop(stream)
	if err != nil {
		return
	}
	switch req.Type {
	case HopReserve:
		s.handleReserve(stream, req)
	case HopConnect:
		s.handleConnect(stream, req)
	default:
		writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusUnexpectedMessage})
	}
}

func (s *RelayServer) handleReserve(stream p2pcore.MuxedStream, _ *HopMessage) {
	peer := stream.RemotePeer()

	if s.limits.ACL != nil && !s.limits.ACL(peer) {
		writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusPermissionDenied})
		s.emit(p2pcore.EventReservationDenied, peer)
		return
	}

	s.mu.Lock()
	if _, exists := s.reservations[peer]; !exists && len(s.reservations) >= s.limits.MaxReservations {
		s.mu.Unlock()
		writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusReservationRefused})
		s.emit(p2pcore.EventReservationDenied, peer)
		return
	}
	expire := time.Now().Add(s.limits.ReservationDuration)
	s.reservations[peer] = &ServerReservation{Peer: peer, Expiration: expire}
	s.mu.Unlock()

	rsvpInfo := s.buildReservationInfo(peer, expire)
	limit := s.limits.Circuit
	if err := writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusOK, Reservation: rsvpInfo, Limit: limit.toWire()}); err != nil {
		s.mu.Lock()
		delete(s.reservations, peer)
		s.mu.Unlock()
		return
	}
	s.emit(p2pcore.EventReservationCreated, peer, "expires", expire)
}

func (s *RelayServer) buildReservationInfo(peer p2pcore.PeerID, expire time.Time) *ReservationInfo {
	info := &ReservationInfo{Expire: uint64(expire.Unix())}

	if s.selfAddrs != nil {
		comp, err := multiaddr.NewComponent("p2p", string(s.self))
		if err == nil {
			for _, a := range s.selfAddrs() {
				info.Addrs = append(info.Addrs, a.Encapsulate(comp).Bytes())
			}
		}
	}

	if s.signingKey != nil {
		voucher := &ReservationVoucher{Relay: s.self, Peer: peer, Expiration: expire}
		envelope, err := record.Seal(voucher, s.signingKey)
		if err == nil {
			if blob, err := envelope.Marshal(); err == nil {
				info.Voucher = blob
			}
		}
	}
	return info
}

func (s *RelayServer) handleConnect(stream p2pcore.MuxedStream, req *HopMessage) {
	src := stream.RemotePeer()
	if req.Peer == nil {
		writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusMalformedMessage})
		return
	}
	target := p2pcore.PeerID(req.Peer.ID)

	s.mu.Lock()
	rsvp, ok := s.reservations[target]
	if !ok || rsvp.Expired(time.Now()) {
		s.mu.Unlock()
		writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusNoReservation})
		return
	}
	if rsvp.CircuitCount >= s.limits.MaxCircuitsPerPeer || len(s.circuits) >= s.limits.MaxCircuits {
		s.mu.Unlock()
		writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusResourceLimitExceeded})
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopStream, err := s.host.NewStream(ctx, target, p2pcore.ProtocolSTOP)
	if err != nil {
		writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusConnectionFailed})
		s.emit(p2pcore.EventCircuitFailed, target, "reason", "dial_failed")
		return
	}

	limit := s.limits.Circuit
	if err := writeStop(stopStream, &StopMessage{Type: StopConnect, Peer: &PeerInfo{ID: []byte(src)}, Limit: limit.toWire()}); err != nil {
		stopStream.Close()
		writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusConnectionFailed})
		return
	}
	stopResp, err := readStop(stopStream)
	if err != nil || stopResp.Type != StopStatus || stopResp.Status != StatusOK {
		stopStream.Close()
		writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusConnectionFailed})
		s.emit(p2pcore.EventCircuitFailed, target, "reason", "target_refused")
		return
	}

	if err := writeHop(stream, &HopMessage{Type: HopStatus, Status: StatusOK, Limit: limit.toWire()}); err != nil {
		stopStream.Close()
		return
	}

	id := NewCircuitID()
	s.mu.Lock()
	rsvp.CircuitCount++
	s.circuits[id] = &ActiveCircuit{ID: id, Src: src, Dst: target, Limit: limit, StartedAt: time.Now()}
	s.mu.Unlock()

	s.emit(p2pcore.EventCircuitEstablished, target, "source", src, "circuit", string(id))

	go s.relayData(id, rsvp, stream, stopStream, limit)
}

func (s *RelayServer) relayData(id CircuitID, rsvp *ServerReservation, client, target p2pcore.MuxedStream, limit CircuitLimit) {
	defer func() {
		s.mu.Lock()
		delete(s.circuits, id)
		rsvp.CircuitCount--
		s.mu.Unlock()
		s.emit(p2pcore.EventCircuitCompleted, rsvp.Peer, "circuit", string(id))
	}()
	report := RelayBoth(client, target, limit)
	s.mu.Lock()
	if c, ok := s.circuits[id]; ok {
		c.BytesMoved = report.TotalBytes
	}
	s.mu.Unlock()
}

func (s *RelayServer) emit(kind p2pcore.EventKind, peer p2pcore.PeerID, kv ...any) {
	if s.events == nil {
		return
	}
	attrs := map[string]any{"peer": peer}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			attrs[k] = kv[i+1]
		}
	}
	s.events.EmitKind(kind, attrs)
}

// ActiveReservations returns the number of currently held reservations,
// for metrics and diagnostics.
func (s *RelayServer) ActiveReservations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

// ActiveCircuits returns the number of currently open circuits.
func (s *RelayServer) ActiveCircuits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.circuits)
}

// ExpireReservations drops reservations past their expiration, returning
// how many were removed. Intended to be called periodically.
func (s *RelayServer) ExpireReservations(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for peer, r := range s.reservations {
		if r.Expired(now) {
			delete(s.reservations, peer)
			n++
		}
	}
	return n
}
