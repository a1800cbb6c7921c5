package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/multiformats/go-multiaddr"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

func noAddrs() []multiaddr.Multiaddr { return nil }

// TestReserveAndRoute_S6 implements scenario S6 from the spec: a source
// peer reserves nothing itself, but a target peer reserves a slot at a
// relay; the source then dials the target through the relay's HOP
// protocol, the relay forwards a STOP request to the target, and once
// both sides confirm, data written on one end of the circuit arrives on
// the other.
func TestReserveAndRoute_S6(t *testing.T) {
	const (
		relayID  = p2pcore.PeerID("R")
		targetID = p2pcore.PeerID("T")
		sourceID = p2pcore.PeerID("S")
	)

	net := newFakeNetwork()

	signingKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("generate relay signing key: %v", err)
	}

	// A non-default circuit limit, to prove it actually propagates over
	// HOP/STOP rather than each leg silently falling back to defaults.
	serverLimits := DefaultRelayServerLimits()
	wantLimit := CircuitLimit{Duration: 45 * time.Second, Data: 2048}
	serverLimits.Circuit = wantLimit

	relayEvents := p2pcore.NewBroadcaster()
	server := NewRelayServer(
		net.openerFor(relayID),
		net.registryFor(relayID),
		relayID,
		signingKey,
		noAddrs,
		serverLimits,
		relayEvents,
	)
	_ = server

	targetEvents := p2pcore.NewBroadcaster()
	targetClient := NewRelayClient(net.openerFor(targetID), net.registryFor(targetID), targetID, targetEvents, AllowAllStops)
	listener := targetClient.Listen(relayID, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rsvp, err := targetClient.Reserve(ctx, relayID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if rsvp.Relay != relayID {
		t.Fatalf("expected reservation relay %q, got %q", relayID, rsvp.Relay)
	}
	if len(rsvp.Voucher) == 0 {
		t.Fatal("expected a sealed voucher in the reservation")
	}

	sourceEvents := p2pcore.NewBroadcaster()
	sourceClient := NewRelayClient(net.openerFor(sourceID), net.registryFor(sourceID), sourceID, sourceEvents, AllowAllStops)

	sourceConn, err := sourceClient.ConnectThrough(ctx, relayID, targetID)
	if err != nil {
		t.Fatalf("connect through: %v", err)
	}
	defer sourceConn.Close()

	var targetConn *RelayedConnection
	select {
	case targetConn = <-listenerAccept(t, listener, ctx):
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for target to receive circuit")
	}
	defer targetConn.Close()

	if sourceConn.Limit() != wantLimit {
		t.Fatalf("source leg limit = %+v, want %+v", sourceConn.Limit(), wantLimit)
	}
	if targetConn.Limit() != wantLimit {
		t.Fatalf("target leg limit = %+v, want %+v", targetConn.Limit(), wantLimit)
	}

	payload := []byte("hello through the relay")
	if _, err := sourceConn.Write(payload); err != nil {
		t.Fatalf("write from source: %v", err)
	}

	got := make([]byte, len(payload))
	if _, err := readFull(targetConn, got); err != nil {
		t.Fatalf("read at target: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func listenerAccept(t *testing.T, l *Listener, ctx context.Context) <-chan *RelayedConnection {
	t.Helper()
	ch := make(chan *RelayedConnection, 1)
	go func() {
		conn, err := l.Accept(ctx)
		if err != nil {
			close(ch)
			return
		}
		ch <- conn
	}()
	return ch
}

func readFull(c *RelayedConnection, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestReservation_ExpiredIsStrict(t *testing.T) {
	now := time.Now()
	r := Reservation{Expiration: now}
	if r.Expired(now) {
		t.Fatal("reservation should not be expired at exactly its expiration instant")
	}
	if !r.Expired(now.Add(time.Nanosecond)) {
		t.Fatal("reservation should be expired one nanosecond past expiration")
	}
}

func TestRelayedConnection_WriteExceedingLimitByOneByteFails(t *testing.T) {
	a, b := newPipePair("A", "B")
	defer b.Close()
	go io.Copy(io.Discard, b)
	limit := CircuitLimit{Data: 4}
	conn := NewRelayedConnection(NewCircuitID(), "A", "B", a, limit, time.Now())
	defer conn.Close()

	if _, err := conn.Write([]byte("abcd")); err != nil {
		t.Fatalf("expected exactly-at-limit write to succeed, got %v", err)
	}
	if _, err := conn.Write([]byte("e")); err != p2pcore.ErrLimitExceeded {
		t.Fatalf("expected ErrLimitExceeded for one byte over limit, got %v", err)
	}
}

// TestRelayedConnection_ExpiredDurationFailsReadsAndWrites covers §4.7's
// checkLimits duration check: once the circuit has outlived its
// duration limit, Read and Write must fail even though the data limit
// was never touched.
func TestRelayedConnection_ExpiredDurationFailsReadsAndWrites(t *testing.T) {
	a, b := newPipePair("A", "B")
	defer b.Close()
	go io.Copy(io.Discard, b)
	limit := CircuitLimit{Duration: time.Microsecond}
	conn := NewRelayedConnection(NewCircuitID(), "A", "B", a, limit, time.Now().Add(-time.Second))
	defer conn.Close()

	if _, err := conn.Write([]byte("x")); err != p2pcore.ErrLimitExceeded {
		t.Fatalf("expected ErrLimitExceeded for an expired circuit write, got %v", err)
	}
	if _, err := conn.Read(make([]byte, 1)); err != p2pcore.ErrLimitExceeded {
		t.Fatalf("expected ErrLimitExceeded for an expired circuit read, got %v", err)
	}
}

func TestHopMessage_WireRoundTrip(t *testing.T) {
	dur := uint32(120)
	data := uint64(1024)
	msg := &HopMessage{
		Type: HopConnect,
		Peer: &PeerInfo{ID: []byte("peer-id"), Addrs: [][]byte{[]byte("addr1")}},
		Limit: &Limit{
			Duration: &dur,
			Data:     &data,
		},
		Status: StatusOK,
	}
	raw := EncodeHop(msg)
	decoded, err := DecodeHop(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != HopConnect || decoded.Status != StatusOK {
		t.Fatalf("unexpected decoded message: %+v", decoded)
	}
	if string(decoded.Peer.ID) != "peer-id" || len(decoded.Peer.Addrs) != 1 {
		t.Fatalf("unexpected decoded peer: %+v", decoded.Peer)
	}
	if decoded.Limit == nil || *decoded.Limit.Duration != dur || *decoded.Limit.Data != data {
		t.Fatalf("unexpected decoded limit: %+v", decoded.Limit)
	}
}

func TestStopMessage_WireRoundTrip(t *testing.T) {
	msg := &StopMessage{
		Type:   StopConnect,
		Peer:   &PeerInfo{ID: []byte("src")},
		Status: StatusOK,
	}
	raw := EncodeStop(msg)
	decoded, err := DecodeStop(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != StopConnect || string(decoded.Peer.ID) != "src" {
		t.Fatalf("unexpected decoded message: %+v", decoded)
	}
}

func TestDecodeHop_SkipsUnknownFields(t *testing.T) {
	var buf []byte
	buf = append(buf, EncodeHop(&HopMessage{Type: HopReserve})...)
	// Append a bogus high-numbered varint field that no known case handles.
	buf = append(buf, 0x98, 0x06, 0x07) // field 99, varint wire type, value 7
	raw, err := DecodeHop(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.Type != HopReserve {
		t.Fatalf("unexpected type: %v", raw.Type)
	}
}
