package plumtree

import (
	"fmt"

	"github.com/shurlinet/p2pcore/internal/wireutil"
	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

func peerIDFromBytes(b []byte) p2pcore.PeerID {
	return p2pcore.PeerID(append([]byte(nil), b...))
}

// RPCKind discriminates a PlumtreeRPC's payload, per spec §4.12.
type RPCKind int32

const (
	RPCGossip RPCKind = 0
	RPCIHave  RPCKind = 1
	RPCGraft  RPCKind = 2
	RPCPrune  RPCKind = 3
)

const (
	fieldRPCKind    = 1
	fieldRPCTopic   = 2
	fieldRPCGossip  = 3
	fieldRPCIHaves  = 4
	fieldRPCGraftID = 5

	fieldGossipID     = 1
	fieldGossipOrigin = 2
	fieldGossipHops   = 3
	fieldGossipData   = 4

	fieldIHaveTopic = 1
	fieldIHaveID    = 2
)

// RPC is the wire envelope for one Plumtree protocol message.
type RPC struct {
	Kind    RPCKind
	Topic   string
	Gossip  *Gossip
	IHaves  []IHaveEntry
	GraftID MessageID
}

func encodeGossip(g *Gossip) []byte {
	var buf []byte
	buf = wireutil.AppendStringField(buf, fieldGossipID, string(g.ID))
	buf = wireutil.AppendStringField(buf, fieldGossipOrigin, string(g.Origin))
	buf = wireutil.AppendVarintField(buf, fieldGossipHops, uint64(g.Hops))
	buf = wireutil.AppendBytesField(buf, fieldGossipData, g.Data)
	return buf
}

func decodeGossip(raw []byte) (*Gossip, error) {
	d := wireutil.NewDecoder(raw)
	g := &Gossip{}
	for !d.Done() {
		field, wt, err := d.NextTag()
		if err != nil {
			return nil, err
		}
		switch field {
		case fieldGossipID:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			g.ID = MessageID(b)
		case fieldGossipOrigin:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			g.Origin = peerIDFromBytes(b)
		case fieldGossipHops:
			v, err := d.ReadVarint()
			if err != nil {
				return nil, err
			}
			g.Hops = uint32(v)
		case fieldGossipData:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			g.Data = append([]byte(nil), b...)
		default:
			if err := d.SkipField(wt); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func encodeIHaveEntry(e IHaveEntry) []byte {
	var buf []byte
	buf = wireutil.AppendStringField(buf, fieldIHaveTopic, e.Topic)
	buf = wireutil.AppendStringField(buf, fieldIHaveID, string(e.ID))
	return buf
}

func decodeIHaveEntry(raw []byte) (IHaveEntry, error) {
	d := wireutil.NewDecoder(raw)
	var e IHaveEntry
	for !d.Done() {
		field, wt, err := d.NextTag()
		if err != nil {
			return e, err
		}
		switch field {
		case fieldIHaveTopic:
			b, err := d.ReadBytes()
			if err != nil {
				return e, err
			}
			e.Topic = string(b)
		case fieldIHaveID:
			b, err := d.ReadBytes()
			if err != nil {
				return e, err
			}
			e.ID = MessageID(b)
		default:
			if err := d.SkipField(wt); err != nil {
				return e, err
			}
		}
	}
	return e, nil
}

// Encode serializes an RPC.
func Encode(m *RPC) []byte {
	var buf []byte
	buf = wireutil.AppendVarintField(buf, fieldRPCKind, uint64(m.Kind))
	if m.Topic != "" {
		buf = wireutil.AppendStringField(buf, fieldRPCTopic, m.Topic)
	}
	if m.Gossip != nil {
		buf = wireutil.AppendBytesField(buf, fieldRPCGossip, encodeGossip(m.Gossip))
	}
	for _, e := range m.IHaves {
		buf = wireutil.AppendBytesField(buf, fieldRPCIHaves, encodeIHaveEntry(e))
	}
	if m.GraftID != "" {
		buf = wireutil.AppendStringField(buf, fieldRPCGraftID, string(m.GraftID))
	}
	return buf
}

// Decode deserializes an RPC, skipping unknown fields.
func Decode(raw []byte) (*RPC, error) {
	d := wireutil.NewDecoder(raw)
	m := &RPC{}
	for !d.Done() {
		field, wt, err := d.NextTag()
		if err != nil {
			return nil, err
		}
		switch field {
		case fieldRPCKind:
			v, err := d.ReadVarint()
			if err != nil {
				return nil, err
			}
			m.Kind = RPCKind(v)
		case fieldRPCTopic:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			m.Topic = string(b)
		case fieldRPCGossip:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			g, err := decodeGossip(b)
			if err != nil {
				return nil, fmt.Errorf("plumtree: decode gossip: %w", err)
			}
			m.Gossip = g
		case fieldRPCIHaves:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			e, err := decodeIHaveEntry(b)
			if err != nil {
				return nil, fmt.Errorf("plumtree: decode ihave entry: %w", err)
			}
			m.IHaves = append(m.IHaves, e)
		case fieldRPCGraftID:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			m.GraftID = MessageID(b)
		default:
			if err := d.SkipField(wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}
